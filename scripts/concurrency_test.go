//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the Borrow endpoint.
//
// Usage:
//
//	BOOK_ID=<uuid>  USERS=<user1>:<pass1>,<user2>:<pass2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Logs every user in to obtain a bearer token.
//  2. Fires one goroutine per user, all borrowing the same book simultaneously.
//  3. Prints how many borrows succeeded vs. were refused for lack of copies.
//  4. Reads the book back and checks copies_available never went negative.
//
// Prerequisites:
//   - Server must be running with a seeded database.
//   - The book must exist and the users must not already hold an open loan for it.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	Username   string
	StatusCode int
	Body       string
	Err        error
}

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}
	bookID := os.Getenv("BOOK_ID")
	usersEnv := os.Getenv("USERS")
	if bookID == "" || usersEnv == "" {
		log.Fatal("Usage: BOOK_ID=<uuid> USERS=<user:pass,...> go run ./scripts/concurrency_test.go")
	}

	type creds struct{ username, token string }
	var users []creds
	for _, pair := range strings.Split(usersEnv, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			log.Fatalf("bad USERS entry %q, want user:pass", pair)
		}
		token, err := login(serverAddr, parts[0], parts[1])
		if err != nil {
			log.Fatalf("login %s: %v", parts[0], err)
		}
		users = append(users, creds{username: parts[0], token: token})
	}

	fmt.Printf("=== Library Concurrency Test ===\n")
	fmt.Printf("Server : %s\n", serverAddr)
	fmt.Printf("Book   : %s\n", bookID)
	fmt.Printf("Users  : %d\n\n", len(users))

	results := make([]borrowResult, len(users))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, u := range users {
		wg.Add(1)
		go func(idx int, username, token string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, username, token)
		}(i, u.username, u.token)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()
	fmt.Println("All requests completed.")

	var borrowed, refused, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-20s err=%v\n", r.Username, r.Err)
		case r.StatusCode == http.StatusCreated:
			borrowed++
			fmt.Printf("  [LOAN] user=%-20s status=%d\n", r.Username, r.StatusCode)
		case r.StatusCode == http.StatusBadRequest && strings.Contains(r.Body, "no copies available"):
			refused++
			fmt.Printf("  [NONE] user=%-20s status=%d\n", r.Username, r.StatusCode)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-20s status=%d body=%s\n", r.Username, r.StatusCode, r.Body)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Borrowed : %d\n", borrowed)
	fmt.Printf("Refused  : %d\n", refused)
	fmt.Printf("Failures : %d\n", failures)
	fmt.Printf("Total    : %d\n\n", len(users))

	fmt.Println("--- Invariant Check ---")
	available, total, err := fetchBook(serverAddr, bookID, users[0].token)
	if err != nil {
		log.Fatalf("fetch book: %v", err)
	}
	fmt.Printf("copies_available=%d total_copies=%d\n", available, total)
	if available < 0 || available > total {
		fmt.Println("[FAIL] copies_available is out of range")
		os.Exit(1)
	}

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed, check server logs for details.\n", failures)
		os.Exit(1)
	}
}

func login(serverAddr, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(serverAddr+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Token, nil
}

// attemptBorrow sends POST /api/borrow/{bookID} as the given user.
func attemptBorrow(serverAddr, bookID, username, token string) borrowResult {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/borrow/%s", serverAddr, bookID), nil)
	if err != nil {
		return borrowResult{Username: username, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{Username: username, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return borrowResult{Username: username, StatusCode: resp.StatusCode, Body: string(raw)}
}

func fetchBook(serverAddr, bookID, token string) (available, total int, err error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/books/%s", serverAddr, bookID), nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var book struct {
		CopiesAvailable int `json:"copies_available"`
		TotalCopies     int `json:"total_copies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return 0, 0, err
	}
	return book.CopiesAvailable, book.TotalCopies, nil
}
