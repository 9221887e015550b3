package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librarydesk/circulation/internal/auth"
	"github.com/librarydesk/circulation/internal/logging"
	"github.com/librarydesk/circulation/internal/models"
	"github.com/librarydesk/circulation/internal/repositories"
	"github.com/librarydesk/circulation/internal/services"
	"github.com/librarydesk/circulation/internal/testutil"
)

type server struct {
	router *gin.Engine
	tokens *auth.Tokens
	clock  *testutil.Clock
}

func newServer(t *testing.T) (*server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	log := logging.Discard()
	hasher := auth.BcryptHasher{Cost: 4}
	tokens := auth.NewTokens("test-secret", time.Hour)

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	reportRepo, err := repositories.NewReportRepository(db)
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestLogger(log))
	RegisterRoutes(router, Deps{
		Library:      services.NewLibraryService(db, clock, log, userRepo, bookRepo, loanRepo, holdRepo, fineRepo),
		Catalog:      services.NewCatalogService(db, log, bookRepo, loanRepo, holdRepo),
		Users:        services.NewUserService(db, log, hasher, tokens, userRepo),
		Reports:      services.NewReportService(clock, log, reportRepo),
		Tokens:       tokens,
		LoginLimiter: NewRateLimiter(100, 100, log),
		Log:          log,
	})

	hash, err := hasher.Hash("librarian123")
	require.NoError(t, err)
	librarian := &models.User{
		Username:     "librarian",
		PasswordHash: hash,
		Name:         "Librarian",
		Role:         models.UserRoleLibrarian,
		Email:        "librarian@example.com",
		Phone:        "1234567890",
	}
	require.NoError(t, db.Create(librarian).Error)
	token, err := tokens.Issue(librarian.ID, librarian.Role)
	require.NoError(t, err)

	return &server{router: router, tokens: tokens, clock: clock}, token
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *server) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": username,
		"password": "password123",
		"name":     "Test Patron",
		"email":    username + "@example.com",
		"phone":    "11111111111",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": username,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session struct {
		Token string `json:"token"`
	}
	decode(t, rec, &session)
	require.NotEmpty(t, session.Token)
	return session.Token
}

func Test_CirculationFlow(t *testing.T) {
	// arrange
	s, librarian := newServer(t)
	patron := s.registerAndLogin(t, "john_doe")

	rec := s.do(t, http.MethodPost, "/api/books", librarian, map[string]interface{}{
		"title":            "Dune",
		"author":           "Frank Herbert",
		"isbn":             "9780441013593",
		"publisher":        "Chilton",
		"publication_year": 1965,
		"total_copies":     1,
		"location":         "Shelf 2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book models.Book
	decode(t, rec, &book)

	// act + assert: borrow
	rec = s.do(t, http.MethodPost, "/api/borrow/"+book.ID.String(), patron, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan models.Loan
	decode(t, rec, &loan)

	rec = s.do(t, http.MethodPost, "/api/borrow/"+book.ID.String(), librarian, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no copies available")

	// return late
	s.clock.Set(loan.DueDate.Add(20 * 24 * time.Hour))
	rec = s.do(t, http.MethodPost, "/api/return/"+loan.ID.String(), patron, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Fine *models.Fine `json:"fine"`
	}
	decode(t, rec, &result)
	require.NotNil(t, result.Fine)
	assert.Equal(t, 10.0, result.Fine.Amount)

	rec = s.do(t, http.MethodPost, "/api/return/"+loan.ID.String(), patron, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// dashboard shows the unpaid fine
	rec = s.do(t, http.MethodGet, "/api/dashboard", patron, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash struct {
		Loans []interface{} `json:"loans"`
		Fines []models.Fine `json:"fines"`
	}
	decode(t, rec, &dash)
	assert.Empty(t, dash.Loans)
	require.Len(t, dash.Fines, 1)

	// pay it
	rec = s.do(t, http.MethodPost, "/api/payfine/"+result.Fine.ID.String(), patron, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/payfine/"+result.Fine.ID.String(), patron, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// report
	rec = s.do(t, http.MethodGet, "/api/reports", patron, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/reports", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report services.Report
	decode(t, rec, &report)
	assert.EqualValues(t, 1, report.TotalBooks)
	assert.EqualValues(t, 1, report.TotalLoans)
	assert.Equal(t, 10.0, report.TotalFines)
	require.Len(t, report.MostPopularBooks, 1)
	assert.Equal(t, "Dune", report.MostPopularBooks[0].Title)
}

func Test_Hold_Conflict(t *testing.T) {
	s, librarian := newServer(t)
	patron := s.registerAndLogin(t, "jane_smith")
	rec := s.do(t, http.MethodPost, "/api/books", librarian, map[string]interface{}{
		"title": "Emma", "author": "Jane Austen", "isbn": "9780141439587",
		"publisher": "John Murray", "publication_year": 1815, "total_copies": 2, "location": "Shelf 4",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book models.Book
	decode(t, rec, &book)

	rec = s.do(t, http.MethodPost, "/api/hold/"+book.ID.String(), patron, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/hold/"+book.ID.String(), patron, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_Authentication(t *testing.T) {
	s, _ := newServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"bad token", "Bearer nonsense"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func Test_Login_WrongPassword(t *testing.T) {
	s, _ := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "librarian", "password": "wrong"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_Register_ValidationErrors(t *testing.T) {
	// arrange
	s, _ := newServer(t)

	// act
	rec := s.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": "jo",
		"password": "password123",
		"name":     "Joe Bloggs",
		"email":    "joe@example.com",
		"phone":    "abc",
	})

	// assert
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error  string              `json:"error"`
		Errors map[string][]string `json:"errors"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Errors, "username")
	assert.Contains(t, body.Errors, "phone")
}

func Test_AddBook_FieldErrors(t *testing.T) {
	s, librarian := newServer(t)
	valid := func() map[string]interface{} {
		return map[string]interface{}{
			"title": "Emma", "author": "Jane Austen", "isbn": "9780141439587",
			"publisher": "John Murray", "publication_year": 1815, "total_copies": 2, "location": "Shelf 4",
		}
	}

	tests := []struct {
		name  string
		edit  func(body map[string]interface{})
		field string
		want  string
	}{
		{"missing publication year", func(b map[string]interface{}) { delete(b, "publication_year") }, "publication_year", "Publication year is required"},
		{"missing total copies", func(b map[string]interface{}) { delete(b, "total_copies") }, "total_copies", "Total copies is required"},
		{"string publication year", func(b map[string]interface{}) { b["publication_year"] = "abc" }, "publication_year", "Not a valid integer"},
		{"numeric title", func(b map[string]interface{}) { b["title"] = 42 }, "title", "Not a valid string"},
		{"isbn too long", func(b map[string]interface{}) { b["isbn"] = strings.Repeat("9", 40) }, "isbn", "ISBN must be at most 20 characters long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// arrange
			body := valid()
			tt.edit(body)

			// act
			rec := s.do(t, http.MethodPost, "/api/books", librarian, body)

			// assert
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var resp struct {
				Error  string              `json:"error"`
				Errors map[string][]string `json:"errors"`
			}
			decode(t, rec, &resp)
			assert.Equal(t, "validation failed", resp.Error)
			assert.Equal(t, []string{tt.want}, resp.Errors[tt.field])
		})
	}

	rec := s.do(t, http.MethodGet, "/api/books", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func Test_MalformedBody(t *testing.T) {
	s, librarian := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+librarian)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
}

func Test_LibrarianRoutes_DenyPatrons(t *testing.T) {
	s, _ := newServer(t)
	patron := s.registerAndLogin(t, "alice_wong")
	missing := "/api/books/00000000-0000-0000-0000-000000000001"

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, missing, patron, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/users", patron, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/books", patron, map[string]string{}).Code)
}

func Test_UserAdmin(t *testing.T) {
	s, librarian := newServer(t)
	s.registerAndLogin(t, "alice_wong")

	rec := s.do(t, http.MethodGet, "/api/users", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []models.User
	decode(t, rec, &users)
	require.Len(t, users, 1)
	assert.NotContains(t, rec.Body.String(), "password")

	path := "/api/users/" + users[0].ID.String()
	rec = s.do(t, http.MethodPut, path, librarian, map[string]string{"name": "Alice W."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodDelete, path, librarian, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, path, librarian, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_InvalidID(t *testing.T) {
	s, librarian := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/borrow/not-a-uuid", librarian, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid book id")
}

func Test_Healthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	for _, tc := range []struct {
		name   string
		health func() error
		want   int
	}{
		{"up", func() error { return nil }, http.StatusOK},
		{"down", func() error { return errors.New("connection refused") }, http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			health := tc.health
			router := gin.New()
			h := &LibraryHandler{health: func(_ context.Context) error { return health() }, log: log}
			router.GET("/healthz", h.healthz)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func Test_RateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(0.001, 2, logging.Discard())
	router := gin.New()
	router.POST("/login", limiter.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func Test_RateLimiter_EvictsIdleClients(t *testing.T) {
	// arrange
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1, logging.Discard())
	limiter.now = func() time.Time { return now }
	limiter.lastSweep = now

	// act + assert
	limiter.limiter("10.0.0.1")
	limiter.limiter("10.0.0.2")
	assert.Equal(t, 2, limiter.size())

	now = now.Add(limiterIdleTTL / 2)
	limiter.limiter("10.0.0.2")
	assert.Equal(t, 2, limiter.size(), "no sweep before the TTL elapses")

	now = now.Add(limiterIdleTTL / 2)
	limiter.limiter("10.0.0.3")
	assert.Equal(t, 2, limiter.size(), "10.0.0.1 idled out, 10.0.0.2 stayed")

	now = now.Add(2 * limiterIdleTTL)
	limiter.limiter("10.0.0.4")
	assert.Equal(t, 1, limiter.size())
}

func Test_statusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&services.ValidationError{}))
	assert.Equal(t, http.StatusNotFound, statusFor(services.ErrBookNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(services.ErrDuplicateLoan))
	assert.Equal(t, http.StatusForbidden, statusFor(services.ErrAccessDenied))
	assert.Equal(t, http.StatusBadRequest, statusFor(services.ErrInvalidFine))
	assert.Equal(t, http.StatusUnauthorized, statusFor(services.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("db down")))
}
