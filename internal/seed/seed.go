// Package seed loads demo accounts and a starter catalogue. Every step checks
// for existing rows first, so running it again is harmless.
package seed

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/librarydesk/circulation/internal/models"
	"github.com/librarydesk/circulation/internal/repositories"
	"github.com/librarydesk/circulation/internal/services"
)

type account struct {
	username, password, name string
	role                     models.UserRole
	email, phone             string
}

var accounts = []account{
	{"librarian", "librarian123", "Librarian", models.UserRoleLibrarian, "librarian@example.com", "1234567890"},
	{"john_doe", "password123", "John Doe", models.UserRolePatron, "john@example.com", "11111111111"},
	{"jane_smith", "password123", "Jane Smith", models.UserRolePatron, "jane@example.com", "22222222222"},
	{"alice_wong", "password123", "Alice Wong", models.UserRolePatron, "alice@example.com", "33333333333"},
}

var books = []models.Book{
	{Title: "The Great Gatsby", Author: "F. Scott Fitzgerald", ISBN: "9780743273565", Publisher: "Scribner", PublicationYear: 1925, TotalCopies: 3, Location: "Shelf 3"},
	{Title: "To Kill a Mockingbird", Author: "Harper Lee", ISBN: "9780060935467", Publisher: "J.B. Lippincott & Co.", PublicationYear: 1960, TotalCopies: 2, Location: "Shelf 1"},
	{Title: "1984", Author: "George Orwell", ISBN: "9780451524935", Publisher: "Secker & Warburg", PublicationYear: 1949, TotalCopies: 4, Location: "Shelf 5"},
	{Title: "Pride and Prejudice", Author: "Jane Austen", ISBN: "9780141199078", Publisher: "T. Egerton", PublicationYear: 1813, TotalCopies: 5, Location: "Shelf 2"},
	{Title: "Moby-Dick", Author: "Herman Melville", ISBN: "9780142437247", Publisher: "Richard Bentley", PublicationYear: 1851, TotalCopies: 2, Location: "Shelf 4"},
	{Title: "War and Peace", Author: "Leo Tolstoy", ISBN: "9780199232765", Publisher: "The Russian Messenger", PublicationYear: 1869, TotalCopies: 3, Location: "Shelf 6"},
	{Title: "The Catcher in the Rye", Author: "J.D. Salinger", ISBN: "9780316769488", Publisher: "Little, Brown and Company", PublicationYear: 1951, TotalCopies: 4, Location: "Shelf 7"},
	{Title: "The Hobbit", Author: "J.R.R. Tolkien", ISBN: "9780547928227", Publisher: "George Allen & Unwin", PublicationYear: 1937, TotalCopies: 5, Location: "Shelf 8"},
	{Title: "Brave New World", Author: "Aldous Huxley", ISBN: "9780060850524", Publisher: "Chatto & Windus", PublicationYear: 1932, TotalCopies: 3, Location: "Shelf 9"},
	{Title: "The Lord of the Rings", Author: "J.R.R. Tolkien", ISBN: "9780544003415", Publisher: "George Allen & Unwin", PublicationYear: 1954, TotalCopies: 2, Location: "Shelf 10"},
	{Title: "Jane Eyre", Author: "Charlotte Brontë", ISBN: "9780141441146", Publisher: "Smith, Elder & Co.", PublicationYear: 1847, TotalCopies: 4, Location: "Shelf 11"},
	{Title: "Crime and Punishment", Author: "Fyodor Dostoevsky", ISBN: "9780140449136", Publisher: "The Russian Messenger", PublicationYear: 1866, TotalCopies: 2, Location: "Shelf 13"},
	{Title: "The Brothers Karamazov", Author: "Fyodor Dostoevsky", ISBN: "9780374528379", Publisher: "The Russian Messenger", PublicationYear: 1880, TotalCopies: 3, Location: "Shelf 15"},
	{Title: "Wuthering Heights", Author: "Emily Brontë", ISBN: "9780141439556", Publisher: "Thomas Cautley Newby", PublicationYear: 1847, TotalCopies: 4, Location: "Shelf 16"},
	{Title: "Great Expectations", Author: "Charles Dickens", ISBN: "9780141439563", Publisher: "Chapman & Hall", PublicationYear: 1861, TotalCopies: 2, Location: "Shelf 17"},
}

// sampleLoan is expressed relative to the seeding time.
type sampleLoan struct {
	username string
	isbn     string
	due      time.Duration
	returned bool
}

var loans = []sampleLoan{
	{"john_doe", "9780743273565", 7 * 24 * time.Hour, false},
	{"jane_smith", "9780060935467", -5 * 24 * time.Hour, false},
	{"alice_wong", "9780451524935", -10 * 24 * time.Hour, true},
	{"john_doe", "9780141199078", -3 * 24 * time.Hour, false},
	{"jane_smith", "9780547928227", 10 * 24 * time.Hour, false},
	{"alice_wong", "9780060850524", 5 * 24 * time.Hour, false},
	{"jane_smith", "9780140449136", -2 * 24 * time.Hour, false},
}

// Seeder inserts the demo data.
type Seeder struct {
	DB     *gorm.DB
	Hasher services.PasswordHasher
	Clock  services.Clock
	Log    logrus.FieldLogger
}

// Run seeds users, then books, then loans. Loans are only added to an empty
// loan table and take their copies off the shelf.
func (s *Seeder) Run() error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		userRepo := repositories.NewUserRepository(tx)
		bookRepo := repositories.NewBookRepository(tx)
		loanRepo := repositories.NewLoanRepository(tx)
		fineRepo := repositories.NewFineRepository(tx)

		users := map[string]*models.User{}
		for _, a := range accounts {
			u, err := userRepo.GetByUsername(tx, a.username)
			if err == nil {
				s.Log.Infof("Seed: user %q already exists", a.username)
				users[a.username] = u
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			hash, err := s.Hasher.Hash(a.password)
			if err != nil {
				return err
			}
			u = &models.User{
				Username:     a.username,
				PasswordHash: hash,
				Name:         a.name,
				Role:         a.role,
				Email:        a.email,
				Phone:        a.phone,
			}
			if err := userRepo.Create(tx, u); err != nil {
				return fmt.Errorf("create user %q: %w", a.username, err)
			}
			s.Log.Infof("Seed: user %q created", a.username)
			users[a.username] = u
		}

		created := 0
		for _, b := range books {
			if _, err := bookRepo.GetByISBN(tx, b.ISBN); err == nil {
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			book := b
			book.CopiesAvailable = book.TotalCopies
			if err := bookRepo.Create(tx, &book); err != nil {
				return fmt.Errorf("create book %q: %w", b.Title, err)
			}
			created++
		}
		s.Log.Infof("Seed: %d new books", created)

		var existing int64
		if err := tx.Model(&models.Loan{}).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			s.Log.Info("Seed: loans already present, skipping loans and fines")
			return nil
		}

		now := s.Clock.Now()
		for _, l := range loans {
			book, err := bookRepo.GetByISBN(tx, l.isbn)
			if err != nil {
				return err
			}
			user := users[l.username]
			due := now.Add(l.due)
			loan := &models.Loan{
				UserID:   user.ID,
				BookID:   book.ID,
				LoanDate: due.AddDate(0, 0, -services.LoanPeriodDays),
				DueDate:  due,
			}
			if l.returned {
				returnedAt := now.Add(-2 * 24 * time.Hour)
				loan.ReturnDate = &returnedAt
			} else if ok, err := bookRepo.DecrementAvailable(tx, book.ID); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("no copies left for %q", book.Title)
			}
			if err := loanRepo.Create(tx, loan); err != nil {
				return err
			}

			if l.returned {
				_, amount, overdue := services.CalculateFine(loan.DueDate, *loan.ReturnDate)
				if !overdue {
					continue
				}
				paidAt := now
				fine := &models.Fine{
					UserID:      user.ID,
					LoanID:      &loan.ID,
					Amount:      amount,
					Description: services.OverdueFineDescription(book.Title),
					Paid:        true,
					CreatedAt:   *loan.ReturnDate,
					PaidAt:      &paidAt,
				}
				if err := fineRepo.Create(tx, fine); err != nil {
					return err
				}
			}
		}
		s.Log.Infof("Seed: %d loans created", len(loans))
		return nil
	})
}
