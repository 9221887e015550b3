package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/librarydesk/circulation/internal/logging"
	"github.com/librarydesk/circulation/internal/models"
	"github.com/librarydesk/circulation/internal/repositories"
	"github.com/librarydesk/circulation/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type fakeTokens struct{}

func (fakeTokens) Issue(userID uuid.UUID, role models.UserRole) (string, error) {
	return fmt.Sprintf("%s|%s", role, userID), nil
}

type fixture struct {
	db      *gorm.DB
	clock   *testutil.Clock
	library LibraryService
	catalog CatalogService
	users   UserService
	reports ReportService

	bookRepo repositories.BookRepository
	fineRepo repositories.FineRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	clock := testutil.NewClock(epoch)
	log := logging.Discard()

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	holdRepo := repositories.NewHoldRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	reportRepo, err := repositories.NewReportRepository(db)
	require.NoError(t, err)

	return &fixture{
		db:       db,
		clock:    clock,
		library:  NewLibraryService(db, clock, log, userRepo, bookRepo, loanRepo, holdRepo, fineRepo),
		catalog:  NewCatalogService(db, log, bookRepo, loanRepo, holdRepo),
		users:    NewUserService(db, log, plainHasher{}, fakeTokens{}, userRepo),
		reports:  NewReportService(clock, log, reportRepo),
		bookRepo: bookRepo,
		fineRepo: fineRepo,
	}
}

func (f *fixture) patron(t *testing.T, username string) Patron {
	t.Helper()
	u := &models.User{
		Username:     username,
		PasswordHash: "hashed:password123",
		Name:         username,
		Role:         models.UserRolePatron,
		Email:        username + "@example.com",
		Phone:        "1234567890",
	}
	require.NoError(t, f.db.Create(u).Error)
	return Patron{ID: u.ID}
}

func (f *fixture) librarian(t *testing.T) Librarian {
	t.Helper()
	u := &models.User{
		Username:     "librarian-" + uuid.NewString()[:8],
		PasswordHash: "hashed:librarian123",
		Name:         "Librarian",
		Role:         models.UserRoleLibrarian,
		Email:        "librarian@example.com",
		Phone:        "1234567890",
	}
	require.NoError(t, f.db.Create(u).Error)
	return Librarian{ID: u.ID}
}

func (f *fixture) book(t *testing.T, title string, copies int) *models.Book {
	t.Helper()
	b := &models.Book{
		Title:           title,
		Author:          "Author of " + title,
		ISBN:            uuid.NewString()[:13],
		Publisher:       "Publisher",
		PublicationYear: 1950,
		TotalCopies:     copies,
		CopiesAvailable: copies,
		Location:        "Shelf 1",
	}
	require.NoError(t, f.db.Create(b).Error)
	return b
}

func (f *fixture) available(t *testing.T, bookID uuid.UUID) int {
	t.Helper()
	b, err := f.bookRepo.GetByID(nil, bookID)
	require.NoError(t, err)
	return b.CopiesAvailable
}

func (f *fixture) fineCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Fine{}).Count(&n).Error)
	return n
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
