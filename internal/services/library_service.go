package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/librarydesk/circulation/internal/metrics"
	"github.com/librarydesk/circulation/internal/models"
	"github.com/librarydesk/circulation/internal/repositories"
)

// ─── Circulation Constants ────────────────────────────────────────────────────

const (
	// LoanPeriodDays is the number of days a user may keep a book before incurring fines.
	LoanPeriodDays = 14
)

// ─── Views ────────────────────────────────────────────────────────────────────

// LoanView is a loan enriched with the borrowed book's title.
type LoanView struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	BookID     uuid.UUID  `json:"book_id"`
	BookTitle  string     `json:"book_title"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
}

// HoldView is a hold enriched with the book's title.
type HoldView struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	BookID    uuid.UUID `json:"book_id"`
	BookTitle string    `json:"book_title"`
	HoldDate  time.Time `json:"hold_date"`
}

// ReturnResult is the outcome of Return: the closed loan and, when it came
// back late, the fine it produced.
type ReturnResult struct {
	Loan models.Loan  `json:"loan"`
	Fine *models.Fine `json:"fine,omitempty"`
}

// Dashboard is a user's own view of their account.
type Dashboard struct {
	User  models.User   `json:"user"`
	Loans []LoanView    `json:"loans"`
	Holds []HoldView    `json:"holds"`
	Fines []models.Fine `json:"fines"`
}

// ─── Service Interface ────────────────────────────────────────────────────────

// LibraryService covers the circulation operations open to any authenticated
// caller: borrowing, returning, holds and fine payment.
type LibraryService interface {
	Borrow(ctx context.Context, who Identity, bookID uuid.UUID) (*models.Loan, error)
	Return(ctx context.Context, who Identity, loanID uuid.UUID) (*ReturnResult, error)
	PlaceHold(ctx context.Context, who Identity, bookID uuid.UUID) (*models.Hold, error)
	PayFine(ctx context.Context, who Identity, fineID uuid.UUID) (*models.Fine, error)
	Dashboard(ctx context.Context, who Identity) (*Dashboard, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type libraryService struct {
	db       *gorm.DB
	clock    Clock
	log      logrus.FieldLogger
	userRepo repositories.UserRepository
	bookRepo repositories.BookRepository
	loanRepo repositories.LoanRepository
	holdRepo repositories.HoldRepository
	fineRepo repositories.FineRepository
}

// NewLibraryService wires up all dependencies and returns a LibraryService.
func NewLibraryService(
	db *gorm.DB,
	clock Clock,
	log logrus.FieldLogger,
	userRepo repositories.UserRepository,
	bookRepo repositories.BookRepository,
	loanRepo repositories.LoanRepository,
	holdRepo repositories.HoldRepository,
	fineRepo repositories.FineRepository,
) LibraryService {
	return &libraryService{
		db:       db,
		clock:    clock,
		log:      log,
		userRepo: userRepo,
		bookRepo: bookRepo,
		loanRepo: loanRepo,
		holdRepo: holdRepo,
		fineRepo: fineRepo,
	}
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow lends one copy of a book to the caller.
//
// The book row is locked (SELECT … FOR UPDATE) so concurrent borrows of the
// same title serialize on its counter. The decrement itself is guarded by
// copies_available > 0 and the table's CHECK constraint.
func (s *libraryService) Borrow(ctx context.Context, who Identity, bookID uuid.UUID) (*models.Loan, error) {
	userID := who.UserID()
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "book_id": bookID})
	var created *models.Loan

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Validate user exists.
		if _, err := s.userRepo.GetByID(tx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// 2. Lock the book row.
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		// 3. Availability, then the one-open-loan rule.
		if book.CopiesAvailable <= 0 {
			return ErrNoCopiesAvailable
		}
		existing, err := s.loanRepo.FindOpen(tx, userID, bookID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			log.WithField("loan_id", existing.ID).Warn("Borrow: user already has an open loan for this book")
			return ErrDuplicateLoan
		}

		// 4. Take the copy off the shelf.
		ok, err := s.bookRepo.DecrementAvailable(tx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoCopiesAvailable
		}

		// 5. Record the loan.
		now := s.clock.Now()
		loan := &models.Loan{
			UserID:   userID,
			BookID:   bookID,
			LoanDate: now,
			DueDate:  now.AddDate(0, 0, LoanPeriodDays),
		}
		if err := s.loanRepo.Create(tx, loan); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateLoan
			}
			return err
		}
		created = loan
		return nil
	})
	if err != nil {
		if isCheckViolation(err) {
			err = ErrNoCopiesAvailable
		}
		return nil, logFailure(log, "Borrow", err)
	}

	metrics.LoansCreated.Inc()
	log.WithFields(logrus.Fields{
		"loan_id": created.ID,
		"due":     created.DueDate.Format("2006-01-02"),
	}).Info("Borrow: loan created")
	return created, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return closes the caller's loan.
//
// Steps (all in one transaction):
//  1. Lock the Loan row (FOR UPDATE).
//  2. Reject missing, foreign or already-closed loans.
//  3. Set return_date.
//  4. Put the copy back on the shelf.
//  5. If the loan came back after its due date, create the overdue fine.
func (s *libraryService) Return(ctx context.Context, who Identity, loanID uuid.UUID) (*ReturnResult, error) {
	userID := who.UserID()
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "loan_id": loanID})
	var result *ReturnResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loan, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidLoan
			}
			return err
		}
		if loan.UserID != userID || !loan.IsOpen() {
			return ErrInvalidLoan
		}

		book, err := s.bookRepo.GetByIDForUpdate(tx, loan.BookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("loan %s references missing book %s", loan.ID, loan.BookID)
			}
			return err
		}

		now := s.clock.Now()
		closed, err := s.loanRepo.MarkReturned(tx, loan.ID, now)
		if err != nil {
			return err
		}
		if !closed {
			return ErrInvalidLoan
		}
		loan.ReturnDate = &now

		restocked, err := s.bookRepo.IncrementAvailable(tx, book.ID)
		if err != nil {
			return err
		}
		if !restocked {
			return fmt.Errorf("book %s is already at full capacity", book.ID)
		}

		result = &ReturnResult{Loan: *loan}
		if now.After(loan.DueDate) {
			fine, err := s.createOverdueFine(tx, loan, book, now)
			if err != nil {
				return err
			}
			result.Fine = fine
		}
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "Return", err)
	}

	metrics.LoansReturned.Inc()
	entry := log.WithField("book_id", result.Loan.BookID)
	if result.Fine != nil {
		metrics.FinesCreated.Inc()
		entry = entry.WithFields(logrus.Fields{"fine_id": result.Fine.ID, "fine": result.Fine.Amount})
	}
	entry.Info("Return: loan closed")
	return result, nil
}

// ─── Holds ────────────────────────────────────────────────────────────────────

// PlaceHold records the caller's intent to reserve a book. Holds never check
// or affect availability and are never turned into loans.
func (s *libraryService) PlaceHold(ctx context.Context, who Identity, bookID uuid.UUID) (*models.Hold, error) {
	userID := who.UserID()
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "book_id": bookID})
	var created *models.Hold

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetByID(tx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if _, err := s.bookRepo.GetByID(tx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		existing, err := s.holdRepo.GetByUserAndBook(tx, userID, bookID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			return ErrDuplicateHold
		}

		hold := &models.Hold{
			UserID:   userID,
			BookID:   bookID,
			HoldDate: s.clock.Now(),
		}
		if err := s.holdRepo.Create(tx, hold); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateHold
			}
			return err
		}
		created = hold
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "PlaceHold", err)
	}

	metrics.HoldsPlaced.Inc()
	log.WithField("hold_id", created.ID).Info("PlaceHold: hold placed")
	return created, nil
}

// ─── Fines ────────────────────────────────────────────────────────────────────

// PayFine marks one of the caller's fines as paid. Paying twice fails.
func (s *libraryService) PayFine(ctx context.Context, who Identity, fineID uuid.UUID) (*models.Fine, error) {
	userID := who.UserID()
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "fine_id": fineID})
	var paid *models.Fine

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fine, err := s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidFine
			}
			return err
		}
		if fine.UserID != userID || fine.Paid {
			return ErrInvalidFine
		}

		now := s.clock.Now()
		ok, err := s.fineRepo.MarkPaid(tx, fine.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidFine
		}
		fine.Paid = true
		fine.PaidAt = &now
		paid = fine
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "PayFine", err)
	}

	metrics.FinesPaid.Inc()
	metrics.FineAmountPaid.Add(paid.Amount)
	log.WithField("amount", paid.Amount).Info("PayFine: fine paid")
	return paid, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// Dashboard returns the caller's profile with open loans, holds and unpaid fines.
func (s *libraryService) Dashboard(ctx context.Context, who Identity) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	userID := who.UserID()

	user, err := s.userRepo.GetByID(db, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	loans, err := s.loanRepo.ListOpenByUser(db, userID)
	if err != nil {
		return nil, err
	}
	holds, err := s.holdRepo.ListByUser(db, userID)
	if err != nil {
		return nil, err
	}
	fines, err := s.fineRepo.ListUnpaidByUser(db, userID)
	if err != nil {
		return nil, err
	}

	out := &Dashboard{
		User:  *user,
		Loans: make([]LoanView, 0, len(loans)),
		Holds: make([]HoldView, 0, len(holds)),
		Fines: fines,
	}
	if out.Fines == nil {
		out.Fines = []models.Fine{}
	}
	for _, l := range loans {
		out.Loans = append(out.Loans, LoanView{
			ID:         l.ID,
			UserID:     l.UserID,
			BookID:     l.BookID,
			BookTitle:  l.Book.Title,
			LoanDate:   l.LoanDate,
			DueDate:    l.DueDate,
			ReturnDate: l.ReturnDate,
		})
	}
	for _, h := range holds {
		out.Holds = append(out.Holds, HoldView{
			ID:        h.ID,
			UserID:    h.UserID,
			BookID:    h.BookID,
			BookTitle: h.Book.Title,
			HoldDate:  h.HoldDate,
		})
	}
	return out, nil
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// logFailure logs a failed operation at a level matching its kind and counts it.
func logFailure(log logrus.FieldLogger, op string, err error) error {
	kind := KindOf(err)
	metrics.RecordFailure(op, string(kind))
	if kind == KindInternal {
		log.WithError(err).Error(op + ": transaction failed")
	} else {
		log.WithError(err).Warn(op + ": rejected")
	}
	return err
}
