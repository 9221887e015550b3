package services

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/librarydesk/circulation/internal/models"
)

// ─── Overdue Fines ────────────────────────────────────────────────────────────

// FinePerDay is charged for every full day a loan is overdue.
const FinePerDay = 0.5

// CalculateFine computes the overdue fine for a loan returned at returnedAt.
//
// Rules:
//   - No fine      : returnedAt is on or before dueDate (strict comparison).
//   - Days overdue : whole 24h periods between dueDate and returnedAt, rounded down.
//   - Amount       : days overdue × FinePerDay. Less than one full day late is
//     still overdue and yields a fine of 0.
func CalculateFine(dueDate, returnedAt time.Time) (daysOverdue int, amount float64, overdue bool) {
	if !returnedAt.After(dueDate) {
		return 0, 0, false
	}
	daysOverdue = int(returnedAt.Sub(dueDate) / (24 * time.Hour))
	return daysOverdue, float64(daysOverdue) * FinePerDay, true
}

// OverdueFineDescription is the description stored on a late-return fine.
func OverdueFineDescription(title string) string {
	return fmt.Sprintf("Overdue fine for \"%s\"", title)
}

// createOverdueFine records the fine for a late return. It only runs inside
// Return's transaction.
func (s *libraryService) createOverdueFine(tx *gorm.DB, loan *models.Loan, book *models.Book, returnedAt time.Time) (*models.Fine, error) {
	days, amount, overdue := CalculateFine(loan.DueDate, returnedAt)
	if !overdue {
		return nil, nil
	}

	loanID := loan.ID
	fine := &models.Fine{
		UserID:      loan.UserID,
		LoanID:      &loanID,
		Amount:      amount,
		Description: OverdueFineDescription(book.Title),
		Paid:        false,
		CreatedAt:   returnedAt,
	}
	if err := s.fineRepo.Create(tx, fine); err != nil {
		return nil, fmt.Errorf("create overdue fine: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"days_overdue": days,
		"amount":       amount,
	}).Info("CreateOverdueFine: fine recorded")
	return fine, nil
}
