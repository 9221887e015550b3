package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/librarydesk/circulation/internal/repositories"
)

// PopularBooksLimit is how many titles the report ranks by loan count.
const PopularBooksLimit = 5

type OverdueLoan struct {
	LoanID    uuid.UUID `json:"loan_id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name"`
	BookID    uuid.UUID `json:"book_id"`
	BookTitle string    `json:"book_title"`
	LoanDate  time.Time `json:"loan_date"`
	DueDate   time.Time `json:"due_date"`
}

type UnpaidFine struct {
	FineID      uuid.UUID `json:"fine_id"`
	UserID      uuid.UUID `json:"user_id"`
	UserName    string    `json:"user_name"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
}

type PopularBook struct {
	BookID uuid.UUID `json:"book_id"`
	Title  string    `json:"title"`
	Count  int64     `json:"count"`
}

// Report is a point-in-time summary of circulation. TotalFines only counts
// fines that have been paid.
type Report struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	TotalBooks       int64         `json:"total_books"`
	TotalLoans       int64         `json:"total_loans"`
	TotalFines       float64       `json:"total_fines"`
	OverdueLoans     []OverdueLoan `json:"overdue_loans"`
	UnpaidFines      []UnpaidFine  `json:"unpaid_fines"`
	MostPopularBooks []PopularBook `json:"most_popular_books"`
}

type ReportService interface {
	GenerateReport(ctx context.Context, who Identity) (*Report, error)
}

type reportService struct {
	clock   Clock
	log     logrus.FieldLogger
	reports repositories.ReportRepository
}

func NewReportService(clock Clock, log logrus.FieldLogger, reports repositories.ReportRepository) ReportService {
	return &reportService{clock: clock, log: log, reports: reports}
}

// GenerateReport computes the report from scratch on every call.
func (s *reportService) GenerateReport(ctx context.Context, who Identity) (*Report, error) {
	log := s.log.WithField("user_id", who.UserID())
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(log, "GenerateReport", err)
	}

	now := s.clock.Now()
	snap, err := s.reports.Aggregate(ctx, now, PopularBooksLimit)
	if err != nil {
		return nil, logFailure(log, "GenerateReport", err)
	}

	report := &Report{
		GeneratedAt:      now,
		TotalBooks:       snap.TotalBooks,
		TotalLoans:       snap.TotalLoans,
		TotalFines:       snap.TotalPaidFines,
		OverdueLoans:     make([]OverdueLoan, 0, len(snap.OverdueLoans)),
		UnpaidFines:      make([]UnpaidFine, 0, len(snap.UnpaidFines)),
		MostPopularBooks: make([]PopularBook, 0, len(snap.MostPopularBooks)),
	}
	for _, r := range snap.OverdueLoans {
		report.OverdueLoans = append(report.OverdueLoans, OverdueLoan(r))
	}
	for _, r := range snap.UnpaidFines {
		report.UnpaidFines = append(report.UnpaidFines, UnpaidFine(r))
	}
	for _, r := range snap.MostPopularBooks {
		report.MostPopularBooks = append(report.MostPopularBooks, PopularBook{
			BookID: r.BookID,
			Title:  r.Title,
			Count:  r.BorrowCount,
		})
	}

	log.WithFields(logrus.Fields{
		"overdue": len(report.OverdueLoans),
		"unpaid":  len(report.UnpaidFines),
	}).Info("GenerateReport: report generated")
	return report, nil
}
