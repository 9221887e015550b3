package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

type OverdueLoanRow struct {
	LoanID    uuid.UUID `db:"loan_id"`
	UserID    uuid.UUID `db:"user_id"`
	UserName  string    `db:"user_name"`
	BookID    uuid.UUID `db:"book_id"`
	BookTitle string    `db:"book_title"`
	LoanDate  time.Time `db:"loan_date"`
	DueDate   time.Time `db:"due_date"`
}

type UnpaidFineRow struct {
	FineID      uuid.UUID `db:"fine_id"`
	UserID      uuid.UUID `db:"user_id"`
	UserName    string    `db:"user_name"`
	Amount      float64   `db:"amount"`
	Description string    `db:"description"`
}

type PopularBookRow struct {
	BookID      uuid.UUID `db:"book_id"`
	Title       string    `db:"title"`
	BorrowCount int64     `db:"borrow_count"`
}

// ReportSnapshot is the raw aggregate read in one transaction.
type ReportSnapshot struct {
	TotalBooks       int64
	TotalLoans       int64
	TotalPaidFines   float64
	OverdueLoans     []OverdueLoanRow
	UnpaidFines      []UnpaidFineRow
	MostPopularBooks []PopularBookRow
}

// ReportRepository is the read side used for dashboards. It bypasses GORM and
// reads through sqlx with goqu-built statements.
type ReportRepository interface {
	Aggregate(ctx context.Context, asOf time.Time, popularLimit int) (*ReportSnapshot, error)
}

type reportRepository struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	txOpts  *sql.TxOptions
}

// NewReportRepository shares the connection pool behind db.
func NewReportRepository(db *gorm.DB) (ReportRepository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	switch name := db.Dialector.Name(); name {
	case "postgres":
		return &reportRepository{
			db:      sqlx.NewDb(sqlDB, "pgx"),
			dialect: goqu.Dialect("postgres"),
			txOpts:  &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
		}, nil
	case "sqlite":
		return &reportRepository{
			db:      sqlx.NewDb(sqlDB, "sqlite3"),
			dialect: goqu.Dialect("sqlite3"),
		}, nil
	default:
		return nil, fmt.Errorf("report repository: unsupported dialect %q", name)
	}
}

func (r *reportRepository) Aggregate(ctx context.Context, asOf time.Time, popularLimit int) (*ReportSnapshot, error) {
	tx, err := r.db.BeginTxx(ctx, r.txOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var snap ReportSnapshot

	if err := r.get(ctx, tx, &snap.TotalBooks, r.dialect.From("books").Select(goqu.COUNT(goqu.Star()))); err != nil {
		return nil, fmt.Errorf("count books: %w", err)
	}
	if err := r.get(ctx, tx, &snap.TotalLoans, r.dialect.From("loans").Select(goqu.COUNT(goqu.Star()))); err != nil {
		return nil, fmt.Errorf("count loans: %w", err)
	}

	paid := r.dialect.From("fines").
		Select(goqu.COALESCE(goqu.SUM("amount"), 0)).
		Where(goqu.C("paid").Eq(true))
	if err := r.get(ctx, tx, &snap.TotalPaidFines, paid); err != nil {
		return nil, fmt.Errorf("sum paid fines: %w", err)
	}

	overdue := r.dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("l.user_id").As("user_id"),
			goqu.I("u.name").As("user_name"),
			goqu.I("l.book_id").As("book_id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("l.loan_date").As("loan_date"),
			goqu.I("l.due_date").As("due_date"),
		).
		Where(
			goqu.I("l.return_date").IsNull(),
			goqu.I("l.due_date").Lt(asOf),
		).
		Order(goqu.I("l.due_date").Asc(), goqu.I("l.id").Asc())
	if err := r.selectRows(ctx, tx, &snap.OverdueLoans, overdue); err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}

	unpaid := r.dialect.From(goqu.T("fines").As("f")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("f.user_id")))).
		Select(
			goqu.I("f.id").As("fine_id"),
			goqu.I("f.user_id").As("user_id"),
			goqu.I("u.name").As("user_name"),
			goqu.I("f.amount").As("amount"),
			goqu.I("f.description").As("description"),
		).
		Where(goqu.I("f.paid").Eq(false)).
		Order(goqu.I("f.created_at").Asc(), goqu.I("f.id").Asc())
	if err := r.selectRows(ctx, tx, &snap.UnpaidFines, unpaid); err != nil {
		return nil, fmt.Errorf("list unpaid fines: %w", err)
	}

	// Ties on borrow_count fall back to book id ascending.
	popular := r.dialect.From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title").As("title"),
			goqu.COUNT(goqu.I("l.id")).As("borrow_count"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title")).
		Order(goqu.C("borrow_count").Desc(), goqu.I("b.id").Asc()).
		Limit(uint(popularLimit))
	if err := r.selectRows(ctx, tx, &snap.MostPopularBooks, popular); err != nil {
		return nil, fmt.Errorf("list popular books: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *reportRepository) get(ctx context.Context, tx *sqlx.Tx, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	return tx.GetContext(ctx, dest, query, args...)
}

func (r *reportRepository) selectRows(ctx context.Context, tx *sqlx.Tx, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	return tx.SelectContext(ctx, dest, query, args...)
}
