package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRolePatron    UserRole = "patron"
	UserRoleLibrarian UserRole = "librarian"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"size:50;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Role         UserRole  `gorm:"size:20;not null;index" json:"role"`
	Email        string    `gorm:"size:100;not null" json:"email"`
	Phone        string    `gorm:"size:20;not null" json:"phone"`
	CreatedAt    time.Time `json:"created_at"`
}

// Book is a catalogue entry. CopiesAvailable moves with every borrow and
// return and must stay within [0, TotalCopies].
type Book struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string    `gorm:"size:200;not null" json:"title"`
	Author          string    `gorm:"size:100;not null" json:"author"`
	ISBN            string    `gorm:"column:isbn;size:20;not null;uniqueIndex" json:"isbn"`
	Publisher       string    `gorm:"size:100;not null" json:"publisher"`
	PublicationYear int       `gorm:"not null" json:"publication_year"`
	TotalCopies     int       `gorm:"not null;check:chk_books_capacity,copies_available <= total_copies" json:"total_copies"`
	CopiesAvailable int       `gorm:"not null;check:chk_books_available,copies_available >= 0" json:"copies_available"`
	Location        string    `gorm:"size:50;not null" json:"location"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Loan is one borrowing event. ReturnDate is nil while the loan is open and
// is never rewritten once set.
type Loan struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_open_loan,where:return_date IS NULL" json:"user_id"`
	User       User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BookID     uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_open_loan,where:return_date IS NULL" json:"book_id"`
	Book       Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	LoanDate   time.Time  `gorm:"not null" json:"loan_date"`
	DueDate    time.Time  `gorm:"not null;index" json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
}

// IsOpen reports whether the loan has not been returned yet.
func (l *Loan) IsOpen() bool {
	return l.ReturnDate == nil
}

type Hold struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_hold_user_book" json:"user_id"`
	User     User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BookID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_hold_user_book" json:"book_id"`
	Book     Book      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	HoldDate time.Time `gorm:"not null" json:"hold_date"`
}

type Fine struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User        User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	LoanID      *uuid.UUID `gorm:"type:uuid;index" json:"loan_id"`
	Amount      float64    `gorm:"type:numeric(10,2);not null" json:"amount"`
	Description string     `gorm:"type:text;not null" json:"description"`
	Paid        bool       `gorm:"not null;default:false;index" json:"paid"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (l *Loan) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (h *Hold) BeforeCreate(*gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

func (f *Fine) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model in dependency order.
func All() []interface{} {
	return []interface{}{&User{}, &Book{}, &Loan{}, &Hold{}, &Fine{}}
}
