package repositories

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/librarydesk/circulation/internal/models"
)

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	GetByUsername(db *gorm.DB, username string) (*models.User, error)
	ListExcludingRole(db *gorm.DB, role models.UserRole) ([]models.User, error)
	UpdateContact(db *gorm.DB, id uuid.UUID, fields map[string]interface{}) error
	DeleteWithOwned(db *gorm.DB, id uuid.UUID) error
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	Search(db *gorm.DB, term string) ([]models.Book, error)
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByISBN(db *gorm.DB, isbn string) (*models.Book, error)
	Save(db *gorm.DB, book *models.Book) error
	Delete(db *gorm.DB, id uuid.UUID) error
	DecrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error)
	IncrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error)
}

type LoanRepository interface {
	Create(db *gorm.DB, loan *models.Loan) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	FindOpen(db *gorm.DB, userID, bookID uuid.UUID) (*models.Loan, error)
	MarkReturned(db *gorm.DB, loanID uuid.UUID, returnedAt time.Time) (bool, error)
	ListOpenByUser(db *gorm.DB, userID uuid.UUID) ([]models.Loan, error)
	CountByBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
}

type HoldRepository interface {
	Create(db *gorm.DB, hold *models.Hold) error
	GetByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (*models.Hold, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.Hold, error)
	DeleteByBook(db *gorm.DB, bookID uuid.UUID) error
}

type FineRepository interface {
	Create(db *gorm.DB, fine *models.Fine) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error)
	MarkPaid(db *gorm.DB, fineID uuid.UUID, paidAt time.Time) (bool, error)
	ListUnpaidByUser(db *gorm.DB, userID uuid.UUID) ([]models.Fine, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListExcludingRole(db *gorm.DB, role models.UserRole) ([]models.User, error) {
	if db == nil {
		db = r.db
	}
	var users []models.User
	if err := db.Where("role <> ?", role).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) UpdateContact(db *gorm.DB, id uuid.UUID, fields map[string]interface{}) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.User{}).Where("id = ?", id).Updates(fields).Error
}

// DeleteWithOwned removes the user together with the loans, holds and fines
// the user owns. Callers are expected to run it inside a transaction. Book
// availability is left untouched.
func (r *userRepository) DeleteWithOwned(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	if err := db.Where("user_id = ?", id).Delete(&models.Fine{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", id).Delete(&models.Hold{}).Error; err != nil {
		return err
	}
	if err := db.Where("user_id = ?", id).Delete(&models.Loan{}).Error; err != nil {
		return err
	}
	return db.Delete(&models.User{}, "id = ?", id).Error
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

// Search matches term against title or author, case-insensitively. An empty
// term lists the whole catalogue.
func (r *bookRepository) Search(db *gorm.DB, term string) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Book{})
	if term = strings.TrimSpace(term); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", pattern, pattern)
	}
	var books []models.Book
	if err := q.Order("title, id").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByISBN(db *gorm.DB, isbn string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "isbn = ?", isbn).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) Save(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Save(book).Error
}

func (r *bookRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "id = ?", id).Error
}

// DecrementAvailable takes one copy off the shelf. It reports false when no
// copy was available, leaving the row untouched.
func (r *bookRepository) DecrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND copies_available > 0", bookID).
		UpdateColumn("copies_available", gorm.Expr("copies_available - ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementAvailable puts one copy back. It reports false when the counter is
// already at total_copies.
func (r *bookRepository) IncrementAvailable(db *gorm.DB, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND copies_available < total_copies", bookID).
		UpdateColumn("copies_available", gorm.Expr("copies_available + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	return db.Omit(clause.Associations).Create(loan).Error
}

func (r *loanRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) FindOpen(db *gorm.DB, userID, bookID uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Where("user_id = ? AND book_id = ? AND return_date IS NULL", userID, bookID).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// MarkReturned closes an open loan. It reports false when the loan was
// already closed, so return_date is written at most once.
func (r *loanRepository) MarkReturned(db *gorm.DB, loanID uuid.UUID, returnedAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Loan{}).
		Where("id = ? AND return_date IS NULL", loanID).
		UpdateColumn("return_date", returnedAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *loanRepository) ListOpenByUser(db *gorm.DB, userID uuid.UUID) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.Preload("Book").
		Where("user_id = ? AND return_date IS NULL", userID).
		Order("due_date, id").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) CountByBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	if err := db.Model(&models.Loan{}).Where("book_id = ?", bookID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

type holdRepository struct {
	db *gorm.DB
}

func NewHoldRepository(db *gorm.DB) HoldRepository {
	return &holdRepository{db: db}
}

func (r *holdRepository) Create(db *gorm.DB, hold *models.Hold) error {
	if db == nil {
		db = r.db
	}
	return db.Omit(clause.Associations).Create(hold).Error
}

func (r *holdRepository) GetByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (*models.Hold, error) {
	if db == nil {
		db = r.db
	}
	var hold models.Hold
	err := db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&hold).Error
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *holdRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.Hold, error) {
	if db == nil {
		db = r.db
	}
	var holds []models.Hold
	err := db.Preload("Book").
		Where("user_id = ?", userID).
		Order("hold_date, id").
		Find(&holds).Error
	if err != nil {
		return nil, err
	}
	return holds, nil
}

func (r *holdRepository) DeleteByBook(db *gorm.DB, bookID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Where("book_id = ?", bookID).Delete(&models.Hold{}).Error
}

type fineRepository struct {
	db *gorm.DB
}

func NewFineRepository(db *gorm.DB) FineRepository {
	return &fineRepository{db: db}
}

func (r *fineRepository) Create(db *gorm.DB, fine *models.Fine) error {
	if db == nil {
		db = r.db
	}
	return db.Omit(clause.Associations).Create(fine).Error
}

func (r *fineRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&fine, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &fine, nil
}

// MarkPaid flips paid from false to true. It reports false when the fine was
// already paid.
func (r *fineRepository) MarkPaid(db *gorm.DB, fineID uuid.UUID, paidAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Fine{}).
		Where("id = ? AND paid = ?", fineID, false).
		UpdateColumns(map[string]interface{}{
			"paid":    true,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *fineRepository) ListUnpaidByUser(db *gorm.DB, userID uuid.UUID) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	err := db.Where("user_id = ? AND paid = ?", userID, false).
		Order("created_at, id").
		Find(&fines).Error
	if err != nil {
		return nil, err
	}
	return fines, nil
}
