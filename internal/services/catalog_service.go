package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/librarydesk/circulation/internal/models"
	"github.com/librarydesk/circulation/internal/repositories"
)

// BookInput is the editable part of a catalogue entry.
type BookInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Author          string `json:"author" validate:"required,max=100"`
	ISBN            string `json:"isbn" validate:"required,max=20"`
	Publisher       string `json:"publisher" validate:"required,max=100"`
	PublicationYear *int   `json:"publication_year" validate:"required,min=0"`
	TotalCopies     *int   `json:"total_copies" validate:"required,min=1"`
	Location        string `json:"location" validate:"required,max=50"`
}

func (in *BookInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Location = strings.TrimSpace(in.Location)
}

// CatalogService manages the book catalogue. Reads are open to any caller,
// mutations are librarian-only.
type CatalogService interface {
	ListBooks(ctx context.Context, search string) ([]models.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	AddBook(ctx context.Context, who Identity, in BookInput) (*models.Book, error)
	UpdateBook(ctx context.Context, who Identity, id uuid.UUID, in BookInput) (*models.Book, error)
	DeleteBook(ctx context.Context, who Identity, id uuid.UUID) error
}

type catalogService struct {
	db       *gorm.DB
	log      logrus.FieldLogger
	bookRepo repositories.BookRepository
	loanRepo repositories.LoanRepository
	holdRepo repositories.HoldRepository
}

func NewCatalogService(
	db *gorm.DB,
	log logrus.FieldLogger,
	bookRepo repositories.BookRepository,
	loanRepo repositories.LoanRepository,
	holdRepo repositories.HoldRepository,
) CatalogService {
	return &catalogService{
		db:       db,
		log:      log,
		bookRepo: bookRepo,
		loanRepo: loanRepo,
		holdRepo: holdRepo,
	}
}

func (s *catalogService) ListBooks(ctx context.Context, search string) ([]models.Book, error) {
	books, err := s.bookRepo.Search(s.db.WithContext(ctx), search)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

func (s *catalogService) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(s.db.WithContext(ctx), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// ─── Mutations ────────────────────────────────────────────────────────────────

// AddBook creates a catalogue entry with every copy on the shelf.
func (s *catalogService) AddBook(ctx context.Context, who Identity, in BookInput) (*models.Book, error) {
	log := s.log.WithField("user_id", who.UserID())
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(log, "AddBook", err)
	}
	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, logFailure(log, "AddBook", err)
	}

	book := &models.Book{
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		Publisher:       in.Publisher,
		PublicationYear: *in.PublicationYear,
		TotalCopies:     *in.TotalCopies,
		CopiesAvailable: *in.TotalCopies,
		Location:        in.Location,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByISBN(tx, in.ISBN); err == nil {
			return ErrDuplicateISBN
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := s.bookRepo.Create(tx, book); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateISBN
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "AddBook", err)
	}

	log.WithFields(logrus.Fields{"book_id": book.ID, "isbn": book.ISBN}).Info("AddBook: book added")
	return book, nil
}

// UpdateBook replaces a book's editable fields. CopiesAvailable moves by the
// same amount as TotalCopies so loans already out stay accounted for.
func (s *catalogService) UpdateBook(ctx context.Context, who Identity, id uuid.UUID, in BookInput) (*models.Book, error) {
	log := s.log.WithFields(logrus.Fields{"user_id": who.UserID(), "book_id": id})
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(log, "UpdateBook", err)
	}
	in.normalize()

	var updated *models.Book
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if err := validateStruct(in); err != nil {
			return err
		}

		total := *in.TotalCopies
		available := book.CopiesAvailable + (total - book.TotalCopies)
		if available < 0 {
			verr := &ValidationError{}
			verr.Add("total_copies", "Total copies cannot be less than the number of copies on loan")
			return verr
		}

		if in.ISBN != book.ISBN {
			other, err := s.bookRepo.GetByISBN(tx, in.ISBN)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if other != nil && other.ID != book.ID {
				return ErrDuplicateISBN
			}
		}

		book.Title = in.Title
		book.Author = in.Author
		book.ISBN = in.ISBN
		book.Publisher = in.Publisher
		book.PublicationYear = *in.PublicationYear
		book.TotalCopies = total
		book.CopiesAvailable = available
		book.Location = in.Location
		if err := s.bookRepo.Save(tx, book); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateISBN
			}
			return err
		}
		updated = book
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "UpdateBook", err)
	}

	log.Info("UpdateBook: book updated")
	return updated, nil
}

// DeleteBook removes a book and its holds. Books with loan history are kept.
func (s *catalogService) DeleteBook(ctx context.Context, who Identity, id uuid.UUID) error {
	log := s.log.WithFields(logrus.Fields{"user_id": who.UserID(), "book_id": id})
	if err := requireLibrarian(who); err != nil {
		return logFailure(log, "DeleteBook", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByIDForUpdate(tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		loans, err := s.loanRepo.CountByBook(tx, id)
		if err != nil {
			return err
		}
		if loans > 0 {
			return ErrBookInUse
		}
		if err := s.holdRepo.DeleteByBook(tx, id); err != nil {
			return err
		}
		return s.bookRepo.Delete(tx, id)
	})
	if err != nil {
		return logFailure(log, "DeleteBook", err)
	}

	log.Info("DeleteBook: book deleted")
	return nil
}
