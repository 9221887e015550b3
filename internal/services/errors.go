package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ─── Error Kinds ──────────────────────────────────────────────────────────────

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidState = errors.New("invalid state")
	ErrUnauthorized = errors.New("invalid credentials")
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	ErrBookNotFound = fmt.Errorf("book %w", ErrNotFound)
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	ErrDuplicateLoan     = fmt.Errorf("%w: you have already borrowed this book", ErrConflict)
	ErrDuplicateHold     = fmt.Errorf("%w: you already have a hold on this book", ErrConflict)
	ErrDuplicateISBN     = fmt.Errorf("%w: book with this ISBN already exists", ErrConflict)
	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", ErrConflict)

	// ErrBookInUse is returned when deleting a book that loans still reference.
	ErrBookInUse = fmt.Errorf("%w: book is referenced by loans and cannot be deleted", ErrConflict)

	ErrNoCopiesAvailable = fmt.Errorf("%w: no copies available", ErrInvalidState)
	ErrInvalidLoan       = fmt.Errorf("%w: invalid loan record", ErrInvalidState)
	ErrInvalidFine       = fmt.Errorf("%w: invalid fine record", ErrInvalidState)
)

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Kind classifies an error for transport mapping and metrics.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindAccessDenied Kind = "access_denied"
	KindInvalidState Kind = "invalid_state"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

func KindOf(err error) Kind {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// isUniqueViolation checks for a unique-constraint error, either raw from
// PostgreSQL (SQLSTATE 23505) or already translated by GORM.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// isCheckViolation checks for a CHECK-constraint error (SQLSTATE 23514).
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return errors.Is(err, gorm.ErrCheckConstraintViolated)
}
