package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/librarydesk/circulation/internal/models"
)

// Identity is the authenticated caller. It is either a Patron or a Librarian.
type Identity interface {
	UserID() uuid.UUID
	Role() models.UserRole
	identity()
}

type Patron struct {
	ID uuid.UUID
}

func (p Patron) UserID() uuid.UUID     { return p.ID }
func (p Patron) Role() models.UserRole { return models.UserRolePatron }
func (Patron) identity()               {}

type Librarian struct {
	ID uuid.UUID
}

func (l Librarian) UserID() uuid.UUID     { return l.ID }
func (l Librarian) Role() models.UserRole { return models.UserRoleLibrarian }
func (Librarian) identity()               {}

// IdentityFor maps a persisted role onto an Identity.
func IdentityFor(id uuid.UUID, role models.UserRole) (Identity, error) {
	switch role {
	case models.UserRolePatron:
		return Patron{ID: id}, nil
	case models.UserRoleLibrarian:
		return Librarian{ID: id}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// requireLibrarian is the access gate for catalogue mutation, user
// administration and reporting. It runs before any lookup so that denied
// callers learn nothing about whether the target exists.
func requireLibrarian(who Identity) error {
	switch who.(type) {
	case Librarian:
		return nil
	default:
		return ErrAccessDenied
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }
