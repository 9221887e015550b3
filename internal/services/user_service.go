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

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID uuid.UUID, role models.UserRole) (string, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"required,min=3,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Phone    string `json:"phone" validate:"required,phone"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is returned by a successful login.
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// UpdateUserInput is a partial update; nil fields are left unchanged.
type UpdateUserInput struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// UserService handles account registration, login and librarian-only user
// administration.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, in LoginInput) (*Session, error)
	ListUsers(ctx context.Context, who Identity) ([]models.User, error)
	GetUser(ctx context.Context, who Identity, id uuid.UUID) (*models.User, error)
	UpdateUser(ctx context.Context, who Identity, id uuid.UUID, in UpdateUserInput) (*models.User, error)
	DeleteUser(ctx context.Context, who Identity, id uuid.UUID) error
}

type userService struct {
	db       *gorm.DB
	log      logrus.FieldLogger
	hasher   PasswordHasher
	tokens   TokenIssuer
	userRepo repositories.UserRepository
}

func NewUserService(
	db *gorm.DB,
	log logrus.FieldLogger,
	hasher PasswordHasher,
	tokens TokenIssuer,
	userRepo repositories.UserRepository,
) UserService {
	return &userService{
		db:       db,
		log:      log,
		hasher:   hasher,
		tokens:   tokens,
		userRepo: userRepo,
	}
}

// ─── Accounts ─────────────────────────────────────────────────────────────────

// Register creates a patron account. Librarians are only created by seeding.
func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	log := s.log.WithField("username", in.Username)

	if err := validateStruct(in); err != nil {
		return nil, logFailure(log, "Register", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, logFailure(log, "Register", err)
	}
	user := &models.User{
		Username:     in.Username,
		PasswordHash: hash,
		Name:         in.Name,
		Role:         models.UserRolePatron,
		Email:        in.Email,
		Phone:        in.Phone,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetByUsername(tx, in.Username); err == nil {
			return ErrDuplicateUsername
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := s.userRepo.Create(tx, user); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateUsername
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "Register", err)
	}

	log.WithField("user_id", user.ID).Info("Register: user created")
	return user, nil
}

// Login checks credentials and issues a token. Unknown users and wrong
// passwords fail identically.
func (s *userService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	log := s.log.WithField("username", in.Username)

	user, err := s.userRepo.GetByUsername(s.db.WithContext(ctx), strings.TrimSpace(in.Username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, logFailure(log, "Login", ErrUnauthorized)
		}
		return nil, logFailure(log, "Login", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		return nil, logFailure(log, "Login", ErrUnauthorized)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, logFailure(log, "Login", err)
	}
	log.WithField("user_id", user.ID).Info("Login: token issued")
	return &Session{Token: token, User: *user}, nil
}

// ─── Administration ───────────────────────────────────────────────────────────

// ListUsers returns every non-librarian account.
func (s *userService) ListUsers(ctx context.Context, who Identity) ([]models.User, error) {
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(s.log.WithField("user_id", who.UserID()), "ListUsers", err)
	}
	users, err := s.userRepo.ListExcludingRole(s.db.WithContext(ctx), models.UserRoleLibrarian)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *userService) GetUser(ctx context.Context, who Identity, id uuid.UUID) (*models.User, error) {
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(s.log.WithField("user_id", who.UserID()), "GetUser", err)
	}
	user, err := s.userRepo.GetByID(s.db.WithContext(ctx), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, who Identity, id uuid.UUID, in UpdateUserInput) (*models.User, error) {
	log := s.log.WithFields(logrus.Fields{"user_id": who.UserID(), "target_id": id})
	if err := requireLibrarian(who); err != nil {
		return nil, logFailure(log, "UpdateUser", err)
	}

	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetByID(tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		fields := map[string]interface{}{}
		verr := &ValidationError{}
		check := func(column string, value *string, tag string) {
			if value == nil {
				return
			}
			v := strings.TrimSpace(*value)
			if err := validateVar(column, v, tag); err != nil {
				var fe *ValidationError
				if errors.As(err, &fe) {
					for _, msg := range fe.Fields[column] {
						verr.Add(column, msg)
					}
					return
				}
			}
			fields[column] = v
		}
		check("name", in.Name, "required,min=3,max=100")
		check("email", in.Email, "required,email,max=100")
		check("phone", in.Phone, "required,phone")
		if len(verr.Fields) > 0 {
			return verr
		}

		if len(fields) > 0 {
			if err := s.userRepo.UpdateContact(tx, id, fields); err != nil {
				return err
			}
		}
		user, err := s.userRepo.GetByID(tx, id)
		if err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, logFailure(log, "UpdateUser", err)
	}

	log.Info("UpdateUser: user updated")
	return updated, nil
}

// DeleteUser removes the account with its loans, holds and fines.
func (s *userService) DeleteUser(ctx context.Context, who Identity, id uuid.UUID) error {
	log := s.log.WithFields(logrus.Fields{"user_id": who.UserID(), "target_id": id})
	if err := requireLibrarian(who); err != nil {
		return logFailure(log, "DeleteUser", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetByID(tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return s.userRepo.DeleteWithOwned(tx, id)
	})
	if err != nil {
		return logFailure(log, "DeleteUser", err)
	}

	log.Info("DeleteUser: user deleted")
	return nil
}
