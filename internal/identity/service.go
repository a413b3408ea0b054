package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Service manages identity lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a holder with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if len(reg.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(reg.Name),
		Email:        normalizeEmail(reg.Email),
		Document:     digitsOnly(reg.Document),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies email and password and records the login.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// FindByID resolves a holder by id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateTokenVersion stores a new token version for the holder.
func (s *Service) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return s.repo.UpdateTokenVersion(ctx, id, version)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
