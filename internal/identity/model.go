package identity

import (
	"errors"
	"time"
)

var (
	// ErrEmailTaken indicates another holder registered the email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrDocumentTaken indicates another holder registered the document number.
	ErrDocumentTaken = errors.New("document already registered")

	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound occurs when a user id does not resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrWeakPassword rejects passwords shorter than minPasswordLength.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// User represents a registered wallet holder.
type User struct {
	ID           string
	Name         string
	Email        string
	Document     string
	PasswordHash []byte
	TokenVersion int
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// Registration carries onboarding data.
type Registration struct {
	Name     string
	Email    string
	Document string
	Password string
}
