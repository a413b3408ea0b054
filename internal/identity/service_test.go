package identity

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, Registration{
		Name:     "Ana Souza",
		Email:    " Ana@Example.com ",
		Document: "123.456.789-09",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ana@example.com" || user.Document != "12345678909" {
		t.Fatalf("expected normalized email and document, got %q %q", user.Email, user.Document)
	}
	if string(user.PasswordHash) == "s3cret-pass" {
		t.Fatalf("password stored in clear text")
	}

	authed, err := svc.Authenticate(ctx, "ANA@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID || authed.LastLogin == nil {
		t.Fatalf("expected login recorded for %s", user.ID)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	if _, err := svc.Register(ctx, Registration{Name: "A", Email: "a@b.co", Document: "11111111111", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "a@b.co", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@b.co", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestRegisterUniqueness(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	base := Registration{Name: "A", Email: "a@b.co", Document: "11111111111", Password: "password1"}
	if _, err := svc.Register(ctx, base); err != nil {
		t.Fatalf("register: %v", err)
	}

	dupEmail := base
	dupEmail.Document = "22222222222"
	if _, err := svc.Register(ctx, dupEmail); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}

	dupDoc := base
	dupDoc.Email = "c@d.co"
	if _, err := svc.Register(ctx, dupDoc); !errors.Is(err, ErrDocumentTaken) {
		t.Fatalf("expected document taken, got %v", err)
	}

	weak := base
	weak.Email, weak.Document, weak.Password = "e@f.co", "33333333333", "short"
	if _, err := svc.Register(ctx, weak); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
}

func TestUpdateTokenVersion(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	user, _ := svc.Register(ctx, Registration{Name: "A", Email: "a@b.co", Document: "11111111111", Password: "password1"})

	if err := svc.UpdateTokenVersion(ctx, user.ID, 3); err != nil {
		t.Fatalf("update token version: %v", err)
	}
	got, err := svc.FindByID(ctx, user.ID)
	if err != nil || got.TokenVersion != 3 {
		t.Fatalf("expected token version 3, got %d (%v)", got.TokenVersion, err)
	}
	if err := svc.UpdateTokenVersion(ctx, "missing", 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
