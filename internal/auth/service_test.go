package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/wallet_ledger/internal/identity"
)

func newTestService(t *testing.T) (*Service, identity.User) {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository())
	user, err := ids.Register(context.Background(), identity.Registration{
		Name: "A", Email: "a@b.co", Document: "11111111111", Password: "password1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tm := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, time.Hour)
	return NewService(tm, ids), user
}

func TestLoginAuthorizeLogout(t *testing.T) {
	svc, user := newTestService(t)
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, "a@b.co", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := svc.Authorize(ctx, pair.AccessToken)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authorize: %v", err)
	}

	if _, err := svc.Authorize(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked refresh, got %v", err)
	}
}

func TestRefreshIssuesUsablePair(t *testing.T) {
	svc, user := newTestService(t)
	ctx := context.Background()
	_, pair, _ := svc.Login(ctx, "a@b.co", "password1")

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, err := svc.Authorize(ctx, next.AccessToken)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authorize refreshed token: %v", err)
	}
}

func TestExpiredAndForeignTokens(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Minute)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	pair, err := tm.GeneratePair("user-1", 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tm.now = time.Now
	if _, err := tm.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	other := NewTokenManager("other-secret", "refresh-secret", time.Minute, time.Minute)
	fresh, _ := other.GeneratePair("user-1", 0)
	if _, err := tm.ParseAccess(fresh.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign signature rejected, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.Login(context.Background(), "a@b.co", "nope-nope"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}
