package auth

import (
	"context"
	"errors"

	"github.com/congo-pay/wallet_ledger/internal/identity"
)

// Service issues and revokes holder sessions.
type Service struct {
	tokens *TokenManager
	ids    *identity.Service
}

// NewService builds the session service.
func NewService(tokens *TokenManager, ids *identity.Service) *Service {
	return &Service{tokens: tokens, ids: ids}
}

// Login validates credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (identity.User, TokenPair, error) {
	user, err := s.ids.Authenticate(ctx, email, password)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	pair, err := s.tokens.GeneratePair(user.ID, user.TokenVersion)
	if err != nil {
		return identity.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a new pair at the same version.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.current(ctx, claims); err != nil {
		return TokenPair{}, err
	}
	return s.tokens.GeneratePair(claims.Subject, claims.Version)
}

// Authorize verifies an access token and resolves its holder.
func (s *Service) Authorize(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return identity.User{}, err
	}
	return s.current(ctx, claims)
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.ids.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.ids.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) current(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.ids.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, ErrInvalidToken
		}
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
