package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked indicates the token predates the holder's last logout.
	ErrTokenRevoked = errors.New("token invalidated")
)

// Claims carried by access and refresh tokens.
type Claims struct {
	Version int    `json:"ver"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 token pairs.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager builds a TokenManager with separate secrets per token type.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// GeneratePair issues an access and a refresh token for userID at version.
func (tm *TokenManager) GeneratePair(userID string, version int) (TokenPair, error) {
	access, err := tm.sign(userID, version, tokenAccess, tm.accessTTL, tm.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := tm.sign(userID, version, tokenRefresh, tm.refreshTTL, tm.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(tm.accessTTL.Seconds()),
	}, nil
}

func (tm *TokenManager) sign(userID string, version int, typ string, ttl time.Duration, secret []byte) (string, error) {
	now := tm.now()
	claims := Claims{
		Version: version,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ParseAccess verifies an access token.
func (tm *TokenManager) ParseAccess(token string) (*Claims, error) {
	return tm.parse(token, tokenAccess, tm.accessSecret)
}

// ParseRefresh verifies a refresh token.
func (tm *TokenManager) ParseRefresh(token string) (*Claims, error) {
	return tm.parse(token, tokenRefresh, tm.refreshSecret)
}

func (tm *TokenManager) parse(token, typ string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil || claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
