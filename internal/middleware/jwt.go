package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/auth"
	"github.com/congo-pay/wallet_ledger/internal/identity"
)

// Authorizer resolves the holder behind an access token.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (identity.User, error)
}

// JWTAuth validates bearer access tokens, checks the token version and stores
// the holder id in the user_id local.
func JWTAuth(authz Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(header[len("Bearer "):])

		user, err := authz.Authorize(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenRevoked) {
				return fiber.NewError(http.StatusUnauthorized, "token invalidated")
			}
			if errors.Is(err, auth.ErrInvalidToken) {
				return fiber.NewError(http.StatusUnauthorized, "invalid token")
			}
			return err
		}

		c.Locals("user_id", user.ID)
		c.Locals("token_version", user.TokenVersion)
		return c.Next()
	}
}
