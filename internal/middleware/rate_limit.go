package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// KeyFunc derives the bucket a request is counted against.
type KeyFunc func(c *fiber.Ctx) string

// ByIP counts requests per client address.
func ByIP(c *fiber.Ctx) string {
	return c.IP()
}

// ByEmailOrIP counts login attempts per submitted email, falling back to the client address.
func ByEmailOrIP(c *fiber.Ctx) string {
	var req struct {
		Email string `json:"email"`
	}
	_ = c.BodyParser(&req)
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return email
	}
	return c.IP()
}

// RateLimit allows maxPerMin requests per key per fixed one-minute window,
// counting in Redis. Without Redis, or when Redis fails, requests pass.
func RateLimit(cache *redis.Client, scope string, maxPerMin int, key KeyFunc) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	if key == nil {
		key = ByIP
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		bucket := "rl:" + scope + ":" + key(c)
		cnt, err := cache.Incr(c.UserContext(), bucket).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), bucket, time.Minute)
		}

		remaining := int64(maxPerMin) - cnt
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxPerMin))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(c.UserContext(), bucket).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
