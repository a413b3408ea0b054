package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
	cacheOpTimeout       = 2 * time.Second
)

var errInProgress = fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the stored response when an unsafe request repeats an
// Idempotency-Key. Keys are scoped to the authenticated holder and the route.
// Requests without the header pass through. Failed requests are not stored,
// so a client may retry them with the same key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" || cache == nil {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
		}
		log := logger.With(slog.String("idempotency_key", key))
		slot := scopedKey(c, key)

		stored, found, err := lookup(cache, slot)
		switch {
		case errors.Is(err, errInProgress):
			return errInProgress
		case err != nil:
			log.Error("idempotency lookup failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		case found:
			return replay(c, stored)
		}

		if err := reserve(cache, slot, ttl); err != nil {
			if errors.Is(err, errInProgress) {
				return errInProgress
			}
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency reservation failure")
		}

		if err := c.Next(); err != nil {
			release(cache, slot)
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			release(cache, slot)
			return nil
		}
		if err := persist(cache, slot, capture(c), ttl); err != nil {
			log.Error("failed to persist idempotent response", slog.Any("error", err))
			release(cache, slot)
		}
		return nil
	}
}

func scopedKey(c *fiber.Ctx, key string) string {
	uid, _ := c.Locals("user_id").(string)
	return idempotencyPrefix + uid + ":" + c.Method() + ":" + c.Path() + ":" + key
}

// lookup returns errInProgress while another request holds the slot.
func lookup(cache *redis.Client, slot string) (storedResponse, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	cached, err := cache.Get(ctx, slot).Result()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, err
	}
	if cached == inProgressMarker {
		return storedResponse{}, false, errInProgress
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		return storedResponse{}, false, err
	}
	return stored, true, nil
}

func reserve(cache *redis.Client, slot string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	ok, err := cache.SetNX(ctx, slot, inProgressMarker, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errInProgress
	}
	return nil
}

func release(cache *redis.Client, slot string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	cache.Del(ctx, slot)
}

func persist(cache *redis.Client, slot string, resp storedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	return cache.Set(ctx, slot, payload, ttl).Err()
}

func capture(c *fiber.Ctx) storedResponse {
	resp := storedResponse{
		Status:  c.Response().StatusCode(),
		Body:    string(c.Response().Body()),
		Headers: map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		resp.Headers[string(k)] = string(v)
	})
	return resp
}

func replay(c *fiber.Ctx, stored storedResponse) error {
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set(replayedHeader, "true")
	return c.Status(stored.Status).SendString(stored.Body)
}
