package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/logging"
)

func newCache(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache
}

func setupIdempotencyApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	cache := newCache(t)
	var calls int32
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/failing", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusServiceUnavailable, "contention")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, user, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header.Get(replayedHeader)
}

func TestIdempotencyPassesWithoutHeader(t *testing.T) {
	app, calls := setupIdempotencyApp(t)
	post(t, app, "/resource", "u1", "")
	post(t, app, "/resource", "u1", "")
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, first, _ := post(t, app, "/resource", "u1", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status, second, replayed := post(t, app, "/resource", "u1", "abc123")
	if status != fiber.StatusCreated || second != first || replayed != "true" {
		t.Fatalf("expected replay of %s, got %d %s (replayed=%q)", first, status, second, replayed)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", *calls)
	}
}

func TestIdempotencyKeysScopedPerHolder(t *testing.T) {
	app, calls := setupIdempotencyApp(t)
	post(t, app, "/resource", "u1", "same")
	post(t, app, "/resource", "u2", "same")
	if *calls != 2 {
		t.Fatalf("expected separate executions per holder, ran %d", *calls)
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, calls := setupIdempotencyApp(t)
	for i := 0; i < 2; i++ {
		status, _, _ := post(t, app, "/failing", "u1", "retry-me")
		if status != fiber.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected failed request to be retried, ran %d", *calls)
	}
}
