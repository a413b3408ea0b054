package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/metrics"
)

// HTTPMetrics records request count and latency per matched route.
func HTTPMetrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path
		code := strconv.Itoa(status)
		m.HTTPRequestsTotal.WithLabelValues(route, c.Method(), code).Inc()
		m.HTTPLatency.WithLabelValues(c.Method(), route, code).Observe(time.Since(start).Seconds())
		return err
	}
}
