package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/pkg/logging"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Middleware rejects requests over the checker's policy with 429 and sets
// the rate-limit headers on every response it lets through.
func Middleware(ch Checker, key KeyFunc) echo.MiddlewareFunc {
	if key == nil {
		key = NewKeyFunc(KeyConfig{})
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := key(c.Request())
			d := ch.Check(client)

			h := c.Response().Header()
			h.Set(HeaderLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRemaining, strconv.Itoa(max(d.Remaining, 0)))
			h.Set(HeaderReset, d.ResetAt.UTC().Format(time.RFC3339))

			if !d.Allowed {
				retry := d.RetryAfterSeconds()
				h.Set(HeaderRetryAfter, strconv.Itoa(retry))
				logging.FromContext(c.Request().Context()).Warn("rate_limited",
					"status", http.StatusTooManyRequests,
					"tier", ch.Policy().Name,
					"client", client,
					"retry_after", retry,
				)
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests").SetInternal(domain.ErrRateLimited)
			}
			return next(c)
		}
	}
}
