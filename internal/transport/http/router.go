package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/handlers"
	"github.com/Skotchmaster/shop_access/internal/middleware"
	"github.com/Skotchmaster/shop_access/internal/ratelimit"
)

type Limiters struct {
	Auth      ratelimit.Checker
	API       ratelimit.Checker
	Sensitive ratelimit.Checker
	Key       ratelimit.KeyFunc
}

type Deps struct {
	AuthHandler *handlers.AuthHandler
	Verifier    middleware.AccessVerifier
	Limiters    Limiters
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
	// CSRF, when set, guards cookie-authenticated writes under /api/v1.
	CSRF *middleware.CSRFConfig
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready").SetInternal(err)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}

	h := d.AuthHandler
	key := d.Limiters.Key
	if key == nil {
		key = ratelimit.NewKeyFunc(ratelimit.KeyConfig{})
	}
	authTier := ratelimit.Middleware(d.Limiters.Auth, key)
	apiTier := ratelimit.Middleware(d.Limiters.API, key)
	sensitiveTier := ratelimit.Middleware(d.Limiters.Sensitive, key)
	requireAuth := middleware.RequireAuth(d.Verifier)

	v1 := e.Group("/api/v1")
	if d.CSRF != nil {
		cfg := *d.CSRF
		cfg.SkipPaths = append(cfg.SkipPaths, "/api/v1/auth/login")
		v1.Use(middleware.CSRF(cfg))
	}

	auth := v1.Group("/auth")
	auth.POST("/login", h.Login, authTier)
	auth.POST("/refresh", h.Refresh, apiTier)
	auth.POST("/logout", h.Logout, apiTier)
	auth.POST("/logout-all", h.LogoutAll, apiTier, requireAuth)

	v1.GET("/me", h.Me, apiTier, requireAuth)

	admin := v1.Group("/admin", sensitiveTier, requireAuth, middleware.RequireAdmin)
	admin.POST("/impersonate/:id", h.Impersonate)

	v1.POST("/impersonation/exit", h.ExitImpersonation, sensitiveTier, requireAuth)
}
