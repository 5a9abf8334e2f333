// Package middleware authenticates requests with access tokens.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/tokens"
	"github.com/Skotchmaster/shop_access/pkg/logging"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
	// LegacyCookie is still accepted on reads. Nothing writes it anymore.
	LegacyCookie = "token"

	ctxPrincipal = "principal"
	ctxClaims    = "claims"
)

// AccessVerifier is the part of the issuer the middleware needs.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*tokens.AccessClaims, error)
}

// ExtractToken returns the first access token found in the accessToken
// cookie, the legacy token cookie or an Authorization: Bearer header.
func ExtractToken(r *http.Request) string {
	for _, name := range []string{AccessCookie, LegacyCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	h := r.Header.Get(echo.HeaderAuthorization)
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return ""
}

func RequireAuth(v AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := ExtractToken(c.Request())
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing access token").SetInternal(domain.ErrInvalid)
			}

			claims, err := v.VerifyAccess(c.Request().Context(), raw)
			if err != nil {
				if errors.Is(err, domain.ErrInvalid) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token").SetInternal(err)
				}
				logging.FromContext(c.Request().Context()).Error("access_check_failed", "status", 500, "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
			}

			setUserContext(c, claims)
			return next(c)
		}
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token").SetInternal(domain.ErrInvalid)
		}
		if !p.IsAdmin() {
			logging.FromContext(c.Request().Context()).Warn("admin_required", "status", 403, "user_id", p.UserID)
			return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions").SetInternal(domain.ErrUnauthorized)
		}
		return next(c)
	}
}

func PrincipalFrom(c echo.Context) (domain.Principal, bool) {
	p, ok := c.Get(ctxPrincipal).(domain.Principal)
	return p, ok
}

func ClaimsFrom(c echo.Context) (*tokens.AccessClaims, bool) {
	cl, ok := c.Get(ctxClaims).(*tokens.AccessClaims)
	return cl, ok
}

func setUserContext(c echo.Context, claims *tokens.AccessClaims) {
	c.Set(ctxClaims, claims)
	c.Set(ctxPrincipal, claims.Principal())
	c.Set("user_id", claims.Subject)
	c.Set("role", string(claims.Role))
}
