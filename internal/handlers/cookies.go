package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/middleware"
	"github.com/Skotchmaster/shop_access/internal/tokens"
)

// RefreshCookiePath limits the refresh cookie to the auth endpoints.
const RefreshCookiePath = "/api/v1/auth"

type CookieConfig struct {
	Secure bool
}

func (cc CookieConfig) create(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) remove(name, path string) *http.Cookie {
	ck := cc.create(name, "", path, time.Unix(0, 0))
	ck.MaxAge = -1
	return ck
}

func (cc CookieConfig) setSession(c echo.Context, pair tokens.Pair) {
	c.SetCookie(cc.create(middleware.AccessCookie, pair.AccessToken, "/", pair.AccessExpiresAt))
	c.SetCookie(cc.create(middleware.RefreshCookie, pair.RefreshToken, RefreshCookiePath, pair.RefreshExpiresAt))
}

// clearSession also expires the legacy cookie so old clients drop it.
func (cc CookieConfig) clearSession(c echo.Context) {
	c.SetCookie(cc.remove(middleware.AccessCookie, "/"))
	c.SetCookie(cc.remove(middleware.RefreshCookie, RefreshCookiePath))
	c.SetCookie(cc.remove(middleware.LegacyCookie, "/"))
}
