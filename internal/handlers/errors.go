package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/service"
)

// httpError maps a domain error to a response. Messages are generic; the
// cause stays in Internal for the request logger.
func httpError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		code, msg = http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, domain.ErrInvalid):
		code, msg = http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, domain.ErrUnauthorized):
		code, msg = http.StatusForbidden, "insufficient permissions"
	case errors.Is(err, domain.ErrInvalidState):
		code, msg = http.StatusBadRequest, "operation not allowed in the current session"
	case errors.Is(err, domain.ErrNotFound):
		code, msg = http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrRateLimited):
		code, msg = http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, service.ErrValidation):
		code, msg = http.StatusBadRequest, "username and password are required"
	}
	return echo.NewHTTPError(code, msg).SetInternal(err)
}
