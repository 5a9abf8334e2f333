package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/middleware"
	"github.com/Skotchmaster/shop_access/internal/service"
)

type AuthHandler struct {
	Svc     *service.AuthService
	Cookies CookieConfig
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}

	sess, err := h.Svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}

	h.Cookies.setSession(c, sess.Pair)
	return c.JSON(http.StatusOK, sessionView(sess))
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ck, err := c.Cookie(middleware.RefreshCookie)
	if err != nil || ck.Value == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing").SetInternal(domain.ErrInvalid)
	}

	sess, err := h.Svc.Refresh(c.Request().Context(), ck.Value)
	if err != nil {
		h.Cookies.clearSession(c)
		return httpError(err)
	}

	h.Cookies.setSession(c, sess.Pair)
	return c.JSON(http.StatusOK, sessionView(sess))
}

func (h *AuthHandler) Logout(c echo.Context) error {
	refresh := ""
	if ck, err := c.Cookie(middleware.RefreshCookie); err == nil {
		refresh = ck.Value
	}

	if err := h.Svc.Logout(c.Request().Context(), middleware.ExtractToken(c.Request()), refresh); err != nil {
		return httpError(err)
	}

	h.Cookies.clearSession(c)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return httpError(domain.ErrInvalid)
	}

	n, err := h.Svc.LogoutAll(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}

	h.Cookies.clearSession(c)
	return c.JSON(http.StatusOK, map[string]int{"revoked": n})
}

func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return httpError(domain.ErrInvalid)
	}
	return c.JSON(http.StatusOK, principalView(p))
}

func (h *AuthHandler) Impersonate(c echo.Context) error {
	actor, ok := middleware.PrincipalFrom(c)
	if !ok {
		return httpError(domain.ErrInvalid)
	}

	sess, err := h.Svc.LoginAs(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	h.Cookies.setSession(c, sess.Pair)
	return c.JSON(http.StatusOK, sessionView(sess))
}

func (h *AuthHandler) ExitImpersonation(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return httpError(domain.ErrInvalid)
	}

	sess, err := h.Svc.ExitImpersonation(c.Request().Context(), claims.Principal(), claims.TokenID())
	if err != nil {
		return httpError(err)
	}

	h.Cookies.setSession(c, sess.Pair)
	return c.JSON(http.StatusOK, sessionView(sess))
}
