package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/shop_access/internal/domain"
)

func TestMiddleware_HeadersAndDenial(t *testing.T) {
	t.Parallel()

	c := newClock()
	l := New(Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 2}, WithClock(c.Now))
	e := echo.New()
	h := Middleware(l, NewKeyFunc(KeyConfig{}))(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	call := func() (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		rec := httptest.NewRecorder()
		return rec, h(e.NewContext(req, rec))
	}

	rec, err := call()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get(HeaderLimit))
	assert.Equal(t, "1", rec.Header().Get(HeaderRemaining))
	reset, err := time.Parse(time.RFC3339, rec.Header().Get(HeaderReset))
	require.NoError(t, err)
	assert.True(t, reset.Equal(c.Now().Add(15*time.Minute)))

	_, err = call()
	require.NoError(t, err)

	rec, err = call()
	require.Error(t, err)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.True(t, errors.Is(he.Internal, domain.ErrRateLimited))
	assert.Equal(t, "300", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))
}
