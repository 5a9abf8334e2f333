package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestKeyFunc_HeaderPrecedence(t *testing.T) {
	t.Parallel()

	key := NewKeyFunc(KeyConfig{})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "198.51.100.1"}, want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.1", "CF-Connecting-IP": "192.0.2.9"}, want: "198.51.100.1"},
		{name: "cdn", headers: map[string]string{"CF-Connecting-IP": "192.0.2.9"}, want: "192.0.2.9"},
		{name: "empty forwarded falls through", headers: map[string]string{"X-Forwarded-For": " ", "X-Real-IP": "198.51.100.1"}, want: "198.51.100.1"},
		{name: "nothing", headers: nil, want: UnknownClient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, key(request("10.0.0.5:4444", tt.headers)))
		})
	}
}

func TestKeyFunc_CustomOrder(t *testing.T) {
	t.Parallel()

	key := NewKeyFunc(KeyConfig{Headers: []string{"CF-Connecting-IP", "X-Forwarded-For"}})
	r := request("10.0.0.5:4444", map[string]string{"X-Forwarded-For": "203.0.113.7", "CF-Connecting-IP": "192.0.2.9"})
	assert.Equal(t, "192.0.2.9", key(r))
}

func TestKeyFunc_TrustedProxies(t *testing.T) {
	t.Parallel()

	prefixes, err := ParsePrefixes([]string{"10.0.0.0/8", "192.168.1.10"})
	require.NoError(t, err)
	key := NewKeyFunc(KeyConfig{TrustedProxies: prefixes})
	spoofed := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	assert.Equal(t, "203.0.113.7", key(request("10.1.2.3:5000", spoofed)))
	assert.Equal(t, "203.0.113.7", key(request("192.168.1.10:5000", spoofed)))
	assert.Equal(t, "198.51.100.20", key(request("198.51.100.20:5000", spoofed)), "untrusted peer cannot pick its key")
	assert.Equal(t, UnknownClient, key(request("10.1.2.3:5000", nil)))
	assert.Equal(t, UnknownClient, key(request("garbage", spoofed)))
}

func TestParsePrefixes_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParsePrefixes([]string{"10.0.0.0/99"})
	assert.Error(t, err)
	_, err = ParsePrefixes([]string{"not-an-ip"})
	assert.Error(t, err)

	got, err := ParsePrefixes([]string{"", " "})
	require.NoError(t, err)
	assert.Empty(t, got)
}
