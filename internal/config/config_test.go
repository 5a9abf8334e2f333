package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/shop_access/internal/tokens"
)

const (
	goodAccess  = "access-secret-0123456789abcdef-xyz"
	goodRefresh = "refresh-secret-0123456789abcdef-xy"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("ACCESS_TTL", "")
	t.Setenv("REFRESH_TTL", "")
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("COOKIE_SECURE", "")
	t.Setenv("KAFKA_BROKERS", "")

	c := FromEnv()
	assert.Equal(t, "development", c.Env)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, tokens.DefaultAccessTTL, c.AccessTTL)
	assert.Equal(t, tokens.DefaultRefreshTTL, c.RefreshTTL)
	assert.Equal(t, LedgerMemory, c.LedgerBackend)
	assert.False(t, c.CookieSecure)
	assert.Nil(t, c.KafkaBrokers)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ACCESS_TTL", "5m")
	t.Setenv("REFRESH_TTL", "not-a-duration")
	t.Setenv("LEDGER_BACKEND", "Postgres")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")
	t.Setenv("COOKIE_SECURE", "")

	c := FromEnv()
	assert.Equal(t, "production", c.Env)
	assert.True(t, c.CookieSecure)
	assert.Equal(t, 5*time.Minute, c.AccessTTL)
	assert.Equal(t, tokens.DefaultRefreshTTL, c.RefreshTTL)
	assert.Equal(t, LedgerPostgres, c.LedgerBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, []string{"10.0.0.0/8"}, c.TrustedProxies)
}

func validConfig() Config {
	return Config{
		JWTAccessSecret:  []byte(goodAccess),
		JWTRefreshSecret: []byte(goodRefresh),
		AccessTTL:        tokens.DefaultAccessTTL,
		RefreshTTL:       tokens.DefaultRefreshTTL,
		LedgerBackend:    LedgerMemory,
		SweepInterval:    time.Minute,
		DatabaseURL:      "postgres://localhost/access",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		weak   bool
	}{
		{"missing access secret", func(c *Config) { c.JWTAccessSecret = nil }, true},
		{"short refresh secret", func(c *Config) { c.JWTRefreshSecret = []byte("short") }, true},
		{"equal secrets", func(c *Config) { c.JWTRefreshSecret = c.JWTAccessSecret }, true},
		{"access outlives refresh", func(c *Config) { c.AccessTTL = 200 * time.Hour }, false},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, false},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, false},
		{"short bootstrap password", func(c *Config) { c.BootstrapAdminUsername = "root"; c.BootstrapAdminPassword = "short" }, false},
		{"unknown backend", func(c *Config) { c.LedgerBackend = "redis" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.ErrorIs(t, err, ErrConfig)
			if tt.weak {
				assert.ErrorIs(t, err, tokens.ErrWeakSecret)
			}
		})
	}
}

func TestCSV(t *testing.T) {
	t.Parallel()

	assert.Nil(t, CSV(""))
	assert.Equal(t, []string{"a", "b"}, CSV(" a ,,b "))
}
