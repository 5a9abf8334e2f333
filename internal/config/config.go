// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/shop_access/internal/events"
	"github.com/Skotchmaster/shop_access/internal/ledger"
	"github.com/Skotchmaster/shop_access/internal/tokens"
)

var ErrConfig = errors.New("invalid configuration")

const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	JWTAccessSecret  []byte
	JWTRefreshSecret []byte
	TokenIssuer      string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration

	LedgerBackend string
	SweepInterval time.Duration

	KafkaBrokers []string
	AuditTopic   string

	TrustedProxies   []string
	RateLimitHeaders []string

	CookieSecure bool
	CSRFProtect  bool

	// BootstrapAdmin is created at startup when no user with that name exists.
	BootstrapAdminUsername string
	BootstrapAdminPassword string
}

// Load reads .env if present and then the process environment. Values are
// not checked here, see Validate.
func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}
	return FromEnv()
}

func FromEnv() Config {
	env := EnvDefault("APP_ENV", "development")
	return Config{
		Env:      env,
		HTTPAddr: EnvDefault("HTTP_ADDR", ":8080"),
		LogLevel: EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret:  []byte(os.Getenv("JWT_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		TokenIssuer:      os.Getenv("JWT_ISSUER"),
		AccessTTL:        EnvDuration("ACCESS_TTL", tokens.DefaultAccessTTL),
		RefreshTTL:       EnvDuration("REFRESH_TTL", tokens.DefaultRefreshTTL),

		LedgerBackend: strings.ToLower(EnvDefault("LEDGER_BACKEND", LedgerMemory)),
		SweepInterval: EnvDuration("SWEEP_INTERVAL", ledger.DefaultSweepInterval),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:   EnvDefault("AUDIT_TOPIC", events.DefaultTopic),

		TrustedProxies:   CSV(os.Getenv("TRUSTED_PROXIES")),
		RateLimitHeaders: CSV(os.Getenv("RATE_LIMIT_HEADERS")),

		CookieSecure: EnvBool("COOKIE_SECURE", env == "production"),
		CSRFProtect:  EnvBool("CSRF_PROTECT", false),

		BootstrapAdminUsername: os.Getenv("BOOTSTRAP_ADMIN_USERNAME"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}
}

func (c Config) Tokens() tokens.Config {
	return tokens.Config{
		AccessSecret:  c.JWTAccessSecret,
		RefreshSecret: c.JWTRefreshSecret,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		Issuer:        c.TokenIssuer,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Tokens().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TTL and REFRESH_TTL must be positive"))
	} else if c.AccessTTL >= c.RefreshTTL {
		errs = append(errs, errors.New("ACCESS_TTL must be shorter than REFRESH_TTL"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("missing required env DATABASE_URL"))
	}
	if c.BootstrapAdminUsername != "" && len(c.BootstrapAdminPassword) < 12 {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_PASSWORD must be at least 12 characters"))
	}
	if c.LedgerBackend != LedgerMemory && c.LedgerBackend != LedgerPostgres {
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDuration falls back to def when the value is missing or unparsable.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Notice: bad duration in %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func EnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
