package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/Skotchmaster/shop_access/internal/config"
	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/events"
	"github.com/Skotchmaster/shop_access/internal/handlers"
	"github.com/Skotchmaster/shop_access/internal/impersonation"
	"github.com/Skotchmaster/shop_access/internal/ledger"
	"github.com/Skotchmaster/shop_access/internal/metrics"
	"github.com/Skotchmaster/shop_access/internal/middleware"
	"github.com/Skotchmaster/shop_access/internal/ratelimit"
	"github.com/Skotchmaster/shop_access/internal/repo"
	"github.com/Skotchmaster/shop_access/internal/service"
	"github.com/Skotchmaster/shop_access/internal/tokens"
	httpserver "github.com/Skotchmaster/shop_access/internal/transport/http"
	"github.com/Skotchmaster/shop_access/pkg/db"
	"github.com/Skotchmaster/shop_access/pkg/logging"
	loggingmw "github.com/Skotchmaster/shop_access/pkg/middleware/logging"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "access")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("db_init_failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb, cfg.LedgerBackend == config.LedgerPostgres); err != nil {
		logger.Error("db_migrate_failed", "error", err)
		os.Exit(1)
	}

	users := repo.NewGormRepo(gdb)
	if err := bootstrapAdmin(logging.IntoContext(ctx, logger), users, cfg); err != nil {
		logger.Error("bootstrap_admin_failed", "error", err)
		os.Exit(1)
	}

	var led ledger.Ledger = ledger.NewMemory()
	if cfg.LedgerBackend == config.LedgerPostgres {
		led = ledger.NewGorm(gdb)
	}

	m := metrics.New()
	issuer, err := tokens.NewIssuer(cfg.Tokens(), led, tokens.WithObserver(m.TokenVerified))
	if err != nil {
		logger.Error("issuer_init_failed", "error", err)
		os.Exit(1)
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		prod, err := events.NewProducer(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			logger.Error("kafka_init_failed", "error", err)
			os.Exit(1)
		}
		pub = prod
	}

	proxies, err := ratelimit.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		logger.Error("trusted_proxies_invalid", "error", err)
		os.Exit(1)
	}
	limiters := map[string]*ratelimit.Limiter{}
	for _, p := range []ratelimit.Policy{ratelimit.AuthPolicy, ratelimit.APIPolicy, ratelimit.SensitivePolicy} {
		limiters[p.Name] = ratelimit.New(p, ratelimit.WithObserver(m.RateLimitDecision))
	}

	svc := &service.AuthService{
		Users:           users,
		Credentials:     users,
		Issuer:          issuer,
		Ledger:          led,
		Imp:             impersonation.NewController(users),
		Events:          pub,
		OnImpersonation: m.Impersonation,
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID(), echomw.Secure(), loggingmw.RequestLogger(logger))

	deps := &httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{Svc: svc, Cookies: handlers.CookieConfig{Secure: cfg.CookieSecure}},
		Verifier:    issuer,
		Limiters: httpserver.Limiters{
			Auth:      limiters[ratelimit.AuthPolicy.Name],
			API:       limiters[ratelimit.APIPolicy.Name],
			Sensitive: limiters[ratelimit.SensitivePolicy.Name],
			Key:       ratelimit.NewKeyFunc(ratelimit.KeyConfig{Headers: cfg.RateLimitHeaders, TrustedProxies: proxies}),
		},
		Metrics: m.Handler(),
		Ready: func(ctx context.Context) error {
			return db.Ping(ctx, gdb)
		},
	}
	if cfg.CSRFProtect {
		csrf := middleware.DefaultCSRFConfig()
		csrf.Secure = cfg.CookieSecure
		deps.CSRF = &csrf
	}
	httpserver.Register(e, deps)

	go ledger.RunSweeper(ctx, led, cfg.SweepInterval, logger, m.LedgerSize)
	for _, l := range limiters {
		go l.Run(ctx, ratelimit.DefaultSweepInterval, logger)
	}

	go func() {
		logger.Info("http_listen", "addr", cfg.HTTPAddr, "env", cfg.Env, "ledger", cfg.LedgerBackend)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	if err := pub.Close(); err != nil {
		logger.Error("kafka_close_failed", "error", err)
	}
	closeDB(logger, gdb)
	logger.Info("shutdown_complete")
}

func bootstrapAdmin(ctx context.Context, users *repo.GormRepo, cfg config.Config) error {
	if cfg.BootstrapAdminUsername == "" {
		return nil
	}
	_, err := users.CreateUser(ctx, domain.UserRecord{
		Username:    cfg.BootstrapAdminUsername,
		DisplayName: cfg.BootstrapAdminUsername,
		Role:        domain.RoleAdmin,
		Active:      true,
	}, cfg.BootstrapAdminPassword)
	switch {
	case err == nil:
		logging.FromContext(ctx).Info("bootstrap_admin_created", "username", cfg.BootstrapAdminUsername)
		return nil
	case errors.Is(err, repo.ErrUserAlreadyExist):
		return nil
	default:
		return fmt.Errorf("create admin: %w", err)
	}
}

func closeDB(logger *slog.Logger, gdb *gorm.DB) {
	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Error("db_handle_failed", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("db_close_failed", "error", err)
	}
}
