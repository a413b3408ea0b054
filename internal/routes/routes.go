package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/auth"
	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/identity"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/metrics"
	"github.com/congo-pay/wallet_ledger/internal/middleware"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/validation"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. Ledger,
// Notifier, Metrics and Gatherer are optional.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Ledger   ledger.Store
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(helmet.New())
	app.Use(middleware.HTTPMetrics(d.Metrics))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Gatherer)

	store := d.Ledger
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB, d.Cfg.LockTimeout)
		} else {
			store = ledger.NewInMemory(ledger.WithLockTimeout(d.Cfg.LockTimeout))
		}
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}

	walletSvc := wallet.NewService(store, notifier, d.Logger,
		wallet.WithMetrics(d.Metrics),
		wallet.WithAccountNumberRetries(d.Cfg.AccountNumberRetries),
	)
	identitySvc := identity.NewService(identityRepo)
	tokens := auth.NewTokenManager(d.Cfg.JWTSecret, d.Cfg.RefreshSecret, d.Cfg.AccessTokenTTL, d.Cfg.RefreshTokenTTL)
	authSvc := auth.NewService(tokens, identitySvc)

	validate := validation.New()
	identityHandler := identity.NewHandler(identitySvc, walletSvc, validate, d.Logger)
	authHandler := auth.NewHandler(authSvc, validate)
	walletHandler := wallet.NewHandler(walletSvc, validate)

	api := app.Group("/api/v1", middleware.RateLimit(d.Cache, "api", d.Cfg.RateLimitPerMinute, middleware.ByIP))

	loginLimiter := middleware.RateLimit(d.Cache, "login", d.Cfg.LoginRateLimit, middleware.ByEmailOrIP)
	RegisterAuthRoutes(api, identityHandler, authHandler, loginLimiter)

	protected := api.Group("",
		middleware.JWTAuth(authSvc),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	RegisterAccountRoutes(protected, identityHandler, authHandler)
	RegisterWalletRoutes(protected, walletHandler)

	return nil
}
