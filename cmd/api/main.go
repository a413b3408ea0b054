package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/infra"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/metrics"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/reconcile"
	"github.com/congo-pay/wallet_ledger/internal/routes"
	"github.com/congo-pay/wallet_ledger/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := infra.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		db = pool
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	} else {
		logger.Warn("REDIS_URL not set, idempotency and rate limiting disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgresStore(db, cfg.LockTimeout)
	} else {
		store = ledger.NewInMemory(ledger.WithLockTimeout(cfg.LockTimeout))
	}

	notifiers := notification.Fanout{notification.NewLoggerNotifier(logger)}
	if conn := dialBroker(cfg, logger); conn != nil {
		defer conn.Close()
		publisher, err := notification.NewAMQPNotifier(conn, cfg.LedgerExchange)
		if err != nil {
			logger.Warn("ledger events will not be published", "error", err)
		} else {
			defer publisher.Close()
			notifiers = append(notifiers, publisher)
		}
	}
	async := notification.NewAsync(notifiers, 4, 1024, logger)
	defer async.Close()

	scheduler, err := reconcile.NewScheduler(reconcile.New(store, m, logger), cfg.ReconcileSchedule, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Ledger:   store,
		Notifier: async,
		Metrics:  m,
		Gatherer: reg,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// dialBroker connects to RabbitMQ when configured. Failure falls back to
// log-only notifications.
func dialBroker(cfg config.Config, logger *slog.Logger) *amqp091.Connection {
	if cfg.RabbitMQURL == "" {
		return nil
	}
	conn, err := infra.NewRabbitMQConnection(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq unavailable, ledger events will only be logged", "error", err)
		return nil
	}
	return conn
}
