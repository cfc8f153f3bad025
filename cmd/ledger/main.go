package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tto-ledger/ledger/cmd/ledger/cli"
	"github.com/tto-ledger/ledger/internal/allocations"
	"github.com/tto-ledger/ledger/internal/app"
	"github.com/tto-ledger/ledger/internal/audit"
	audithttp "github.com/tto-ledger/ledger/internal/audit/http"
	"github.com/tto-ledger/ledger/internal/balances"
	"github.com/tto-ledger/ledger/internal/ledger"
	ledgerhttp "github.com/tto-ledger/ledger/internal/ledger/http"
	"github.com/tto-ledger/ledger/internal/notify"
	"github.com/tto-ledger/ledger/internal/observability"
	"github.com/tto-ledger/ledger/internal/payments"
	"github.com/tto-ledger/ledger/internal/platform/cache"
	"github.com/tto-ledger/ledger/internal/platform/db"
	"github.com/tto-ledger/ledger/internal/projects"
	"github.com/tto-ledger/ledger/internal/shared"
	"github.com/tto-ledger/ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	command, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	switch command.Name {
	case cli.CmdMigrate:
		err = runMigrate(cfg, command, logger)
	case cli.CmdJobs:
		err = runJobs(ctx, cfg, command, logger)
	default:
		err = serve(ctx, stop, cfg, logger)
	}
	if err != nil {
		logger.Error(command.Name, slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrate(cfg *app.Config, command cli.Command, logger *slog.Logger) error {
	if command.Direction == "down" {
		if err := db.MigrateDown(cfg.PGDSN, command.Steps); err != nil {
			return err
		}
		logger.Info("migrations rolled back", slog.Int("steps", command.Steps))
		return nil
	}
	if err := db.Migrate(cfg.PGDSN); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, command cli.Command, logger *slog.Logger) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	if command.Action == "trigger" {
		info, err := jobsCLI.Trigger(ctx, command.Target)
		if err != nil {
			return err
		}
		logger.Info("job enqueued", slog.String("task", info.Type), slog.String("id", info.ID), slog.String("queue", info.Queue))
		return nil
	}
	stats, err := jobsCLI.InspectQueue(ctx, command.Target)
	if err != nil {
		return err
	}
	logger.Info("queue stats",
		slog.String("queue", stats.Queue),
		slog.Int("pending", stats.Pending),
		slog.Int("active", stats.Active),
		slog.Int("scheduled", stats.Scheduled),
		slog.Int("retry", stats.Retry),
		slog.Int("archived", stats.Archived))
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return err
		}
		logger.Info("migrations applied on start")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient := asynq.NewClient(redisOpts)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	formatter, err := notify.NewFormatter(cfg.Currency, cfg.Locale)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	engine := ledger.NewEngine(ledger.Config{
		Projects:    projects.NewRepository(dbpool),
		Balances:    balances.NewRepository(dbpool),
		Allocations: allocations.NewRepository(dbpool),
		Payments:    payments.NewRepository(dbpool),
		Locker:      shared.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockWait),
		Audit:       shared.NewAuditLogger(dbpool),
		Notifier:    notify.NewAsynqNotifier(queueClient, cfg.NotifyQueue),
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Formatter:   formatter,
		Metrics:     metrics.Ledger(),
		Logger:      logger,
		Retry:       shared.RetryPolicy{Attempts: cfg.ConflictRetries, Backoff: cfg.ConflictBackoff},
	})

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Ledger:     ledgerhttp.NewHandler(engine, logger),
		Audit:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler: jobs.NewHandler(inspector, logger, jobs.QueueDefault, cfg.NotifyQueue),
		Metrics:    metrics,
		Health:     healthChecks(dbpool, redisClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func healthChecks(pool *pgxpool.Pool, client *redis.Client) []app.HealthCheck {
	return []app.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return client.Ping(ctx).Err() }},
	}
}
