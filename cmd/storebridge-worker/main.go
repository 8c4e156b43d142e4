// storebridge-worker — регистрирует items в маркетплейсе.
//
// Worker:
//   - Получает items из очереди items.ready
//   - Подбирает созревшие RETRYING и потерянные items polling'ом
//   - Проводит item через шаги регистрации под общим rate limit маркетплейса
//   - Публикует терминальные исходы в items.completed
//
// Workers масштабируются горизонтально: лимит маркетплейса общий через Redis.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/storebridge/internal/config"
	"github.com/shaiso/storebridge/internal/connector/catalog"
	"github.com/shaiso/storebridge/internal/connector/marketplace"
	"github.com/shaiso/storebridge/internal/executor"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/registration"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
	"github.com/shaiso/storebridge/internal/validate"
	"github.com/shaiso/storebridge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storebridge-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", os.Getenv("STOREBRIDGE_CONFIG"))
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting storebridge-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	logger.Info("database connected")

	itemRepo := repo.NewItemRepo(pool)
	jobRepo := repo.NewJobRepo(pool)

	// Rate limiter
	limiter, closeLimiter, err := ratelimit.Open(ctx, cfg.RateLimit.Backend, cfg.Redis.URL, cfg.Limits(),
		ratelimit.WithMetrics(metrics), ratelimit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open rate limiter: %w", err)
	}
	defer closeLimiter()
	logger.Info("rate limiter ready", "backend", cfg.RateLimit.Backend)

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	// Внешние API
	marketBudget := ratelimit.Budget{
		Limiter:     limiter,
		Resource:    ratelimit.ResourceMarketplace,
		MaxRetries:  cfg.RateLimit.Acquire.MaxRetries,
		BaseBackoff: cfg.RateLimit.Acquire.BaseBackoff,
		Window:      cfg.RateLimit.Marketplace.Window,
	}
	catalogBudget := ratelimit.Budget{
		Limiter:     limiter,
		Resource:    ratelimit.ResourceCatalog,
		MaxRetries:  cfg.RateLimit.Acquire.MaxRetries,
		BaseBackoff: cfg.RateLimit.Acquire.BaseBackoff,
		Window:      cfg.RateLimit.Catalog.Window,
	}
	market, err := marketplace.New(marketplace.Config{
		BaseURL:      cfg.Marketplace.BaseURL,
		ClientID:     cfg.Marketplace.ClientID,
		ClientSecret: cfg.Marketplace.ClientSecret,
		Timeout:      cfg.Marketplace.Timeout,
		Gate:         executor.BudgetGate(marketBudget),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	assets, err := catalog.New(catalog.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		APIKey:   cfg.Catalog.APIKey,
		Timeout:  cfg.Catalog.Timeout,
		PageSize: cfg.Catalog.PageSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	exec := executor.New(executor.Config{
		Items:       itemRepo,
		Jobs:        jobRepo,
		Scheduler:   publisher,
		Notifier:    publisher,
		Marketplace: market,
		Assets:      assets,
		Validator:   validate.New(cfg.Validation.ForbiddenWords),
		Budget:      marketBudget,
		AssetBudget: catalogBudget,
		Policy: registration.Policy{
			Retry:                  cfg.Retry.RetryPolicy,
			RateLimitConsumesRetry: cfg.Retry.RateLimitConsumesRetry,
		},
		LimiterUnavailable: executor.LimiterPolicy(cfg.Retry.LimiterUnavailable),
		CategoryID:         cfg.Marketplace.CategoryID,
		Metrics:            metrics,
		Logger:             logger,
	})

	w := worker.New(worker.Config{
		Processor:    exec,
		Due:          itemRepo,
		Conn:         mqConn,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		StaleAfter:   cfg.Worker.StaleAfter,
		Logger:       logger,
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	// HTTP: /healthz + /metrics
	mux := telemetry.NewServeMux(reg, map[string]telemetry.HealthCheck{
		"postgres": pool.Ping,
		"rabbitmq": mqConn.Ping,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.WorkerPort), Handler: mux}
	if err := telemetry.Serve(ctx, srv, logger); err != nil {
		return err
	}

	logger.Info("storebridge-worker stopped")
	return nil
}
