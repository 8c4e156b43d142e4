// storebridge-orchestrator — приём jobs и агрегация исходов.
//
// Orchestrator:
//   - Получает новые jobs из jobs.pending
//   - Выбирает товары каталога под rate limit каталога и создаёт items
//   - Публикует items в items.ready
//   - Учитывает исходы из items.completed и завершает разрешённые jobs
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/storebridge/internal/aggregator"
	"github.com/shaiso/storebridge/internal/config"
	"github.com/shaiso/storebridge/internal/connector/catalog"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/orchestrator"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storebridge-orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", os.Getenv("STOREBRIDGE_CONFIG"))
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting storebridge-orchestrator")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

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

	jobRepo := repo.NewJobRepo(pool)
	itemRepo := repo.NewItemRepo(pool)

	limiter, closeLimiter, err := ratelimit.Open(ctx, cfg.RateLimit.Backend, cfg.Redis.URL, cfg.Limits(),
		ratelimit.WithMetrics(metrics), ratelimit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open rate limiter: %w", err)
	}
	defer closeLimiter()

	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	logger.Info("rabbitmq connected")
	logger.Debug(mq.TopologyInfo())
	publisher := mq.NewPublisher(mqConn, logger)

	source, err := catalog.New(catalog.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		APIKey:   cfg.Catalog.APIKey,
		Timeout:  cfg.Catalog.Timeout,
		PageSize: cfg.Catalog.PageSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	intake := orchestrator.NewIntake(orchestrator.IntakeConfig{
		Jobs:      jobRepo,
		Items:     itemRepo,
		Catalog:   source,
		Publisher: publisher,
		Budget: ratelimit.Budget{
			Limiter:     limiter,
			Resource:    ratelimit.ResourceCatalog,
			MaxRetries:  cfg.RateLimit.Acquire.MaxRetries,
			BaseBackoff: cfg.RateLimit.Acquire.BaseBackoff,
			Window:      cfg.RateLimit.Catalog.Window,
		},
		PageRetries: cfg.Catalog.PageRetries,
		Metrics:     metrics,
		Logger:      logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Intake:     intake,
		Aggregator: aggregator.New(aggregator.Config{Store: jobRepo, Metrics: metrics, Logger: logger}),
		Conn:       mqConn,
		Prefetch:   cfg.Orchestrator.Prefetch,
		Logger:     logger,
	})
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orch.Stop()

	mux := telemetry.NewServeMux(reg, map[string]telemetry.HealthCheck{
		"postgres": pool.Ping,
		"rabbitmq": mqConn.Ping,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.OrchestratorPort), Handler: mux}
	if err := telemetry.Serve(ctx, srv, logger); err != nil {
		return err
	}

	logger.Info("storebridge-orchestrator stopped")
	return nil
}
