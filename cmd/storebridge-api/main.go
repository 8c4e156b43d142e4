// storebridge-api — HTTP API для создания и просмотра jobs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/storebridge/internal/api"
	"github.com/shaiso/storebridge/internal/config"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storebridge-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", os.Getenv("STOREBRIDGE_CONFIG"))
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting storebridge-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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
	logger.Info("connected to database")

	reg := telemetry.NewRegistry()
	checks := map[string]telemetry.HealthCheck{"postgres": pool.Ping}
	handlerCfg := api.Config{
		Jobs:    repo.NewJobRepo(pool),
		Items:   repo.NewItemRepo(pool),
		Metrics: telemetry.NewMetrics(reg),
		Logger:  logger,
	}

	// Без RabbitMQ jobs остаются PENDING, их переотправит scheduler.
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, jobs will be picked up by scheduler", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		handlerCfg.Publisher = mq.NewPublisher(mqConn, logger)
		checks["rabbitmq"] = mqConn.Ping
	}

	mux := telemetry.NewServeMux(reg, checks)
	api.NewHandler(handlerCfg).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := telemetry.Serve(ctx, srv, logger); err != nil {
		return err
	}

	logger.Info("stopped")
	return nil
}
