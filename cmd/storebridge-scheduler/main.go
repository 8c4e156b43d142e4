// storebridge-scheduler — периодические задачи конвейера.
//
// Scheduler:
//   - Пересчитывает RUNNING jobs (исходы, потерянные в очереди)
//   - Переотправляет PENDING jobs, не принятые orchestrator'ом
//
// Тики выполняет только лидер: процесс, удерживающий advisory lock в PostgreSQL.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/storebridge/internal/aggregator"
	"github.com/shaiso/storebridge/internal/config"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/scheduler"
	"github.com/shaiso/storebridge/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "storebridge-scheduler:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", os.Getenv("STOREBRIDGE_CONFIG"))
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting storebridge-scheduler")

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

	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}

	lock := repo.NewAdvisoryLock(pool, cfg.Scheduler.LockKey)
	defer func() {
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unlockCancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()

	sched, err := scheduler.New(scheduler.Config{
		Reconciler:    aggregator.New(aggregator.Config{Store: jobRepo, Metrics: metrics, Logger: logger}),
		Pending:       jobRepo,
		Publisher:     mq.NewPublisher(mqConn, logger),
		Leader:        lock,
		ReconcileSpec: cfg.Scheduler.ReconcileSpec,
		RequeueSpec:   cfg.Scheduler.RequeueSpec,
		PendingGrace:  cfg.Scheduler.PendingGrace,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	mux := telemetry.NewServeMux(reg, map[string]telemetry.HealthCheck{
		"postgres": pool.Ping,
		"rabbitmq": mqConn.Ping,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.SchedulerPort), Handler: mux}
	if err := telemetry.Serve(ctx, srv, logger); err != nil {
		return err
	}

	logger.Info("storebridge-scheduler stopped")
	return nil
}
