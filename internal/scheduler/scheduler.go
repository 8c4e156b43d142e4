package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Default configuration values.
const (
	DefaultReconcileSpec = "@every 30s"
	DefaultRequeueSpec   = "@every 1m"
	defaultPendingGrace  = 2 * time.Minute
)

// Reconciler досчитывает исходы RUNNING jobs.
type Reconciler interface {
	ReconcileRunning(ctx context.Context) (int, error)
}

// PendingJobs отдаёт PENDING jobs, созданные раньше before.
type PendingJobs interface {
	ListStalePending(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

// JobPublisher ставит job на приём.
type JobPublisher interface {
	PublishJobPending(ctx context.Context, jobID uuid.UUID) error
}

// Leader — блокировка лидера. Только держатель выполняет тики.
type Leader interface {
	TryLock(ctx context.Context) (bool, error)
}

// Scheduler — периодическое обслуживание jobs.
//
// Задачи:
//   - reconcile: досчитать исходы items, уведомления о которых потерялись,
//     и завершить разрешённые jobs
//   - requeue: повторно опубликовать jobs, застрявшие в PENDING
//     (сообщение jobs.pending потеряно)
type Scheduler struct {
	reconciler Reconciler
	pending    PendingJobs
	publisher  JobPublisher
	leader     Leader

	reconcileSpec string
	requeueSpec   string
	pendingGrace  time.Duration

	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Reconciler Reconciler
	Pending    PendingJobs
	Publisher  JobPublisher

	// Leader — блокировка лидера (nil — тики выполняются всегда).
	Leader Leader

	ReconcileSpec string        // расписание reconcile (default: @every 30s)
	RequeueSpec   string        // расписание requeue (default: @every 1m)
	PendingGrace  time.Duration // возраст PENDING job для requeue (default: 2m)

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Scheduler и проверяет расписания.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		reconciler:    cfg.Reconciler,
		pending:       cfg.Pending,
		publisher:     cfg.Publisher,
		leader:        cfg.Leader,
		reconcileSpec: cfg.ReconcileSpec,
		requeueSpec:   cfg.RequeueSpec,
		pendingGrace:  cfg.PendingGrace,
		logger:        logger,
		now:           now,
	}
	if s.reconcileSpec == "" {
		s.reconcileSpec = DefaultReconcileSpec
	}
	if s.requeueSpec == "" {
		s.requeueSpec = DefaultRequeueSpec
	}
	if s.pendingGrace <= 0 {
		s.pendingGrace = defaultPendingGrace
	}
	if err := ValidateCronExpr(s.reconcileSpec); err != nil {
		return nil, fmt.Errorf("reconcile spec: %w", err)
	}
	if err := ValidateCronExpr(s.requeueSpec); err != nil {
		return nil, fmt.Errorf("requeue spec: %w", err)
	}
	return s, nil
}

// Start регистрирует задачи в cron и запускает его.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(s.reconcileSpec, func() { s.runTick(ctx, "reconcile", s.ReconcileTick) }); err != nil {
		return fmt.Errorf("add reconcile job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.requeueSpec, func() { s.runTick(ctx, "requeue", s.RequeueTick) }); err != nil {
		return fmt.Errorf("add requeue job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"reconcile_spec", s.reconcileSpec,
		"requeue_spec", s.requeueSpec,
		"pending_grace", s.pendingGrace,
	)
	return nil
}

// Stop останавливает cron и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runTick выполняет задачу, если процесс — лидер.
func (s *Scheduler) runTick(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	if ctx.Err() != nil {
		return
	}
	if s.leader != nil {
		ok, err := s.leader.TryLock(ctx)
		if err != nil {
			s.logger.Error("leader lock failed", "task", name, "error", err)
			return
		}
		if !ok {
			return
		}
	}

	n, err := fn(ctx)
	if err != nil {
		s.logger.Error("scheduler task failed", "task", name, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduler task completed", "task", name, "affected", n)
	}
}

// ReconcileTick досчитывает исходы всех RUNNING jobs.
// Возвращает число завершённых jobs.
func (s *Scheduler) ReconcileTick(ctx context.Context) (int, error) {
	return s.reconciler.ReconcileRunning(ctx)
}

// RequeueTick повторно публикует jobs, застрявшие в PENDING.
// Ошибка публикации одного job не останавливает остальные.
func (s *Scheduler) RequeueTick(ctx context.Context) (int, error) {
	ids, err := s.pending.ListStalePending(ctx, s.now().Add(-s.pendingGrace))
	if err != nil {
		return 0, fmt.Errorf("list stale pending jobs: %w", err)
	}

	published := 0
	for _, id := range ids {
		if err := s.publisher.PublishJobPending(ctx, id); err != nil {
			s.logger.Warn("failed to republish job.pending", "job_id", id, "error", err)
			continue
		}
		published++
	}
	return published, nil
}
