package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/registration"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
	"github.com/shaiso/storebridge/internal/validate"
)

// ItemStore — хранилище items.
type ItemStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Item, error)

	// UpdateVersioned сохраняет item, если версия в БД равна item.Version,
	// и увеличивает item.Version. Иначе — repo.ErrVersionConflict.
	UpdateVersioned(ctx context.Context, item *domain.Item) error
}

// JobStore — чтение job для проверки отмены.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// Scheduler — повторная постановка item в очередь не раньше notBefore.
type Scheduler interface {
	Schedule(ctx context.Context, itemID uuid.UUID, notBefore time.Time) error
}

// Notifier — публикация терминального исхода item.
type Notifier interface {
	PublishOutcome(ctx context.Context, outcome domain.ItemOutcome) error
}

// Marketplace — целевой API регистрации.
type Marketplace interface {
	UploadAsset(ctx context.Context, data []byte, filename string) (string, error)
	RegisterItem(ctx context.Context, listing domain.Listing) (string, error)
}

// AssetSource — источник изображений товара.
type AssetSource interface {
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

// LimiterPolicy — как трактовать недоступность rate limiter.
type LimiterPolicy string

const (
	LimiterUnavailableTransient LimiterPolicy = "transient"
	LimiterUnavailableFatal     LimiterPolicy = "fatal"
)

// Config — конфигурация Executor.
type Config struct {
	Items       ItemStore
	Jobs        JobStore
	Scheduler   Scheduler
	Notifier    Notifier
	Marketplace Marketplace
	Assets      AssetSource
	Validator   *validate.Validator

	// Budget — бюджет ресурса маркетплейса.
	Budget ratelimit.Budget

	// AssetBudget — бюджет каталога для скачивания изображений.
	AssetBudget ratelimit.Budget

	// Policy — политика переходов (retry, обработка отказов rate limiter).
	Policy registration.Policy

	// LimiterUnavailable — политика при ErrUnavailable (default: transient).
	LimiterUnavailable LimiterPolicy

	// CategoryID — категория маркетплейса для листингов.
	CategoryID string

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Now — источник времени (default: time.Now).
	Now func() time.Time
}

// Executor — драйвер регистрации одного item.
// Не хранит состояние между вызовами Process и безопасен для конкурентного использования.
type Executor struct {
	items       ItemStore
	jobs        JobStore
	scheduler   Scheduler
	notifier    Notifier
	marketplace Marketplace
	assets      AssetSource
	validator   *validate.Validator

	budget             ratelimit.Budget
	assetBudget        ratelimit.Budget
	policy             registration.Policy
	limiterUnavailable LimiterPolicy
	categoryID         string

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validate.New(nil)
	}
	policy := cfg.Policy
	if policy.RateLimitDelay <= 0 {
		policy.RateLimitDelay = cfg.Budget.Window
	}
	lp := cfg.LimiterUnavailable
	if lp == "" {
		lp = LimiterUnavailableTransient
	}

	return &Executor{
		items:              cfg.Items,
		jobs:               cfg.Jobs,
		scheduler:          cfg.Scheduler,
		notifier:           cfg.Notifier,
		marketplace:        cfg.Marketplace,
		assets:             cfg.Assets,
		validator:          validator,
		budget:             cfg.Budget,
		assetBudget:        cfg.AssetBudget,
		policy:             policy,
		limiterUnavailable: lp,
		categoryID:         cfg.CategoryID,
		metrics:            cfg.Metrics,
		logger:             logger,
		now:                now,
	}
}

// Process проводит item через шаги, пока он не станет терминальным,
// не уйдёт в RETRYING или не будет остановлен отменой job.
func (e *Executor) Process(ctx context.Context, itemID uuid.UUID) error {
	logger := telemetry.WithItemID(e.logger, itemID.String())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := e.items.GetByID(ctx, itemID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				logger.Warn("item not found, dropping")
				return nil
			}
			return fmt.Errorf("load item: %w", err)
		}

		if item.State.IsTerminal() {
			logger.Debug("item already terminal", "state", item.State)
			return nil
		}
		if !item.IsDue(e.now()) {
			logger.Debug("item retry not due yet", "next_attempt_at", item.NextAttemptAt)
			return nil
		}

		job, err := e.jobs.GetByID(ctx, item.JobID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.Status == domain.JobStatusCancelled {
			logger.Info("job cancelled, stopping item", "job_id", job.ID, "state", item.State)
			return nil
		}

		done, err := e.Step(ctx, item)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step выполняет одну попытку текущего шага item и сохраняет результат.
// Возвращает true, если обработку нужно прекратить (RETRYING, терминальное состояние
// или конфликт версии).
func (e *Executor) Step(ctx context.Context, item *domain.Item) (bool, error) {
	logger := telemetry.WithJobID(telemetry.WithItemID(e.logger, item.ID.String()), item.JobID.String())

	snap := registration.SnapshotOf(item)
	step, err := registration.StepFor(snap.Phase())
	if err != nil {
		return true, fmt.Errorf("item %s: %w", item.ID, err)
	}

	next := item.Clone()
	started := e.now()
	stepErr := e.runStep(ctx, next, step)
	if stepErr != nil && ctx.Err() != nil {
		// остановка процесса: попытку не засчитываем, item будет доставлен повторно
		return true, ctx.Err()
	}

	outcome := e.classify(stepErr)
	e.metrics.StepDuration(string(step.Name), outcome.String(), e.now().Sub(started))

	decision, err := registration.Transition(snap, outcome, e.policy)
	if err != nil {
		return true, fmt.Errorf("transition item %s: %w", item.ID, err)
	}

	now := e.now().UTC()
	if stepErr != nil {
		next.RecordError(domain.KindOf(stepErr), stepErr.Error())
	}
	next.State = decision.Next
	next.ResumeState = decision.Resume
	next.RetryCount = decision.RetryCount
	next.NextAttemptAt = nil
	if decision.Retrying() {
		at := now.Add(decision.Backoff)
		next.NextAttemptAt = &at
	}
	next.UpdatedAt = now

	if err := e.items.UpdateVersioned(ctx, next); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			logger.Warn("item changed concurrently, discarding attempt", "step", step.Name)
			return true, nil
		}
		return true, fmt.Errorf("save item: %w", err)
	}

	e.metrics.ItemTransition(string(item.State), string(next.State))
	logger.Info("item step finished",
		"step", step.Name,
		"outcome", outcome.String(),
		"from", item.State,
		"to", next.State,
		"retry_count", next.RetryCount,
	)

	switch {
	case decision.Retrying():
		if err := e.scheduler.Schedule(ctx, next.ID, *next.NextAttemptAt); err != nil {
			// item уже сохранён с NextAttemptAt, его подберёт polling
			logger.Error("failed to schedule retry", "error", err)
		}
		return true, nil

	case next.State.IsTerminal():
		if next.State != domain.ItemStateCompleted {
			logger.Warn("item finished unsuccessfully",
				"state", next.State,
				"last_error_kind", next.LastErrorKind,
				"last_error", next.LastErrorMessage,
			)
		}
		if err := e.notifier.PublishOutcome(ctx, next.Outcome()); err != nil {
			// агрегатор досчитает при reconcile
			logger.Error("failed to publish item outcome", "error", err)
		}
		return true, nil
	}

	return false, nil
}

// classify переводит ошибку шага в исход с учётом политики недоступности limiter.
// Бесплатный повтор (OutcomeRateLimited) только когда бюджет не получен и вызова не было.
func (e *Executor) classify(err error) registration.Outcome {
	if err == nil {
		return registration.OutcomeSuccess
	}
	if errors.Is(err, ratelimit.ErrNoBudget) {
		return registration.OutcomeRateLimited
	}
	kind := domain.KindOf(err)
	if kind == domain.ErrorKindLimiterUnavailable {
		if e.limiterUnavailable == LimiterUnavailableFatal {
			return registration.OutcomeFatal
		}
		return registration.OutcomeTransient
	}
	return registration.Classify(kind)
}
