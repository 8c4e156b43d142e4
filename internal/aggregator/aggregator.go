package aggregator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/telemetry"
)

// Store — хранилище счётчиков job.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ApplyOutcome атомарно фиксирует исход item и, если он новый,
	// увеличивает счётчик и ErrorSummary job. Для терминального job ничего не меняет.
	// Возвращает applied=false для повторного исхода.
	ApplyOutcome(ctx context.Context, outcome domain.ItemOutcome) (applied bool, err error)

	// Finalize переводит job из RUNNING в status. Возвращает false, если job уже не RUNNING.
	Finalize(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg string) (bool, error)

	// CountItemStates считает items job по состояниям.
	CountItemStates(ctx context.Context, jobID uuid.UUID) (map[domain.ItemState]int, error)

	// UnrecordedOutcomes возвращает терминальные items job, исход которых ещё не учтён.
	UnrecordedOutcomes(ctx context.Context, jobID uuid.UUID) ([]domain.ItemOutcome, error)

	// ListRunningIDs возвращает ID job в статусе RUNNING.
	ListRunningIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Config — конфигурация Aggregator.
type Config struct {
	Store   Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Aggregator — агрегатор исходов items.
type Aggregator struct {
	store   Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New создаёт Aggregator.
func New(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: cfg.Store, metrics: cfg.Metrics, logger: logger}
}

// RecordOutcome учитывает терминальный исход item и завершает job, если он разрешён.
// Идемпотентен.
func (a *Aggregator) RecordOutcome(ctx context.Context, outcome domain.ItemOutcome) error {
	if !outcome.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, outcome.State)
	}
	logger := telemetry.WithJobID(a.logger, outcome.JobID.String())

	applied, err := a.store.ApplyOutcome(ctx, outcome)
	if err != nil {
		return fmt.Errorf("apply outcome: %w", err)
	}
	if applied {
		a.metrics.JobOutcome(string(outcome.State))
		logger.Debug("item outcome recorded", "item_id", outcome.ItemID, "state", outcome.State)
	} else {
		logger.Debug("duplicate item outcome ignored", "item_id", outcome.ItemID)
	}

	_, err = a.finalizeIfResolved(ctx, outcome.JobID)
	return err
}

// IsJobResolved возвращает true, если все items job терминальны и учтены в счётчиках.
func (a *Aggregator) IsJobResolved(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := a.store.GetByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("get job: %w", err)
	}
	return a.resolved(ctx, job)
}

func (a *Aggregator) resolved(ctx context.Context, job *domain.Job) (bool, error) {
	if !job.IsResolved() {
		return false, nil
	}
	counts, err := a.store.CountItemStates(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("count item states: %w", err)
	}
	for state, n := range counts {
		if !state.IsTerminal() && n > 0 {
			return false, nil
		}
	}
	return true, nil
}

// finalizeIfResolved переводит RUNNING job в COMPLETED, если он разрешён.
func (a *Aggregator) finalizeIfResolved(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := a.store.GetByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("get job: %w", err)
	}
	if job.Status != domain.JobStatusRunning {
		return false, nil
	}

	ok, err := a.resolved(ctx, job)
	if err != nil || !ok {
		return false, err
	}

	finalized, err := a.store.Finalize(ctx, job.ID, domain.JobStatusCompleted, "")
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	if finalized {
		a.metrics.JobFinalized(string(domain.JobStatusCompleted))
		telemetry.WithJobID(a.logger, job.ID.String()).Info("job completed",
			"total", job.TotalCount,
			"success", job.SuccessCount,
			"failed", job.FailedCount,
			"manual_review", job.ManualReviewCount,
		)
	}
	return finalized, nil
}

// Reconcile досчитывает исходы, уведомления о которых потерялись, и завершает job при необходимости.
func (a *Aggregator) Reconcile(ctx context.Context, jobID uuid.UUID) (bool, error) {
	missing, err := a.store.UnrecordedOutcomes(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("unrecorded outcomes: %w", err)
	}
	for _, o := range missing {
		applied, err := a.store.ApplyOutcome(ctx, o)
		if err != nil {
			return false, fmt.Errorf("apply outcome: %w", err)
		}
		if applied {
			a.metrics.JobOutcome(string(o.State))
		}
	}
	if len(missing) > 0 {
		telemetry.WithJobID(a.logger, jobID.String()).Info("reconciled lost outcomes", "count", len(missing))
	}
	return a.finalizeIfResolved(ctx, jobID)
}

// ReconcileRunning выполняет Reconcile для всех RUNNING job.
// Ошибка одного job не останавливает остальные.
func (a *Aggregator) ReconcileRunning(ctx context.Context) (int, error) {
	ids, err := a.store.ListRunningIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}

	finalized := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		done, err := a.Reconcile(ctx, id)
		if err != nil {
			a.logger.Error("reconcile job failed", "job_id", id, "error", err)
			continue
		}
		if done {
			finalized++
		}
	}
	return finalized, nil
}
