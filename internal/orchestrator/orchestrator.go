package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/repo"
)

const defaultPrefetch = 10

// OutcomeRecorder учитывает терминальные исходы items.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome domain.ItemOutcome) error
}

// Orchestrator — процесс приёма jobs и учёта исходов items.
//
// Orchestrator:
//   - получает новые jobs из очереди jobs.pending и выполняет Intake
//   - получает исходы items из очереди items.completed и передаёт их агрегатору
type Orchestrator struct {
	intake     *Intake
	aggregator OutcomeRecorder
	conn       *mq.Connection

	jobConsumer     *mq.Consumer
	outcomeConsumer *mq.Consumer
	prefetch        int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Intake     *Intake
	Aggregator OutcomeRecorder
	Conn       *mq.Connection

	// Prefetch — prefetch очереди items.completed (default: 10).
	Prefetch int

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return &Orchestrator{
		intake:     cfg.Intake,
		aggregator: cfg.Aggregator,
		conn:       cfg.Conn,
		prefetch:   prefetch,
		logger:     logger,
	}
}

// Start запускает consumers jobs.pending и items.completed.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator")

	o.jobConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsPending),
		Accept:   []mq.MessageType{mq.MessageTypeJobPending},
		Handler:  o.handleJobPending,
		Prefetch: 1,
	})
	o.outcomeConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueItemsCompleted),
		Accept:   []mq.MessageType{mq.MessageTypeItemCompleted},
		Handler:  o.handleItemCompleted,
		Prefetch: o.prefetch,
	})

	for name, c := range map[string]*mq.Consumer{"job": o.jobConsumer, "outcome": o.outcomeConsumer} {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("consumer error", "consumer", name, "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.jobConsumer != nil {
		o.jobConsumer.Stop()
	}
	if o.outcomeConsumer != nil {
		o.outcomeConsumer.Stop()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// handleJobPending обрабатывает сообщение jobs.pending.
func (o *Orchestrator) handleJobPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobPendingPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(errors.Join(ErrInvalidPayload, err))
	}
	if payload.JobID == uuid.Nil {
		return mq.Permanent(ErrInvalidPayload)
	}

	err = o.intake.Run(ctx, payload.JobID)
	switch {
	case errors.Is(err, ErrJobNotPending):
		o.logger.Debug("job not pending, skipping", "job_id", payload.JobID, "reason", err)
		return nil
	case errors.Is(err, repo.ErrNotFound):
		o.logger.Warn("job not found, dropping message", "job_id", payload.JobID)
		return nil
	}
	return err
}

// handleItemCompleted обрабатывает сообщение items.completed.
func (o *Orchestrator) handleItemCompleted(ctx context.Context, delivery *mq.Delivery) error {
	outcome, err := mq.ParsePayload[mq.ItemCompletedPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(errors.Join(ErrInvalidPayload, err))
	}
	if outcome.JobID == uuid.Nil || outcome.ItemID == uuid.Nil || !outcome.State.IsTerminal() {
		return mq.Permanent(ErrInvalidPayload)
	}

	err = o.aggregator.RecordOutcome(ctx, outcome)
	if errors.Is(err, repo.ErrNotFound) {
		o.logger.Warn("outcome for unknown job dropped", "job_id", outcome.JobID, "item_id", outcome.ItemID)
		return nil
	}
	return err
}
