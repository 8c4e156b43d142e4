package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 4
	defaultStaleAfter   = 5 * time.Minute
)

// Processor проводит item через шаги регистрации.
type Processor interface {
	Process(ctx context.Context, itemID uuid.UUID) error
}

// DueSource отдаёт items, которые пора обработать без сообщения из очереди.
type DueSource interface {
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error)
}

// Worker обрабатывает items.
//
// Worker не хранит состояние items и масштабируется горизонтально:
// несколько экземпляров потребляют из одной очереди items.ready.
// Источники работы:
//   - сообщения items.ready (event-driven)
//   - периодический polling созревших RETRYING и зависших items (fallback)
type Worker struct {
	processor Processor
	due       DueSource
	conn      *mq.Connection
	consumer  *mq.Consumer

	concurrency  int
	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration

	// inflight — items, обрабатываемые этим процессом прямо сейчас.
	inflightMu sync.Mutex
	inflight   map[uuid.UUID]struct{}

	logger     *slog.Logger
	now        func() time.Time
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Processor Processor
	Due       DueSource

	// Conn — соединение с RabbitMQ. nil — только polling.
	Conn *mq.Connection

	// Concurrency — сколько items обрабатывается параллельно (default: 4).
	Concurrency int

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // items за один poll (default: 50)

	// StaleAfter — нетерминальный item, не менявшийся дольше, считается
	// потерянным и берётся polling'ом (default: 5m).
	StaleAfter time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		processor:    cfg.Processor,
		due:          cfg.Due,
		conn:         cfg.Conn,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		staleAfter:   staleAfter,
		inflight:     make(map[uuid.UUID]struct{}),
		logger:       logger,
		now:          now,
	}
}

// Start запускает consumer items.ready и polling.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"stale_after", w.staleAfter,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:       string(mq.QueueItemsReady),
			Accept:      []mq.MessageType{mq.MessageTypeItemReady},
			Handler:     w.handleItemReady,
			Concurrency: w.concurrency,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("item consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих шагов.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	if w.due == nil {
		return
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// первый poll сразу: подбираем items, созревшие пока процесс был выключен
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll обрабатывает одну пачку созревших items, не более concurrency одновременно.
func (w *Worker) poll(ctx context.Context) int {
	now := w.now()
	ids, err := w.due.ListDue(ctx, now, now.Add(-w.staleAfter), w.batchSize)
	if err != nil {
		w.logger.Error("failed to list due items", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	w.logger.Debug("poll found due items", "count", len(ids))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return len(ids)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.processItem(ctx, id); err != nil && !errors.Is(err, ErrItemBusy) {
				w.logger.Error("failed to process item from poll", "item_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
	return len(ids)
}

// handleItemReady обрабатывает сообщение из очереди items.ready.
func (w *Worker) handleItemReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ItemReadyPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(errors.Join(ErrInvalidPayload, err))
	}
	if payload.ItemID == uuid.Nil {
		return mq.Permanent(ErrInvalidPayload)
	}

	err = w.processItem(ctx, payload.ItemID)
	if errors.Is(err, ErrItemBusy) {
		// тот же item уже идёт через polling, повторная доставка не нужна
		w.logger.Debug("item busy, dropping message", "item_id", payload.ItemID)
		return nil
	}
	return err
}

// processItem вызывает Processor, не допуская параллельной обработки одного item в процессе.
func (w *Worker) processItem(ctx context.Context, id uuid.UUID) error {
	if !w.claim(id) {
		return ErrItemBusy
	}
	defer w.release(id)

	return w.processor.Process(ctx, id)
}

func (w *Worker) claim(id uuid.UUID) bool {
	w.inflightMu.Lock()
	defer w.inflightMu.Unlock()
	if _, ok := w.inflight[id]; ok {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id uuid.UUID) {
	w.inflightMu.Lock()
	delete(w.inflight, id)
	w.inflightMu.Unlock()
}
