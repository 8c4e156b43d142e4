package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/connector/catalog"
	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/telemetry"
)

const defaultPageRetries = 3

// Catalog — источник товаров.
type Catalog interface {
	FetchBatch(ctx context.Context, f catalog.Filter, page, pageSize int) (catalog.Page, error)
	PageSize() int
}

// JobStore — операции над job, нужные приёму.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID, total int) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Finalize(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg string) (bool, error)
	CountItemStates(ctx context.Context, jobID uuid.UUID) (map[domain.ItemState]int, error)
}

// ItemCreator создаёт items пачкой и возвращает реально созданные.
type ItemCreator interface {
	CreateBatch(ctx context.Context, items []*domain.Item) ([]*domain.Item, error)
}

// ItemPublisher ставит item в очередь на обработку.
type ItemPublisher interface {
	PublishItemReady(ctx context.Context, itemID uuid.UUID) error
}

// IntakeConfig — конфигурация Intake.
type IntakeConfig struct {
	Jobs      JobStore
	Items     ItemCreator
	Catalog   Catalog
	Publisher ItemPublisher

	// Budget — бюджет ресурса каталога.
	Budget ratelimit.Budget

	// PageRetries — повторы страницы при временной ошибке каталога (default: 3).
	PageRetries int

	// Sleep — ожидание между повторами страницы (default: с учётом ctx).
	Sleep ratelimit.SleepFunc

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Intake принимает job: выбирает товары каталога и создаёт items.
type Intake struct {
	jobs      JobStore
	items     ItemCreator
	catalog   Catalog
	publisher ItemPublisher

	budget      ratelimit.Budget
	pageRetries int
	sleep       ratelimit.SleepFunc

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewIntake создаёт Intake.
func NewIntake(cfg IntakeConfig) *Intake {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.PageRetries
	if retries <= 0 {
		retries = defaultPageRetries
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &Intake{
		jobs:        cfg.Jobs,
		items:       cfg.Items,
		catalog:     cfg.Catalog,
		publisher:   cfg.Publisher,
		budget:      cfg.Budget,
		pageRetries: retries,
		sleep:       sleep,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// Run принимает PENDING job. Для job в другом статусе возвращает ErrJobNotPending.
//
// Ошибка каталога переводит job в FAILED и не возвращается вызывающему:
// повторная доставка сообщения ничего не исправит. Ошибки БД и брокера
// возвращаются, job остаётся PENDING и будет принят повторно.
func (in *Intake) Run(ctx context.Context, jobID uuid.UUID) error {
	logger := telemetry.WithJobID(in.logger, jobID.String())

	job, err := in.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: %s", ErrJobNotPending, job.Status)
	}
	if job.Type != domain.JobTypeImport {
		return in.fail(ctx, logger, job.ID, fmt.Errorf("%w: %s", ErrUnsupportedJobType, job.Type))
	}

	logger.Info("job intake started",
		"keyword", job.Params.Keyword,
		"category", job.Params.Category,
		"max_items", job.Params.MaxItems,
	)

	created, err := in.collect(ctx, logger, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isCatalogError(err) {
			return in.fail(ctx, logger, job.ID, err)
		}
		return err
	}

	// учитываем items, созданные прерванным ранее приёмом
	counts, err := in.jobs.CountItemStates(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	if err := in.jobs.MarkRunning(ctx, job.ID, total); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	if total == 0 {
		if _, err := in.jobs.Finalize(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
			return fmt.Errorf("finalize empty job: %w", err)
		}
		in.metrics.JobFinalized(string(domain.JobStatusCompleted))
		logger.Info("job completed with no items")
		return nil
	}

	published := 0
	for _, item := range created {
		if err := in.publisher.PublishItemReady(ctx, item.ID); err != nil {
			// item останется PENDING и будет подобран polling'ом воркера
			logger.Warn("failed to publish item", "item_id", item.ID, "error", err)
			continue
		}
		published++
	}

	logger.Info("job intake finished",
		"total", total,
		"created", len(created),
		"published", published,
	)
	return nil
}

// collect выбирает страницы каталога и создаёт items.
func (in *Intake) collect(ctx context.Context, logger *slog.Logger, job *domain.Job) ([]*domain.Item, error) {
	filter := catalog.Filter{Keyword: job.Params.Keyword, Category: job.Params.Category}
	pageSize := job.Params.PageSize
	if pageSize <= 0 {
		pageSize = in.catalog.PageSize()
	}
	limit := job.Params.MaxItems

	var (
		created []*domain.Item
		seen    int
	)
	for page := 1; ; page++ {
		batch, err := in.fetchPage(ctx, filter, page, pageSize)
		if err != nil {
			return nil, err
		}

		items := make([]*domain.Item, 0, len(batch.Items))
		for _, src := range batch.Items {
			if limit > 0 && seen >= limit {
				break
			}
			if src.ID == "" {
				logger.Warn("catalog item without id skipped", "page", page, "name", src.Name)
				continue
			}
			items = append(items, domain.NewItem(job.ID, src))
			seen++
		}

		fresh, err := in.items.CreateBatch(ctx, items)
		if err != nil {
			return nil, fmt.Errorf("create items: %w", err)
		}
		created = append(created, fresh...)

		logger.Debug("catalog page ingested",
			"page", page,
			"fetched", len(batch.Items),
			"created", len(fresh),
			"catalog_total", batch.TotalCount,
		)

		if len(batch.Items) < pageSize || (limit > 0 && seen >= limit) {
			break
		}
		if batch.TotalCount > 0 && page*pageSize >= batch.TotalCount {
			break
		}
	}
	return created, nil
}

// fetchPage получает бюджет каталога и запрашивает страницу с повторами
// при временных ошибках.
func (in *Intake) fetchPage(ctx context.Context, f catalog.Filter, page, pageSize int) (catalog.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= in.pageRetries; attempt++ {
		if attempt > 0 {
			if err := in.sleep(ctx, in.budget.Window); err != nil {
				return catalog.Page{}, err
			}
		}

		ok, err := in.budget.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ratelimit.ErrUnavailable) {
				lastErr = domain.NewError(domain.ErrorKindLimiterUnavailable, err)
				continue
			}
			if ctx.Err() != nil {
				return catalog.Page{}, ctx.Err()
			}
			return catalog.Page{}, domain.NewError(domain.ErrorKindFatal, err)
		}
		if !ok {
			lastErr = domain.NewError(domain.ErrorKindRateLimited, ErrCatalogBudget)
			continue
		}

		batch, err := in.catalog.FetchBatch(ctx, f, page, pageSize)
		if err == nil {
			return batch, nil
		}
		if ctx.Err() != nil {
			return catalog.Page{}, ctx.Err()
		}
		lastErr = err
		switch domain.KindOf(err) {
		case domain.ErrorKindTransient, domain.ErrorKindRateLimited, domain.ErrorKindAuthExpired:
			continue
		}
		return catalog.Page{}, err
	}
	return catalog.Page{}, fmt.Errorf("catalog page %d after %d attempts: %w", page, in.pageRetries+1, lastErr)
}

// fail переводит job в FAILED с текстом ошибки.
func (in *Intake) fail(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, cause error) error {
	logger.Error("job intake failed", "error", cause)
	if err := in.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	in.metrics.JobFinalized(string(domain.JobStatusFailed))
	return nil
}

// isCatalogError отличает ошибки каталога и лимитера от ошибок хранилища.
func isCatalogError(err error) bool {
	var ce *domain.ClassifiedError
	return errors.As(err, &ce)
}
