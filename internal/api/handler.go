package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
)

// JobStore — хранилище jobs, нужное API.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ItemStore — чтение items.
type ItemStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Item, error)
	ListByJob(ctx context.Context, filter repo.ItemFilter) ([]domain.Item, error)
}

// JobPublisher — постановка нового job в очередь приёма.
type JobPublisher interface {
	PublishJobPending(ctx context.Context, jobID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	jobs      JobStore
	items     ItemStore
	publisher JobPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Jobs  JobStore
	Items ItemStore

	// Publisher может быть nil: тогда PENDING job подберёт scheduler.
	Publisher JobPublisher

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		jobs:      cfg.Jobs,
		items:     cfg.Items,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}
