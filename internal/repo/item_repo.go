package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/storebridge/internal/domain"
)

const itemColumns = `
	id, job_id, source_id, source, listing, state, resume_state, retry_count,
	last_error_kind, last_error_message, error_history, asset_url, external_id,
	next_attempt_at, version, created_at, updated_at`

// ItemRepo — репозиторий для работы с items.
type ItemRepo struct {
	pool *pgxpool.Pool
}

// NewItemRepo создаёт новый ItemRepo.
func NewItemRepo(pool *pgxpool.Pool) *ItemRepo {
	return &ItemRepo{pool: pool}
}

// ItemFilter — параметры фильтрации items job.
type ItemFilter struct {
	JobID  uuid.UUID
	State  domain.ItemState
	Limit  int
	Offset int
}

// CreateBatch создаёт items одной транзакцией. Товар, уже принятый в этот job
// (та же пара job_id, source_id), пропускается. Возвращает созданные items.
func (r *ItemRepo) CreateBatch(ctx context.Context, items []*domain.Item) ([]*domain.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO items (id, job_id, source_id, source, state, retry_count, error_history,
		                   version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '{}', $7, $8, $9)
		ON CONFLICT (job_id, source_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		sourceJSON, err := json.Marshal(item.Source)
		if err != nil {
			return nil, fmt.Errorf("marshal source %s: %w", item.SourceID, err)
		}
		batch.Queue(query,
			item.ID,
			item.JobID,
			item.SourceID,
			sourceJSON,
			item.State,
			item.RetryCount,
			item.Version,
			item.CreatedAt,
			item.UpdatedAt,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := tx.SendBatch(ctx, batch)
	created := make([]*domain.Item, 0, len(items))
	for _, item := range items {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return nil, fmt.Errorf("insert item %s: %w", item.SourceID, err)
		}
		if tag.RowsAffected() == 1 {
			created = append(created, item)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// GetByID возвращает item по ID.
func (r *ItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	return scanItem(r.pool.QueryRow(ctx, query, id))
}

// UpdateVersioned сохраняет изменяемые поля item, если версия в БД
// совпадает с item.Version. При успехе увеличивает item.Version.
func (r *ItemRepo) UpdateVersioned(ctx context.Context, item *domain.Item) error {
	var listingJSON []byte
	if item.Listing != nil {
		b, err := json.Marshal(item.Listing)
		if err != nil {
			return fmt.Errorf("marshal listing: %w", err)
		}
		listingJSON = b
	}
	historyJSON, err := marshalCounts(item.ErrorHistory)
	if err != nil {
		return fmt.Errorf("marshal error history: %w", err)
	}

	query := `
		UPDATE items
		SET listing = $3, state = $4, resume_state = $5, retry_count = $6,
		    last_error_kind = $7, last_error_message = $8, error_history = $9,
		    asset_url = $10, external_id = $11, next_attempt_at = $12,
		    updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		item.ID,
		item.Version,
		listingJSON,
		item.State,
		nullString(string(item.ResumeState)),
		item.RetryCount,
		nullString(string(item.LastErrorKind)),
		nullString(item.LastErrorMessage),
		historyJSON,
		nullString(item.AssetURL),
		nullString(item.ExternalID),
		item.NextAttemptAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, item.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	item.Version++
	return nil
}

// ListByJob возвращает items job с фильтром по состоянию.
func (r *ItemRepo) ListByJob(ctx context.Context, filter ItemFilter) ([]domain.Item, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `SELECT ` + itemColumns + `
		FROM items
		WHERE job_id = $1
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY created_at ASC, source_id ASC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.JobID,
		nullString(string(filter.State)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListDue возвращает ID items RUNNING job, которые пора обработать:
// RETRYING с наступившим next_attempt_at и нетерминальные items,
// не менявшиеся с staleBefore (сообщение о них потеряно).
func (r *ItemRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT i.id
		FROM items i
		JOIN jobs j ON j.id = i.job_id
		WHERE j.status = 'RUNNING'
		  AND (
		        (i.state = 'RETRYING' AND (i.next_attempt_at IS NULL OR i.next_attempt_at <= $1))
		     OR (i.state IN ('PENDING', 'VALIDATED', 'UPLOADING', 'REGISTERING') AND i.updated_at < $2)
		  )
		ORDER BY COALESCE(i.next_attempt_at, i.updated_at) ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanItem читает item из строки результата.
func scanItem(row pgx.Row) (*domain.Item, error) {
	var (
		item                                 domain.Item
		sourceJSON, listingJSON, historyJSON []byte
		resumeState, lastKind, lastMessage   *string
		assetURL, externalID                 *string
	)
	err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.SourceID,
		&sourceJSON,
		&listingJSON,
		&item.State,
		&resumeState,
		&item.RetryCount,
		&lastKind,
		&lastMessage,
		&historyJSON,
		&assetURL,
		&externalID,
		&item.NextAttemptAt,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}

	if err := json.Unmarshal(sourceJSON, &item.Source); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	if len(listingJSON) > 0 {
		item.Listing = &domain.Listing{}
		if err := json.Unmarshal(listingJSON, item.Listing); err != nil {
			return nil, fmt.Errorf("unmarshal listing: %w", err)
		}
	}
	if item.ErrorHistory, err = unmarshalCounts(historyJSON); err != nil {
		return nil, fmt.Errorf("unmarshal error history: %w", err)
	}

	item.ResumeState = domain.ItemState(deref(resumeState))
	item.LastErrorKind = domain.ErrorKind(deref(lastKind))
	item.LastErrorMessage = deref(lastMessage)
	item.AssetURL = deref(assetURL)
	item.ExternalID = deref(externalID)
	return &item, nil
}

func collectItems(rows pgx.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
