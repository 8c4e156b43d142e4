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

const jobColumns = `
	id, type, status, params, total_count, success_count, failed_count,
	manual_review_count, error_summary, error, started_at, finished_at,
	created_at, updated_at`

// JobRepo — репозиторий для работы с jobs.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// JobFilter — параметры фильтрации jobs.
type JobFilter struct {
	Status domain.JobStatus
	Limit  int
	Offset int
}

// Create создаёт новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	query := `
		INSERT INTO jobs (id, type, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		paramsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// List возвращает jobs с фильтром, новые первыми.
func (r *JobRepo) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkRunning переводит job из PENDING в RUNNING и фиксирует число items.
func (r *JobRepo) MarkRunning(ctx context.Context, id uuid.UUID, total int) error {
	query := `
		UPDATE jobs
		SET status = 'RUNNING', total_count = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	return r.transition(ctx, query, id, total)
}

// Finalize переводит job из RUNNING в status.
// Возвращает false, если job уже не RUNNING.
func (r *JobRepo) Finalize(ctx context.Context, id uuid.UUID, status domain.JobStatus, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not terminal", ErrInvalidState, status)
	}
	query := `
		UPDATE jobs
		SET status = $2, error = $3, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	result, err := r.pool.Exec(ctx, query, id, status, nullString(errMsg))
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkFailed переводит нетерминальный job в FAILED (ошибка приёма).
func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = 'FAILED', error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.transition(ctx, query, id, errMsg)
}

// Cancel переводит job из PENDING или RUNNING в CANCELLED.
func (r *JobRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = 'CANCELLED', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.transition(ctx, query, id)
}

// transition выполняет условный UPDATE. Ноль затронутых строк означает
// отсутствие job (ErrNotFound) или неподходящий статус (ErrInvalidState).
func (r *JobRepo) transition(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	result, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var status domain.JobStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job is %s", ErrInvalidState, status)
}

// ApplyOutcome атомарно фиксирует исход item и обновляет счётчики job.
// Повторный исход того же item и исход для терминального job ничего не меняют.
func (r *JobRepo) ApplyOutcome(ctx context.Context, o domain.ItemOutcome) (bool, error) {
	counter, err := counterColumn(o.State)
	if err != nil {
		return false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		status      domain.JobStatus
		summaryJSON []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT status, error_summary FROM jobs WHERE id = $1 FOR UPDATE`, o.JobID,
	).Scan(&status, &summaryJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("lock job: %w", err)
	}
	if status.IsTerminal() {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO job_item_outcomes (job_id, item_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, item_id) DO NOTHING
	`, o.JobID, o.ItemID, o.State)
	if err != nil {
		return false, fmt.Errorf("insert outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	summary, err := unmarshalCounts(summaryJSON)
	if err != nil {
		return false, fmt.Errorf("unmarshal error summary: %w", err)
	}
	if summary == nil {
		summary = make(map[domain.ErrorKind]int, len(o.ErrorHistory))
	}
	for kind, n := range o.ErrorHistory {
		summary[kind] += n
	}
	merged, err := marshalCounts(summary)
	if err != nil {
		return false, fmt.Errorf("marshal error summary: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET %s = %s + 1, error_summary = $2, updated_at = NOW()
		WHERE id = $1
	`, counter, counter)
	if _, err := tx.Exec(ctx, query, o.JobID, merged); err != nil {
		return false, fmt.Errorf("update job counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// CountItemStates считает items job по состояниям.
func (r *JobRepo) CountItemStates(ctx context.Context, jobID uuid.UUID) (map[domain.ItemState]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM items WHERE job_id = $1 GROUP BY state`, jobID)
	if err != nil {
		return nil, fmt.Errorf("count item states: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ItemState]int)
	for rows.Next() {
		var (
			state domain.ItemState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan item state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// UnrecordedOutcomes возвращает терминальные items job, исход которых не учтён.
func (r *JobRepo) UnrecordedOutcomes(ctx context.Context, jobID uuid.UUID) ([]domain.ItemOutcome, error) {
	query := `
		SELECT i.id, i.state, i.error_history
		FROM items i
		LEFT JOIN job_item_outcomes o ON o.job_id = i.job_id AND o.item_id = i.id
		WHERE i.job_id = $1
		  AND i.state IN ('COMPLETED', 'FAILED', 'MANUAL_REVIEW')
		  AND o.item_id IS NULL
	`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list unrecorded outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.ItemOutcome
	for rows.Next() {
		o := domain.ItemOutcome{JobID: jobID}
		var historyJSON []byte
		if err := rows.Scan(&o.ItemID, &o.State, &historyJSON); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.ErrorHistory, err = unmarshalCounts(historyJSON); err != nil {
			return nil, fmt.Errorf("unmarshal error history: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// ListRunningIDs возвращает ID job в статусе RUNNING.
func (r *JobRepo) ListRunningIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM jobs WHERE status = 'RUNNING' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStalePending возвращает PENDING jobs, созданные раньше before.
// Используется для повторной постановки jobs, сообщение о которых потеряно.
func (r *JobRepo) ListStalePending(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("list stale pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// counterColumn возвращает колонку счётчика для терминального состояния.
func counterColumn(state domain.ItemState) (string, error) {
	switch state {
	case domain.ItemStateCompleted:
		return "success_count", nil
	case domain.ItemStateFailed:
		return "failed_count", nil
	case domain.ItemStateManualReview:
		return "manual_review_count", nil
	default:
		return "", fmt.Errorf("%w: outcome state %s is not terminal", ErrInvalidState, state)
	}
}

// scanJob читает job из строки результата.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                     domain.Job
		paramsJSON, summaryJSON []byte
		errMsg                  *string
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&paramsJSON,
		&job.TotalCount,
		&job.SuccessCount,
		&job.FailedCount,
		&job.ManualReviewCount,
		&summaryJSON,
		&errMsg,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if job.ErrorSummary, err = unmarshalCounts(summaryJSON); err != nil {
		return nil, fmt.Errorf("unmarshal error summary: %w", err)
	}
	job.Error = deref(errMsg)
	return &job, nil
}
