package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey — ключ advisory lock на время миграции.
const migrationLockKey int64 = 7310021

// migrations применяются по порядку. Каждая идемпотентна.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "create_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS jobs (
				id                  UUID PRIMARY KEY,
				type                TEXT NOT NULL,
				status              TEXT NOT NULL DEFAULT 'PENDING',
				params              JSONB NOT NULL DEFAULT '{}',
				total_count         INTEGER NOT NULL DEFAULT 0,
				success_count       INTEGER NOT NULL DEFAULT 0,
				failed_count        INTEGER NOT NULL DEFAULT 0,
				manual_review_count INTEGER NOT NULL DEFAULT 0,
				error_summary       JSONB NOT NULL DEFAULT '{}',
				error               TEXT,
				started_at          TIMESTAMPTZ,
				finished_at         TIMESTAMPTZ,
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT jobs_counts_le_total
					CHECK (success_count + failed_count + manual_review_count <= total_count)
			)`,
	},
	{
		name: "create_jobs_status_index",
		sql:  `CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status, created_at DESC)`,
	},
	{
		name: "create_items",
		sql: `
			CREATE TABLE IF NOT EXISTS items (
				id                 UUID PRIMARY KEY,
				job_id             UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				source_id          TEXT NOT NULL,
				source             JSONB NOT NULL,
				listing            JSONB,
				state              TEXT NOT NULL DEFAULT 'PENDING',
				resume_state       TEXT,
				retry_count        INTEGER NOT NULL DEFAULT 0,
				last_error_kind    TEXT,
				last_error_message TEXT,
				error_history      JSONB NOT NULL DEFAULT '{}',
				asset_url          TEXT,
				external_id        TEXT,
				next_attempt_at    TIMESTAMPTZ,
				version            INTEGER NOT NULL DEFAULT 0,
				created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (job_id, source_id)
			)`,
	},
	{
		name: "create_items_job_state_index",
		sql:  `CREATE INDEX IF NOT EXISTS idx_items_job_state ON items (job_id, state)`,
	},
	{
		name: "create_items_due_index",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_items_due
				ON items (state, next_attempt_at)
				WHERE state NOT IN ('COMPLETED', 'FAILED', 'MANUAL_REVIEW')`,
	},
	{
		name: "create_job_item_outcomes",
		sql: `
			CREATE TABLE IF NOT EXISTS job_item_outcomes (
				job_id      UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				item_id     UUID NOT NULL,
				state       TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (job_id, item_id)
			)`,
	},
}

// Migrate создаёт схему БД, если её ещё нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	// процессы стартуют параллельно, миграции выполняются по очереди
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return tx.Commit(ctx)
}
