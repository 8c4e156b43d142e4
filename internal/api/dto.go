package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/storebridge/internal/domain"
)

// Job DTOs

// CreateJobRequest — запрос на создание job.
type CreateJobRequest struct {
	// Type — тип job (default: IMPORT).
	Type   string           `json:"type,omitempty"`
	Params domain.JobParams `json:"params"`
}

// JobResponse — ответ с job и агрегированными счётчиками.
type JobResponse struct {
	ID                uuid.UUID        `json:"id"`
	Type              string           `json:"type"`
	Status            string           `json:"status"`
	Params            domain.JobParams `json:"params"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailedCount       int              `json:"failed_count"`
	ManualReviewCount int              `json:"manual_review_count"`
	Progress          float64          `json:"progress"`
	ErrorSummary      map[string]int   `json:"error_summary,omitempty"`
	Error             string           `json:"error,omitempty"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
	DurationMS        int64            `json:"duration_ms,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:                j.ID,
		Type:              string(j.Type),
		Status:            string(j.Status),
		Params:            j.Params,
		TotalCount:        j.TotalCount,
		SuccessCount:      j.SuccessCount,
		FailedCount:       j.FailedCount,
		ManualReviewCount: j.ManualReviewCount,
		Progress:          j.Progress(),
		ErrorSummary:      kindCounts(j.ErrorSummary),
		Error:             j.Error,
		StartedAt:         j.StartedAt,
		FinishedAt:        j.FinishedAt,
		DurationMS:        j.Duration().Milliseconds(),
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

// Item DTOs

// ItemResponse — ответ с item.
type ItemResponse struct {
	ID               uuid.UUID         `json:"id"`
	JobID            uuid.UUID         `json:"job_id"`
	SourceID         string            `json:"source_id"`
	State            string            `json:"state"`
	ResumeState      string            `json:"resume_state,omitempty"`
	RetryCount       int               `json:"retry_count"`
	LastErrorKind    string            `json:"last_error_kind,omitempty"`
	LastErrorMessage string            `json:"last_error_message,omitempty"`
	ErrorHistory     map[string]int    `json:"error_history,omitempty"`
	ExternalID       string            `json:"external_id,omitempty"`
	AssetURL         string            `json:"asset_url,omitempty"`
	NextAttemptAt    *time.Time        `json:"next_attempt_at,omitempty"`
	Source           domain.SourceItem `json:"source"`
	Listing          *domain.Listing   `json:"listing,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ItemFromDomain конвертирует domain.Item в ItemResponse.
func ItemFromDomain(i domain.Item) ItemResponse {
	return ItemResponse{
		ID:               i.ID,
		JobID:            i.JobID,
		SourceID:         i.SourceID,
		State:            string(i.State),
		ResumeState:      string(i.ResumeState),
		RetryCount:       i.RetryCount,
		LastErrorKind:    string(i.LastErrorKind),
		LastErrorMessage: i.LastErrorMessage,
		ErrorHistory:     kindCounts(i.ErrorHistory),
		ExternalID:       i.ExternalID,
		AssetURL:         i.AssetURL,
		NextAttemptAt:    i.NextAttemptAt,
		Source:           i.Source,
		Listing:          i.Listing,
		Version:          i.Version,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

func kindCounts(m map[domain.ErrorKind]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, n := range m {
		out[string(k)] = n
	}
	return out
}
