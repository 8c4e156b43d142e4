package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — пакет items, отправленный на регистрацию одной командой.
//
// Job создаётся через API. Orchestrator принимает его, получает товары
// из каталога и создаёт items. Агрегатор обновляет счётчики по мере
// того, как items достигают терминальных состояний.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Type — тип job.
	Type JobType `json:"type"`

	// Status — текущий статус job.
	Status JobStatus `json:"status"`

	// Params — параметры приёма (фильтр каталога, лимит страниц).
	Params JobParams `json:"params"`

	// TotalCount — сколько items создано в job.
	TotalCount int `json:"total_count"`

	// SuccessCount — items в COMPLETED.
	SuccessCount int `json:"success_count"`

	// FailedCount — items в FAILED.
	FailedCount int `json:"failed_count"`

	// ManualReviewCount — items в MANUAL_REVIEW.
	ManualReviewCount int `json:"manual_review_count"`

	// ErrorSummary — сколько раз встретился каждый класс ошибки.
	ErrorSummary map[ErrorKind]int `json:"error_summary,omitempty"`

	// Error — текст ошибки уровня job.
	Error string `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// JobParams — параметры приёма товаров из каталога.
type JobParams struct {
	// Keyword — фильтр поиска в каталоге.
	Keyword string `json:"keyword,omitempty"`

	// Category — категория каталога.
	Category string `json:"category,omitempty"`

	// MaxItems — сколько товаров взять максимум (0 — все).
	MaxItems int `json:"max_items,omitempty"`

	// PageSize — размер страницы каталога (0 — из конфигурации).
	PageSize int `json:"page_size,omitempty"`
}

// NewJob создаёт job в статусе PENDING.
func NewJob(t JobType, params JobParams) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Type:      t,
		Status:    JobStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ResolvedCount возвращает число items в терминальном состоянии.
func (j *Job) ResolvedCount() int {
	return j.SuccessCount + j.FailedCount + j.ManualReviewCount
}

// IsResolved возвращает true, если все items job достигли терминального состояния.
func (j *Job) IsResolved() bool {
	return j.ResolvedCount() >= j.TotalCount
}

// Progress возвращает долю завершённых items (0..1).
func (j *Job) Progress() float64 {
	if j.TotalCount == 0 {
		return 1
	}
	return float64(j.ResolvedCount()) / float64(j.TotalCount)
}

// Duration возвращает продолжительность обработки job.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
