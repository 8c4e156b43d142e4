package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item — один товар каталога, регистрируемый в маркетплейсе.
//
// Item создаётся Orchestrator'ом при приёме job и обрабатывается Worker'ом
// шаг за шагом. Между шагами единственным владельцем состояния является БД.
type Item struct {
	// ID — уникальный идентификатор item.
	ID uuid.UUID `json:"id"`

	// JobID — ссылка на job, в рамках которого создан item.
	JobID uuid.UUID `json:"job_id"`

	// SourceID — идентификатор товара в каталоге поставщика.
	SourceID string `json:"source_id"`

	// Source — снимок данных товара на момент приёма.
	Source SourceItem `json:"source"`

	// Listing — подготовленный листинг (заполняется шагом подготовки).
	Listing *Listing `json:"listing,omitempty"`

	// State — текущее состояние регистрации.
	State ItemState `json:"state"`

	// ResumeState — шаг, к которому вернётся item из RETRYING.
	ResumeState ItemState `json:"resume_state,omitempty"`

	// RetryCount — сколько временных ошибок уже случилось.
	RetryCount int `json:"retry_count"`

	// LastErrorKind — класс последней ошибки.
	LastErrorKind ErrorKind `json:"last_error_kind,omitempty"`

	// LastErrorMessage — текст последней ошибки.
	LastErrorMessage string `json:"last_error_message,omitempty"`

	// ErrorHistory — счётчики всех ошибок item по классам.
	// Сворачивается в Job.ErrorSummary при терминальном исходе.
	ErrorHistory map[ErrorKind]int `json:"error_history,omitempty"`

	// AssetURL — адрес загруженного изображения в маркетплейсе.
	AssetURL string `json:"asset_url,omitempty"`

	// ExternalID — идентификатор листинга в маркетплейсе.
	ExternalID string `json:"external_id,omitempty"`

	// NextAttemptAt — не раньше этого времени item из RETRYING берётся в работу.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// Version — счётчик для оптимистичной блокировки.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem создаёт item в состоянии PENDING.
func NewItem(jobID uuid.UUID, src SourceItem) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:        uuid.New(),
		JobID:     jobID,
		SourceID:  src.ID,
		Source:    src,
		State:     ItemStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentPhase возвращает шаг, который нужно выполнить следующим.
// Для RETRYING это ResumeState.
func (i *Item) CurrentPhase() ItemState {
	if i.State == ItemStateRetrying {
		return i.ResumeState
	}
	return i.State
}

// IsDue проверяет, можно ли обрабатывать item в момент now.
func (i *Item) IsDue(now time.Time) bool {
	if i.State.IsTerminal() {
		return false
	}
	if i.State == ItemStateRetrying && i.NextAttemptAt != nil && now.Before(*i.NextAttemptAt) {
		return false
	}
	return true
}

// RecordError сохраняет ошибку в LastError* и ErrorHistory.
// Невалидный UTF-8 в тексте заменяется на U+FFFD.
func (i *Item) RecordError(kind ErrorKind, msg string) {
	i.LastErrorKind = kind
	i.LastErrorMessage = strings.ToValidUTF8(msg, "\uFFFD")
	if i.ErrorHistory == nil {
		i.ErrorHistory = make(map[ErrorKind]int)
	}
	i.ErrorHistory[kind]++
}

// Clone возвращает копию item, безопасную для изменения.
func (i *Item) Clone() *Item {
	c := *i
	if i.Listing != nil {
		l := *i.Listing
		l.Images = append([]string(nil), i.Listing.Images...)
		c.Listing = &l
	}
	if i.NextAttemptAt != nil {
		t := *i.NextAttemptAt
		c.NextAttemptAt = &t
	}
	if i.ErrorHistory != nil {
		c.ErrorHistory = make(map[ErrorKind]int, len(i.ErrorHistory))
		for k, v := range i.ErrorHistory {
			c.ErrorHistory[k] = v
		}
	}
	c.Source.Images = append([]string(nil), i.Source.Images...)
	return &c
}

// ItemOutcome — терминальный исход item для агрегатора.
type ItemOutcome struct {
	JobID        uuid.UUID         `json:"job_id"`
	ItemID       uuid.UUID         `json:"item_id"`
	State        ItemState         `json:"state"`
	ErrorHistory map[ErrorKind]int `json:"error_history,omitempty"`
}

// Outcome строит ItemOutcome из терминального item.
func (i *Item) Outcome() ItemOutcome {
	return ItemOutcome{
		JobID:        i.JobID,
		ItemID:       i.ID,
		State:        i.State,
		ErrorHistory: i.ErrorHistory,
	}
}
