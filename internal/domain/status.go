package domain

import "fmt"

// ItemState — состояние регистрации item в маркетплейсе.
//
// Жизненный цикл:
//
//	PENDING → VALIDATED → UPLOADING → REGISTERING → COMPLETED
//	    ↘ RETRYING (возврат к упавшему шагу)
//	    ↘ MANUAL_REVIEW (данные невалидны, без автоматического retry)
//	    ↘ FAILED (retry исчерпаны или фатальная ошибка)
//
// RETRYING, MANUAL_REVIEW и FAILED достижимы из любого нетерминального состояния.
type ItemState string

const (
	// ItemStatePending — item создан, ни один шаг ещё не выполнен.
	ItemStatePending ItemState = "PENDING"

	// ItemStateValidated — данные item прошли валидацию.
	ItemStateValidated ItemState = "VALIDATED"

	// ItemStateUploading — листинг подготовлен, идёт загрузка изображения.
	ItemStateUploading ItemState = "UPLOADING"

	// ItemStateRegistering — изображение загружено, идёт регистрация листинга.
	ItemStateRegistering ItemState = "REGISTERING"

	// ItemStateCompleted — item зарегистрирован, ExternalID заполнен.
	ItemStateCompleted ItemState = "COMPLETED"

	// ItemStateRetrying — шаг упал с временной ошибкой и будет повторён после backoff.
	ItemStateRetrying ItemState = "RETRYING"

	// ItemStateManualReview — данные отклонены, требуется ручная проверка.
	ItemStateManualReview ItemState = "MANUAL_REVIEW"

	// ItemStateFailed — регистрация невозможна.
	ItemStateFailed ItemState = "FAILED"
)

// IsTerminal возвращает true, если из состояния больше нет переходов.
// MANUAL_REVIEW терминален для конвейера: повторную постановку делает внешний процесс.
func (s ItemState) IsTerminal() bool {
	switch s {
	case ItemStateCompleted, ItemStateFailed, ItemStateManualReview:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что строка — известное состояние.
func (s ItemState) IsValid() bool {
	switch s {
	case ItemStatePending, ItemStateValidated, ItemStateUploading, ItemStateRegistering,
		ItemStateCompleted, ItemStateRetrying, ItemStateManualReview, ItemStateFailed:
		return true
	default:
		return false
	}
}

// ParseItemState парсит строку в ItemState.
func ParseItemState(s string) (ItemState, error) {
	state := ItemState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("unknown item state %q", s)
	}
	return state, nil
}

// JobStatus — статус пакетной задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED (ошибка уровня job, например не удалось получить пакет)
//	          (или) → CANCELLED (из PENDING или RUNNING)
type JobStatus string

const (
	// JobStatusPending — job создан, приём items ещё не начался.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning — items созданы и обрабатываются.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — все items достигли терминального состояния.
	// Не означает, что все items успешны.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — job не смог выполниться целиком.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled — job отменён пользователем.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что строка — известный статус.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет монотонность переходов статуса job.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// JobType — тип пакетной задачи.
type JobType string

const (
	// JobTypeImport — импорт товаров из каталога и регистрация в маркетплейсе.
	JobTypeImport JobType = "IMPORT"
)

// ParseJobType парсит строку в JobType.
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeImport:
		return JobTypeImport, nil
	default:
		return "", fmt.Errorf("unsupported job type %q", s)
	}
}
