package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrJobNotPending — job уже принят, отменён или завершён.
	ErrJobNotPending = errors.New("job is not in PENDING status")

	// ErrUnsupportedJobType — тип job не поддерживается приёмом.
	ErrUnsupportedJobType = errors.New("unsupported job type")

	// ErrCatalogBudget — бюджет каталога не получен за отведённые попытки.
	ErrCatalogBudget = errors.New("catalog rate budget not obtained")

	// ErrInvalidPayload — сообщение без корректного идентификатора.
	ErrInvalidPayload = errors.New("invalid message payload")
)
