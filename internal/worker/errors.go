package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInvalidPayload — сообщение item.ready без корректного item_id.
	ErrInvalidPayload = errors.New("invalid item.ready payload")

	// ErrItemBusy — item уже обрабатывается в этом процессе.
	ErrItemBusy = errors.New("item is already being processed")
)
