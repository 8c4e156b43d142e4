package registration

import "errors"

// Ошибки машины состояний.
var (
	// ErrTerminalState — item уже в терминальном состоянии, переходов нет.
	ErrTerminalState = errors.New("item is in a terminal state")

	// ErrNoStep — для состояния не определён шаг.
	ErrNoStep = errors.New("no step for state")
)
