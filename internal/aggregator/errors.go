package aggregator

import "errors"

// Ошибки агрегатора.
var (
	// ErrNotTerminal — исход передан для нетерминального состояния item.
	ErrNotTerminal = errors.New("item outcome is not terminal")
)
