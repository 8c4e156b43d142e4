package ratelimit

import "errors"

// Ошибки rate limiter.
var (
	// ErrUnavailable — хранилище счётчиков недоступно.
	ErrUnavailable = errors.New("rate limiter unavailable")

	// ErrNoBudget — бюджет ресурса не получен за отведённые попытки.
	// Внешний вызов в этом случае не делается.
	ErrNoBudget = errors.New("rate budget not obtained")

	// ErrUnknownResource — для ресурса не настроены лимиты.
	ErrUnknownResource = errors.New("unknown rate limit resource")

	// ErrInvalidConfig — некорректные лимиты.
	ErrInvalidConfig = errors.New("invalid rate limit config")
)
