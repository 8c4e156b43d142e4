package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter — атомарная попытка потратить одну единицу бюджета ресурса.
type Limiter interface {
	// TryAcquire возвращает true, если запрос допущен.
	// Ошибка (ErrUnavailable, ErrUnknownResource) означает, что решение не принято.
	TryAcquire(ctx context.Context, resource string) (bool, error)
}

// Decision — результат одной попытки.
type Decision int

const (
	// DecisionRejected — бюджет окна исчерпан.
	DecisionRejected Decision = 0

	// DecisionAdmitted — допуск в пределах MaxPerWindow.
	DecisionAdmitted Decision = 1

	// DecisionBurst — допуск сверх MaxPerWindow, но в пределах BurstMax.
	DecisionBurst Decision = 2
)

// String возвращает метку решения для метрик.
func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionBurst:
		return "burst"
	default:
		return "rejected"
	}
}

// Allowed возвращает true для допуска.
func (d Decision) Allowed() bool {
	return d == DecisionAdmitted || d == DecisionBurst
}

// SleepFunc ждёт d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// BackoffOption настраивает AcquireWithBackoff.
type BackoffOption func(*backoffOptions)

type backoffOptions struct {
	sleep SleepFunc
}

// WithSleep подменяет ожидание (в тестах — сдвиг фейковых часов).
func WithSleep(fn SleepFunc) BackoffOption {
	return func(o *backoffOptions) { o.sleep = fn }
}

// AcquireWithBackoff делает до maxRetries попыток TryAcquire.
// Между неудачными попытками ждёт base * 2^attempt (attempt с нуля).
// После последней попытки не ждёт. Возвращает false, если бюджет так и не получен.
func AcquireWithBackoff(ctx context.Context, l Limiter, resource string, maxRetries int, base time.Duration, opts ...BackoffOption) (bool, error) {
	o := backoffOptions{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		ok, err := l.TryAcquire(ctx, resource)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == maxRetries-1 {
			break
		}
		if err := o.sleep(ctx, base<<attempt); err != nil {
			return false, err
		}
	}
	return false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget — бюджет одного ресурса с параметрами ожидания.
// Executor получает бюджет перед каждым внешним вызовом.
type Budget struct {
	Limiter     Limiter
	Resource    string
	MaxRetries  int
	BaseBackoff time.Duration

	// Window — длина окна ресурса, минимальная задержка перед повтором после отказа.
	Window time.Duration

	Options []BackoffOption
}

// Acquire ждёт бюджет через AcquireWithBackoff.
func (b Budget) Acquire(ctx context.Context) (bool, error) {
	return AcquireWithBackoff(ctx, b.Limiter, b.Resource, b.MaxRetries, b.BaseBackoff, b.Options...)
}

// Require — Acquire в форме ошибки: отказ возвращается как ErrNoBudget.
func (b Budget) Require(ctx context.Context) error {
	ok, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBudget, b.Resource)
	}
	return nil
}
