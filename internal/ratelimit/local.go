package ratelimit

import (
	"context"
	"fmt"
	"sync"
)

// LocalLimiter — limiter для одного процесса.
// Проверка и инкремент выполняются под одним мьютексом.
type LocalLimiter struct {
	mu       sync.Mutex
	limits   Limits
	counters map[string]*localWindow
	opts     options
}

type localWindow struct {
	index int64
	count int
}

// NewLocalLimiter создаёт limiter в памяти.
func NewLocalLimiter(limits Limits, opts ...Option) (*LocalLimiter, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &LocalLimiter{
		limits:   limits,
		counters: make(map[string]*localWindow),
		opts:     o,
	}, nil
}

// TryAcquire реализует Limiter.
func (l *LocalLimiter) TryAcquire(_ context.Context, resource string) (bool, error) {
	d, err := l.Acquire(resource)
	if err != nil {
		return false, err
	}
	return d.Allowed(), nil
}

// Acquire выполняет попытку и возвращает решение.
func (l *LocalLimiter) Acquire(resource string) (Decision, error) {
	cfg, ok := l.limits[resource]
	if !ok {
		return DecisionRejected, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := windowIndex(l.opts.now(), cfg.Window)
	w, ok := l.counters[resource]
	if !ok || w.index != idx {
		// старое окно истекло
		w = &localWindow{index: idx}
		l.counters[resource] = w
	}

	d := DecisionRejected
	switch {
	case w.count < cfg.MaxPerWindow:
		d = DecisionAdmitted
	case w.count < cfg.BurstMax:
		d = DecisionBurst
	}
	if d.Allowed() {
		w.count++
	}
	l.opts.metrics.RateLimitDecision(resource, d.String())
	return d, nil
}

// CurrentCount возвращает значение счётчика текущего окна ресурса.
func (l *LocalLimiter) CurrentCount(_ context.Context, resource string) (int, error) {
	cfg, ok := l.limits[resource]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.counters[resource]
	if !ok || w.index != windowIndex(l.opts.now(), cfg.Window) {
		return 0, nil
	}
	return w.count, nil
}
