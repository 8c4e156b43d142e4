package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/storebridge/internal/telemetry"
)

// acquireScript атомарно выполняет чтение, сравнение с порогами и инкремент.
//
// KEYS[1] — ключ окна; ARGV: max_per_window, burst_max, ttl_ms.
// Возвращает 1 (admitted), 2 (burst) или 0 (rejected).
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max_per_window = tonumber(ARGV[1])
local burst_max = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local decision = 0
if current < max_per_window then
	decision = 1
elseif current < burst_max then
	decision = 2
end

if decision > 0 then
	redis.call('INCR', KEYS[1])
	redis.call('PEXPIRE', KEYS[1], ttl_ms)
end
return decision
`)

// Option настраивает RedisLimiter и LocalLimiter.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func defaultOptions() options {
	return options{now: time.Now, logger: slog.Default()}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger задаёт логгер.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics задаёт метрики решений.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// RedisLimiter — распределённый limiter на общем счётчике в Redis.
//
// Безопасен для конкурентного использования из любого числа процессов:
// решение принимает Lua-скрипт, который Redis выполняет атомарно.
type RedisLimiter struct {
	client redis.Cmdable
	limits Limits
	opts   options
}

// NewRedisLimiter создаёт limiter. Владелец клиента Redis — вызывающий.
func NewRedisLimiter(client redis.Cmdable, limits Limits, opts ...Option) (*RedisLimiter, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisLimiter{client: client, limits: limits, opts: o}, nil
}

// TryAcquire реализует Limiter.
func (l *RedisLimiter) TryAcquire(ctx context.Context, resource string) (bool, error) {
	d, err := l.Acquire(ctx, resource)
	if err != nil {
		return false, err
	}
	return d.Allowed(), nil
}

// Acquire выполняет попытку и возвращает решение с указанием burst.
func (l *RedisLimiter) Acquire(ctx context.Context, resource string) (Decision, error) {
	cfg, ok := l.limits[resource]
	if !ok {
		return DecisionRejected, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	key := windowKey(resource, windowIndex(l.opts.now(), cfg.Window))
	ttl := 2 * cfg.Window

	res, err := acquireScript.Run(ctx, l.client, []string{key},
		cfg.MaxPerWindow, cfg.BurstMax, ttl.Milliseconds()).Int()
	if err != nil {
		l.opts.metrics.RateLimitDecision(resource, "unavailable")
		telemetry.WithResource(l.opts.logger, resource).Warn("rate limiter store error", "error", err)
		return DecisionRejected, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d := Decision(res)
	l.opts.metrics.RateLimitDecision(resource, d.String())
	if d == DecisionBurst {
		l.opts.logger.Debug("rate limit burst admission", "resource", resource, "key", key)
	}
	return d, nil
}

// CurrentCount возвращает значение счётчика текущего окна ресурса.
func (l *RedisLimiter) CurrentCount(ctx context.Context, resource string) (int, error) {
	cfg, ok := l.limits[resource]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	key := windowKey(resource, windowIndex(l.opts.now(), cfg.Window))
	n, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Limits возвращает настроенные лимиты.
func (l *RedisLimiter) Limits() Limits {
	return l.limits
}
