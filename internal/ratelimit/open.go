package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Бэкенды limiter.
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// Open создаёт limiter выбранного бэкенда. Для redis подключается по redisURL
// и проверяет соединение. Возвращённый close освобождает соединение.
func Open(ctx context.Context, backend, redisURL string, limits Limits, opts ...Option) (Limiter, func() error, error) {
	switch backend {
	case BackendLocal:
		l, err := NewLocalLimiter(limits, opts...)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil

	case BackendRedis:
		ropts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%w: ping redis: %v", ErrUnavailable, err)
		}

		l, err := NewRedisLimiter(client, limits, opts...)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return l, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, backend)
	}
}
