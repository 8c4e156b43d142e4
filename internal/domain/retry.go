package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy — политика повторных попыток для шагов регистрации.
type RetryPolicy struct {
	// MaxRetries — сколько временных ошибок допускается до FAILED.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// BackoffBase — базовая задержка.
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`

	// BackoffMultiplier — множитель экспоненты.
	BackoffMultiplier float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`

	// BackoffMax — верхняя граница задержки (0 — без ограничения).
	BackoffMax time.Duration `json:"backoff_max,omitempty" mapstructure:"backoff_max"`
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки, 60s * 2^n.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BackoffBase:       60 * time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        time.Hour,
	}
}

// Validate проверяет корректность политики.
func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 1, got %d", p.MaxRetries))
	}
	if p.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("backoff_base must be >= 0, got %s", p.BackoffBase))
	}
	if p.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be >= 1, got %v", p.BackoffMultiplier))
	}
	if p.BackoffMax < 0 {
		errs = append(errs, fmt.Errorf("backoff_max must be >= 0, got %s", p.BackoffMax))
	}
	return errors.Join(errs...)
}

// Backoff вычисляет задержку: BackoffBase * BackoffMultiplier^retryCount, с ограничением BackoffMax.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.BackoffBase) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if p.BackoffMax > 0 && d > float64(p.BackoffMax) {
		return p.BackoffMax
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
