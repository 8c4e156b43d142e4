package ratelimit

import (
	"fmt"
	"time"
)

// Известные ресурсы.
const (
	// ResourceMarketplace — API маркетплейса (загрузка изображений, регистрация).
	ResourceMarketplace = "marketplace"

	// ResourceCatalog — API каталога поставщика.
	ResourceCatalog = "catalog"
)

// Config — лимиты одного ресурса.
type Config struct {
	// MaxPerWindow — штатное число запросов за окно.
	MaxPerWindow int `mapstructure:"max_per_window"`

	// BurstMax — жёсткий потолок запросов за окно (>= MaxPerWindow).
	BurstMax int `mapstructure:"burst_max"`

	// Window — длина окна.
	Window time.Duration `mapstructure:"window"`
}

// Validate проверяет лимиты.
func (c Config) Validate() error {
	if c.MaxPerWindow < 1 {
		return fmt.Errorf("%w: max_per_window must be >= 1, got %d", ErrInvalidConfig, c.MaxPerWindow)
	}
	if c.BurstMax < c.MaxPerWindow {
		return fmt.Errorf("%w: burst_max (%d) must be >= max_per_window (%d)", ErrInvalidConfig, c.BurstMax, c.MaxPerWindow)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Limits — лимиты по ресурсам.
type Limits map[string]Config

// Validate проверяет лимиты всех ресурсов.
func (l Limits) Validate() error {
	for resource, cfg := range l {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("resource %q: %w", resource, err)
		}
	}
	return nil
}

// DefaultLimits возвращает лимиты по умолчанию: маркетплейс 2/3 в секунду,
// каталог 180 в минуту.
func DefaultLimits() Limits {
	return Limits{
		ResourceMarketplace: {MaxPerWindow: 2, BurstMax: 3, Window: time.Second},
		ResourceCatalog:     {MaxPerWindow: 180, BurstMax: 180, Window: time.Minute},
	}
}

// windowIndex возвращает номер окна, в которое попадает момент now.
func windowIndex(now time.Time, window time.Duration) int64 {
	return now.UnixNano() / int64(window)
}

// windowKey возвращает ключ счётчика окна: "<resource>:ratelimit:<index>".
func windowKey(resource string, index int64) string {
	return fmt.Sprintf("%s:ratelimit:%d", resource, index)
}
