// Package config загружает конфигурацию процессов storebridge.
//
// Источники по возрастанию приоритета: значения по умолчанию, файл
// storebridge.{toml,yaml}, переменные окружения STOREBRIDGE_* (точка в ключе
// заменяется на подчёркивание), в том числе из файла .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/scheduler"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "STOREBRIDGE"

// Config — конфигурация всех процессов.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	RabbitMQ     RabbitMQConfig     `mapstructure:"rabbitmq"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Marketplace  MarketplaceConfig  `mapstructure:"marketplace"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Validation   ValidateConfig     `mapstructure:"validate"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	HTTP         HTTPConfig         `mapstructure:"http"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// RateLimitConfig — лимиты ресурсов и ожидание бюджета.
type RateLimitConfig struct {
	// Backend — redis (распределённый) или local (один процесс).
	Backend     string           `mapstructure:"backend"`
	Marketplace ratelimit.Config `mapstructure:"marketplace"`
	Catalog     ratelimit.Config `mapstructure:"catalog"`
	Acquire     AcquireConfig    `mapstructure:"acquire"`
}

type AcquireConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

// RetryConfig — политика повторов шагов регистрации.
type RetryConfig struct {
	domain.RetryPolicy `mapstructure:",squash"`

	RateLimitConsumesRetry bool   `mapstructure:"rate_limit_consumes_retry"`
	LimiterUnavailable     string `mapstructure:"limiter_unavailable"`
}

type MarketplaceConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CategoryID   string        `mapstructure:"category_id"`
}

type CatalogConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PageSize    int           `mapstructure:"page_size"`
	PageRetries int           `mapstructure:"page_retries"`
}

type ValidateConfig struct {
	// ForbiddenWords — запрещённые слова; пусто — встроенный список.
	ForbiddenWords []string `mapstructure:"forbidden_words"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type OrchestratorConfig struct {
	Prefetch int `mapstructure:"prefetch"`
}

type SchedulerConfig struct {
	ReconcileSpec string        `mapstructure:"reconcile_spec"`
	RequeueSpec   string        `mapstructure:"requeue_spec"`
	PendingGrace  time.Duration `mapstructure:"pending_grace"`
	LockKey       int64         `mapstructure:"lock_key"`
}

type HTTPConfig struct {
	APIPort          int    `mapstructure:"api_port"`
	WorkerPort       int    `mapstructure:"worker_port"`
	OrchestratorPort int    `mapstructure:"orchestrator_port"`
	SchedulerPort    int    `mapstructure:"scheduler_port"`
	APIURL           string `mapstructure:"api_url"`
}

// Load читает .env (если есть) и конфигурацию. configPath пустой —
// поиск storebridge.{toml,yaml} в рабочем каталоге.
func Load(envFile, configPath string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := NewViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("storebridge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return FromViper(v)
}

// NewViper создаёт viper с умолчаниями и привязкой к окружению.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// FromViper декодирует и проверяет конфигурацию.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Limits возвращает лимиты ресурсов для rate limiter.
func (c *Config) Limits() ratelimit.Limits {
	return ratelimit.Limits{
		ratelimit.ResourceMarketplace: c.RateLimit.Marketplace,
		ratelimit.ResourceCatalog:     c.RateLimit.Catalog,
	}
}

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Limits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ratelimit: %w", err))
	}
	switch c.RateLimit.Backend {
	case "redis", "local":
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be redis or local, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.Acquire.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("ratelimit.acquire.max_retries must be >= 1, got %d", c.RateLimit.Acquire.MaxRetries))
	}
	if c.RateLimit.Acquire.BaseBackoff <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.acquire.base_backoff must be positive, got %s", c.RateLimit.Acquire.BaseBackoff))
	}
	if err := c.Retry.RetryPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	switch c.Retry.LimiterUnavailable {
	case "transient", "fatal":
	default:
		errs = append(errs, fmt.Errorf("retry.limiter_unavailable must be transient or fatal, got %q", c.Retry.LimiterUnavailable))
	}
	if err := scheduler.ValidateCronExpr(c.Scheduler.ReconcileSpec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.reconcile_spec: %w", err))
	}
	if err := scheduler.ValidateCronExpr(c.Scheduler.RequeueSpec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.requeue_spec: %w", err))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency))
	}

	return errors.Join(errs...)
}
