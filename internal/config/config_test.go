package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/storebridge/internal/ratelimit"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(NewViper())
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Config{MaxPerWindow: 2, BurstMax: 3, Window: time.Second}, cfg.RateLimit.Marketplace)
	assert.Equal(t, ratelimit.Config{MaxPerWindow: 180, BurstMax: 180, Window: time.Minute}, cfg.RateLimit.Catalog)
	assert.Equal(t, 5, cfg.RateLimit.Acquire.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.Acquire.BaseBackoff)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Retry.BackoffBase)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffMultiplier, 1e-9)
	assert.Equal(t, time.Hour, cfg.Retry.BackoffMax)
	assert.False(t, cfg.Retry.RateLimitConsumesRetry)
	assert.Equal(t, "transient", cfg.Retry.LimiterUnavailable)

	assert.Equal(t, "@every 30s", cfg.Scheduler.ReconcileSpec)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 8080, cfg.HTTP.APIPort)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STOREBRIDGE_RATELIMIT_MARKETPLACE_MAX_PER_WINDOW", "5")
	t.Setenv("STOREBRIDGE_RATELIMIT_MARKETPLACE_BURST_MAX", "8")
	t.Setenv("STOREBRIDGE_RETRY_BACKOFF_BASE", "30s")
	t.Setenv("STOREBRIDGE_RETRY_RATE_LIMIT_CONSUMES_RETRY", "true")
	t.Setenv("STOREBRIDGE_VALIDATE_FORBIDDEN_WORDS", "replica,counterfeit")

	cfg, err := FromViper(NewViper())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimit.Marketplace.MaxPerWindow)
	assert.Equal(t, 8, cfg.RateLimit.Marketplace.BurstMax)
	assert.Equal(t, 30*time.Second, cfg.Retry.BackoffBase)
	assert.True(t, cfg.Retry.RateLimitConsumesRetry)
	assert.Equal(t, []string{"replica", "counterfeit"}, cfg.Validation.ForbiddenWords)
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"burst below max", "STOREBRIDGE_RATELIMIT_MARKETPLACE_BURST_MAX", "1"},
		{"zero window", "STOREBRIDGE_RATELIMIT_CATALOG_WINDOW", "0s"},
		{"no retries", "STOREBRIDGE_RETRY_MAX_RETRIES", "0"},
		{"shrinking backoff", "STOREBRIDGE_RETRY_BACKOFF_MULTIPLIER", "0.5"},
		{"unknown limiter policy", "STOREBRIDGE_RETRY_LIMITER_UNAVAILABLE", "ignore"},
		{"unknown backend", "STOREBRIDGE_RATELIMIT_BACKEND", "memcached"},
		{"bad cron", "STOREBRIDGE_SCHEDULER_RECONCILE_SPEC", "often"},
		{"no acquire attempts", "STOREBRIDGE_RATELIMIT_ACQUIRE_MAX_RETRIES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromViper(NewViper())
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileAndEnvFile(t *testing.T) {
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "storebridge.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[worker]
concurrency = 16

[marketplace]
category_id = "50000803"
`), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("STOREBRIDGE_MARKETPLACE_CLIENT_ID=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STOREBRIDGE_MARKETPLACE_CLIENT_ID") })

	cfg, err := Load(envPath, cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Worker.Concurrency)
	assert.Equal(t, "50000803", cfg.Marketplace.CategoryID)
	assert.Equal(t, "from-dotenv", cfg.Marketplace.ClientID)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"), "")
	assert.NoError(t, err)
}

func TestLimits(t *testing.T) {
	cfg, err := FromViper(NewViper())
	require.NoError(t, err)

	limits := cfg.Limits()
	assert.Contains(t, limits, ratelimit.ResourceMarketplace)
	assert.Contains(t, limits, ratelimit.ResourceCatalog)
}
