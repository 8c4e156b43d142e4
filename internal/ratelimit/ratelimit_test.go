package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func marketplaceLimits(max, burst int) Limits {
	return Limits{ResourceMarketplace: {MaxPerWindow: max, BurstMax: burst, Window: time.Second}}
}

func newRedisLimiter(t *testing.T, limits Limits, clock *fakeClock) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLimiter(client, limits, WithClock(clock.Now))
	require.NoError(t, err)
	return l, mr
}

func concurrentAcquire(t *testing.T, l Limiter, n int) int {
	t.Helper()
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryAcquire(context.Background(), ResourceMarketplace)
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return int(admitted.Load())
}

func TestRedisLimiter_ConcurrentCallsNeverExceedBurst(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, _ := newRedisLimiter(t, marketplaceLimits(2, 3), clock)

	assert.Equal(t, 3, concurrentAcquire(t, l, 10))

	count, err := l.CurrentCount(context.Background(), ResourceMarketplace)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "rejected calls must not mutate the counter")
}

func TestLocalLimiter_ConcurrentCallsNeverExceedBurst(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, err := NewLocalLimiter(marketplaceLimits(2, 3), WithClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, 3, concurrentAcquire(t, l, 10))
}

func TestRedisLimiter_AdmissionMonotonicInThresholds(t *testing.T) {
	tests := []struct {
		max, burst, calls, want int
	}{
		{max: 1, burst: 1, calls: 5, want: 1},
		{max: 2, burst: 3, calls: 2, want: 2},
		{max: 2, burst: 5, calls: 10, want: 5},
		{max: 4, burst: 4, calls: 3, want: 3},
	}
	for _, tt := range tests {
		clock := newFakeClock(time.Unix(1_700_000_000, 0))
		l, _ := newRedisLimiter(t, marketplaceLimits(tt.max, tt.burst), clock)
		assert.Equal(t, tt.want, concurrentAcquire(t, l, tt.calls), "max=%d burst=%d calls=%d", tt.max, tt.burst, tt.calls)
	}
}

func TestRedisLimiter_BurstDecisions(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, _ := newRedisLimiter(t, marketplaceLimits(2, 3), clock)
	ctx := context.Background()

	var got []Decision
	for i := 0; i < 4; i++ {
		d, err := l.Acquire(ctx, ResourceMarketplace)
		require.NoError(t, err)
		got = append(got, d)
	}
	assert.Equal(t, []Decision{DecisionAdmitted, DecisionAdmitted, DecisionBurst, DecisionRejected}, got)
}

func TestRedisLimiter_NewWindowResetsBudget(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLimiter(t, marketplaceLimits(2, 3), clock)
	ctx := context.Background()

	assert.Equal(t, 3, concurrentAcquire(t, l, 5))

	key := windowKey(ResourceMarketplace, windowIndex(clock.Now(), time.Second))
	assert.Equal(t, 2*time.Second, mr.TTL(key))

	clock.Advance(time.Second)
	ok, err := l.TryAcquire(ctx, ResourceMarketplace)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_StoreDownIsUnavailable(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLimiter(t, marketplaceLimits(2, 3), clock)
	mr.Close()

	ok, err := l.TryAcquire(context.Background(), ResourceMarketplace)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLimiter_UnknownResource(t *testing.T) {
	l, err := NewLocalLimiter(DefaultLimits())
	require.NoError(t, err)

	_, err = l.TryAcquire(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultLimits().Validate())
	assert.ErrorIs(t, Config{MaxPerWindow: 3, BurstMax: 2, Window: time.Second}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{MaxPerWindow: 2, BurstMax: 3}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{MaxPerWindow: 0, BurstMax: 3, Window: time.Second}.Validate(), ErrInvalidConfig)

	_, err := NewLocalLimiter(Limits{"x": {MaxPerWindow: 5, BurstMax: 1, Window: time.Second}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type countingLimiter struct {
	Limiter
	calls int
}

func (c *countingLimiter) TryAcquire(ctx context.Context, resource string) (bool, error) {
	c.calls++
	return c.Limiter.TryAcquire(ctx, resource)
}

func TestAcquireWithBackoff_SucceedsAfterOneWindow(t *testing.T) {
	clock := newFakeClock(time.Unix(10, 600_000_000))
	local, err := NewLocalLimiter(marketplaceLimits(2, 3), WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := local.TryAcquire(context.Background(), ResourceMarketplace)
		require.NoError(t, err)
		require.True(t, ok)
	}

	l := &countingLimiter{Limiter: local}
	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return nil
	}

	ok, err := AcquireWithBackoff(context.Background(), l, ResourceMarketplace, 5, 500*time.Millisecond, WithSleep(sleep))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, l.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeps)
}

type rejectAll struct{ calls int }

func (r *rejectAll) TryAcquire(context.Context, string) (bool, error) {
	r.calls++
	return false, nil
}

func TestAcquireWithBackoff_GivesUpAfterMaxRetries(t *testing.T) {
	l := &rejectAll{}
	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	ok, err := AcquireWithBackoff(context.Background(), l, ResourceMarketplace, 3, 100*time.Millisecond, WithSleep(sleep))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, l.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps)
}

func TestAcquireWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := AcquireWithBackoff(ctx, &rejectAll{}, ResourceMarketplace, 3, time.Hour)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireWithBackoff_PropagatesUnavailable(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLimiter(t, marketplaceLimits(2, 3), clock)
	mr.Close()

	b := Budget{Limiter: l, Resource: ResourceMarketplace, MaxRetries: 3, BaseBackoff: time.Millisecond}
	ok, err := b.Acquire(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)

		l, closeFn, err := Open(ctx, BackendRedis, "redis://"+mr.Addr()+"/0", DefaultLimits())
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeFn() })

		ok, err := l.TryAcquire(ctx, ResourceMarketplace)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.IsType(t, &RedisLimiter{}, l)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, _, err := Open(ctx, BackendRedis, "redis://"+addr, DefaultLimits())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("local", func(t *testing.T) {
		l, closeFn, err := Open(ctx, BackendLocal, "", DefaultLimits())
		require.NoError(t, err)
		assert.NoError(t, closeFn())
		assert.IsType(t, &LocalLimiter{}, l)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := Open(ctx, "memcached", "", DefaultLimits())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestBudget_RequireReturnsNoBudget(t *testing.T) {
	l := &rejectAll{}
	b := Budget{Limiter: l, Resource: ResourceCatalog, MaxRetries: 2, BaseBackoff: time.Millisecond}

	err := b.Require(context.Background())
	assert.ErrorIs(t, err, ErrNoBudget)
	assert.Contains(t, err.Error(), ResourceCatalog)
	assert.Equal(t, 2, l.calls)
}
