package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/storebridge/internal/mq"
)

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []uuid.UUID
	err      error
	block    chan struct{}
	running  atomic.Int32
	maxInFly atomic.Int32
}

func (p *fakeProcessor) Process(ctx context.Context, id uuid.UUID) error {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		old := p.maxInFly.Load()
		if n <= old || p.maxInFly.CompareAndSwap(old, n) {
			break
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, id)
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func (p *fakeProcessor) called() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.calls...)
}

type fakeDue struct {
	ids         []uuid.UUID
	err         error
	now, before time.Time
	limit       int
}

func (d *fakeDue) ListDue(_ context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	d.now, d.before, d.limit = now, staleBefore, limit
	return d.ids, d.err
}

func delivery(t *testing.T, payload any) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(mq.Message{ID: "m1", Type: mq.MessageTypeItemReady, Payload: payload})
	require.NoError(t, err)
	var msg mq.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return &mq.Delivery{Message: msg}
}

func TestHandleItemReady_ProcessesItem(t *testing.T) {
	proc := &fakeProcessor{}
	w := New(Config{Processor: proc})
	id := uuid.New()

	err := w.handleItemReady(context.Background(), delivery(t, mq.ItemReadyPayload{ItemID: id}))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, proc.called())
}

func TestHandleItemReady_InvalidPayloadIsPermanent(t *testing.T) {
	proc := &fakeProcessor{}
	w := New(Config{Processor: proc})

	err := w.handleItemReady(context.Background(), delivery(t, map[string]any{"item_id": "not-a-uuid"}))
	assert.ErrorIs(t, err, mq.ErrPermanent)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = w.handleItemReady(context.Background(), delivery(t, map[string]any{}))
	assert.ErrorIs(t, err, mq.ErrPermanent)
	assert.Empty(t, proc.called())
}

func TestHandleItemReady_ProcessorErrorRequeues(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("db down")}
	w := New(Config{Processor: proc})

	err := w.handleItemReady(context.Background(), delivery(t, mq.ItemReadyPayload{ItemID: uuid.New()}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, mq.ErrPermanent)
}

func TestProcessItem_SameItemNotProcessedTwice(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	w := New(Config{Processor: proc})
	id := uuid.New()

	done := make(chan error, 1)
	go func() { done <- w.processItem(context.Background(), id) }()

	require.Eventually(t, func() bool { return len(proc.called()) == 1 }, time.Second, time.Millisecond)

	err := w.handleItemReady(context.Background(), delivery(t, mq.ItemReadyPayload{ItemID: id}))
	assert.NoError(t, err, "busy item is acked, not requeued")
	assert.ErrorIs(t, w.processItem(context.Background(), id), ErrItemBusy)

	close(proc.block)
	require.NoError(t, <-done)
	assert.Len(t, proc.called(), 1)

	require.NoError(t, w.processItem(context.Background(), id))
	assert.Len(t, proc.called(), 2)
}

func TestPoll_UsesStaleCutoffAndBatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	due := &fakeDue{ids: ids}
	proc := &fakeProcessor{}
	w := New(Config{
		Processor:  proc,
		Due:        due,
		BatchSize:  10,
		StaleAfter: 2 * time.Minute,
		Now:        func() time.Time { return now },
	})

	n := w.poll(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, now, due.now)
	assert.Equal(t, now.Add(-2*time.Minute), due.before)
	assert.Equal(t, 10, due.limit)
	assert.ElementsMatch(t, ids, proc.called())
}

func TestPoll_BoundedConcurrency(t *testing.T) {
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}
	proc := &fakeProcessor{block: make(chan struct{})}
	w := New(Config{Processor: proc, Due: &fakeDue{ids: ids}, Concurrency: 3})

	done := make(chan int, 1)
	go func() { done <- w.poll(context.Background()) }()

	require.Eventually(t, func() bool { return proc.running.Load() == 3 }, time.Second, time.Millisecond)
	close(proc.block)
	assert.Equal(t, 10, <-done)
	assert.Equal(t, int32(3), proc.maxInFly.Load())
	assert.Len(t, proc.called(), 10)
}

func TestPoll_ListErrorIsLogged(t *testing.T) {
	proc := &fakeProcessor{}
	w := New(Config{Processor: proc, Due: &fakeDue{err: errors.New("db down")}})

	assert.Zero(t, w.poll(context.Background()))
	assert.Empty(t, proc.called())
}

func TestStartStop_PollingOnly(t *testing.T) {
	id := uuid.New()
	proc := &fakeProcessor{}
	w := New(Config{Processor: proc, Due: &fakeDue{ids: []uuid.UUID{id}}, PollInterval: time.Hour})

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return len(proc.called()) == 1 }, time.Second, time.Millisecond)

	w.Stop()
	assert.True(t, w.IsStopped())
}
