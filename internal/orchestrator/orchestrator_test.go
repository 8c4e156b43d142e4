package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/storebridge/internal/connector/catalog"
	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/mq"
	"github.com/shaiso/storebridge/internal/ratelimit"
	"github.com/shaiso/storebridge/internal/repo"
)

type memJobs struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	items map[uuid.UUID]map[string]*domain.Item
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[uuid.UUID]*domain.Job{}, items: map[uuid.UUID]map[string]*domain.Item{}}
}

func (m *memJobs) add(params domain.JobParams) *domain.Job {
	j := domain.NewJob(domain.JobTypeImport, params)
	m.jobs[j.ID] = j
	m.items[j.ID] = map[string]*domain.Item{}
	return j
}

func (m *memJobs) get(id uuid.UUID) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobs) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m *memJobs) MarkRunning(_ context.Context, id uuid.UUID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j.Status != domain.JobStatusPending {
		return repo.ErrInvalidState
	}
	j.Status = domain.JobStatusRunning
	j.TotalCount = total
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = domain.JobStatusFailed
	m.jobs[id].Error = errMsg
	return nil
}

func (m *memJobs) Finalize(_ context.Context, id uuid.UUID, status domain.JobStatus, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[id].Status != domain.JobStatusRunning {
		return false, nil
	}
	m.jobs[id].Status = status
	return true, nil
}

func (m *memJobs) CountItemStates(_ context.Context, jobID uuid.UUID) (map[domain.ItemState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.ItemState]int{}
	for _, it := range m.items[jobID] {
		out[it.State]++
	}
	return out, nil
}

func (m *memJobs) CreateBatch(_ context.Context, items []*domain.Item) ([]*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created []*domain.Item
	for _, it := range items {
		if _, dup := m.items[it.JobID][it.SourceID]; dup {
			continue
		}
		m.items[it.JobID][it.SourceID] = it
		created = append(created, it)
	}
	return created, nil
}

type fakeCatalog struct {
	items    []domain.SourceItem
	failPage int
	failErr  error
	fails    int
	calls    []int
}

func (c *fakeCatalog) PageSize() int { return 2 }

func (c *fakeCatalog) FetchBatch(_ context.Context, _ catalog.Filter, page, pageSize int) (catalog.Page, error) {
	c.calls = append(c.calls, page)
	if page == c.failPage && c.fails != 0 {
		if c.fails > 0 {
			c.fails--
		}
		return catalog.Page{}, c.failErr
	}
	start := (page - 1) * pageSize
	if start >= len(c.items) {
		return catalog.Page{TotalCount: len(c.items)}, nil
	}
	end := min(start+pageSize, len(c.items))
	return catalog.Page{Items: c.items[start:end], TotalCount: len(c.items)}, nil
}

type fakePublisher struct {
	ids []uuid.UUID
	err error
}

func (p *fakePublisher) PublishItemReady(_ context.Context, id uuid.UUID) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *stubLimiter) TryAcquire(context.Context, string) (bool, error) {
	l.calls++
	return l.allow, l.err
}

func sourceItems(n int) []domain.SourceItem {
	out := make([]domain.SourceItem, n)
	for i := range out {
		out[i] = domain.SourceItem{ID: fmt.Sprintf("%d", 1000+i), Name: fmt.Sprintf("item %d", i), Price: 1000}
	}
	return out
}

type harness struct {
	jobs    *memJobs
	catalog *fakeCatalog
	pub     *fakePublisher
	limiter *stubLimiter
	sleeps  []time.Duration
	intake  *Intake
}

func newHarness(items []domain.SourceItem) *harness {
	h := &harness{
		jobs:    newMemJobs(),
		catalog: &fakeCatalog{items: items},
		pub:     &fakePublisher{},
		limiter: &stubLimiter{allow: true},
	}
	h.intake = NewIntake(IntakeConfig{
		Jobs:      h.jobs,
		Items:     h.jobs,
		Catalog:   h.catalog,
		Publisher: h.pub,
		Budget: ratelimit.Budget{
			Limiter:    h.limiter,
			Resource:   ratelimit.ResourceCatalog,
			MaxRetries: 1,
			Window:     time.Minute,
		},
		PageRetries: 2,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
	return h
}

func TestIntake_CreatesItemsAcrossPages(t *testing.T) {
	h := newHarness(sourceItems(5))
	job := h.jobs.add(domain.JobParams{Keyword: "mug"})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	got := h.jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, 5, got.TotalCount)
	assert.Equal(t, []int{1, 2, 3}, h.catalog.calls)
	assert.Len(t, h.pub.ids, 5)
	assert.Equal(t, 3, h.limiter.calls, "one catalog budget per page")

	for _, it := range h.jobs.items[job.ID] {
		assert.Equal(t, domain.ItemStatePending, it.State)
		assert.Equal(t, job.ID, it.JobID)
	}
}

func TestIntake_RespectsMaxItems(t *testing.T) {
	h := newHarness(sourceItems(10))
	job := h.jobs.add(domain.JobParams{MaxItems: 3})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	assert.Equal(t, 3, h.jobs.get(job.ID).TotalCount)
	assert.Equal(t, []int{1, 2}, h.catalog.calls)
	assert.Len(t, h.pub.ids, 3)
}

func TestIntake_EmptyCatalogCompletesJob(t *testing.T) {
	h := newHarness(nil)
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	got := h.jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Zero(t, got.TotalCount)
	assert.Empty(t, h.pub.ids)
}

func TestIntake_TransientPageErrorIsRetried(t *testing.T) {
	h := newHarness(sourceItems(3))
	h.catalog.failPage = 2
	h.catalog.fails = 1
	h.catalog.failErr = domain.Errorf(domain.ErrorKindTransient, "HTTP 503")
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	assert.Equal(t, []int{1, 2, 2}, h.catalog.calls)
	assert.Equal(t, []time.Duration{time.Minute}, h.sleeps)
	assert.Equal(t, 3, h.jobs.get(job.ID).TotalCount)
}

func TestIntake_CatalogFailureFailsJob(t *testing.T) {
	h := newHarness(sourceItems(3))
	h.catalog.failPage = 1
	h.catalog.fails = -1
	h.catalog.failErr = domain.Errorf(domain.ErrorKindTransient, "HTTP 503")
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	got := h.jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "HTTP 503")
	assert.Len(t, h.catalog.calls, 3)
	assert.Empty(t, h.pub.ids)
}

func TestIntake_FatalCatalogErrorNotRetried(t *testing.T) {
	h := newHarness(sourceItems(3))
	h.catalog.failPage = 1
	h.catalog.fails = -1
	h.catalog.failErr = domain.Errorf(domain.ErrorKindFatal, "HTTP 403")
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	assert.Equal(t, domain.JobStatusFailed, h.jobs.get(job.ID).Status)
	assert.Len(t, h.catalog.calls, 1)
}

func TestIntake_NoCatalogBudgetFailsJobWithoutCalls(t *testing.T) {
	h := newHarness(sourceItems(3))
	h.limiter.allow = false
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	got := h.jobs.get(job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, ErrCatalogBudget.Error())
	assert.Empty(t, h.catalog.calls)
}

func TestIntake_NotPending(t *testing.T) {
	h := newHarness(sourceItems(1))
	job := h.jobs.add(domain.JobParams{})
	h.jobs.jobs[job.ID].Status = domain.JobStatusCancelled

	err := h.intake.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobNotPending)
	assert.Empty(t, h.catalog.calls)
}

func TestIntake_ResumedIntakeCountsEarlierItems(t *testing.T) {
	h := newHarness(sourceItems(3))
	job := h.jobs.add(domain.JobParams{})

	// прерванный приём успел создать первый товар
	first := domain.NewItem(job.ID, sourceItems(1)[0])
	h.jobs.items[job.ID][first.SourceID] = first

	require.NoError(t, h.intake.Run(context.Background(), job.ID))

	assert.Equal(t, 3, h.jobs.get(job.ID).TotalCount)
	assert.Len(t, h.pub.ids, 2, "only freshly created items are published")
}

func TestIntake_PublishFailureDoesNotFailJob(t *testing.T) {
	h := newHarness(sourceItems(2))
	h.pub.err = errors.New("broker down")
	job := h.jobs.add(domain.JobParams{})

	require.NoError(t, h.intake.Run(context.Background(), job.ID))
	assert.Equal(t, domain.JobStatusRunning, h.jobs.get(job.ID).Status)
}

type recorderFunc func(ctx context.Context, o domain.ItemOutcome) error

func (f recorderFunc) RecordOutcome(ctx context.Context, o domain.ItemOutcome) error {
	return f(ctx, o)
}

func deliveryOf(t *testing.T, payload any) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(mq.Message{ID: "m", Payload: payload})
	require.NoError(t, err)
	var msg mq.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return &mq.Delivery{Message: msg}
}

func TestHandleJobPending(t *testing.T) {
	h := newHarness(sourceItems(1))
	job := h.jobs.add(domain.JobParams{})
	o := New(Config{Intake: h.intake})

	require.NoError(t, o.handleJobPending(context.Background(), deliveryOf(t, mq.JobPendingPayload{JobID: job.ID})))
	assert.Equal(t, domain.JobStatusRunning, h.jobs.get(job.ID).Status)

	// повторная доставка
	require.NoError(t, o.handleJobPending(context.Background(), deliveryOf(t, mq.JobPendingPayload{JobID: job.ID})))
	// неизвестный job
	require.NoError(t, o.handleJobPending(context.Background(), deliveryOf(t, mq.JobPendingPayload{JobID: uuid.New()})))

	err := o.handleJobPending(context.Background(), deliveryOf(t, map[string]any{}))
	assert.ErrorIs(t, err, mq.ErrPermanent)
}

func TestHandleItemCompleted(t *testing.T) {
	var got []domain.ItemOutcome
	o := New(Config{Aggregator: recorderFunc(func(_ context.Context, out domain.ItemOutcome) error {
		got = append(got, out)
		return nil
	})})

	outcome := domain.ItemOutcome{JobID: uuid.New(), ItemID: uuid.New(), State: domain.ItemStateCompleted}
	require.NoError(t, o.handleItemCompleted(context.Background(), deliveryOf(t, outcome)))
	assert.Equal(t, []domain.ItemOutcome{outcome}, got)

	bad := domain.ItemOutcome{JobID: uuid.New(), ItemID: uuid.New(), State: domain.ItemStateRetrying}
	assert.ErrorIs(t, o.handleItemCompleted(context.Background(), deliveryOf(t, bad)), mq.ErrPermanent)
}
