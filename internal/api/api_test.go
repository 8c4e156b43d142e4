package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/storebridge/internal/domain"
	"github.com/shaiso/storebridge/internal/repo"
	"github.com/shaiso/storebridge/internal/telemetry"
)

type memStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	items map[uuid.UUID]*domain.Item

	lastItemFilter repo.ItemFilter
	listErr        error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*domain.Job{}, items: map[uuid.UUID]*domain.Item{}}
}

func (s *memStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *memStore) List(_ context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Job
	for _, j := range s.jobs {
		if filter.Status == "" || j.Status == filter.Status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *memStore) Cancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !j.Status.CanTransitionTo(domain.JobStatusCancelled) {
		return repo.ErrInvalidState
	}
	j.Status = domain.JobStatusCancelled
	return nil
}

// itemStore делит данные с memStore, но отдаёт items.
type itemStore struct{ *memStore }

func (s itemStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return it.Clone(), nil
}

func (s itemStore) ListByJob(_ context.Context, filter repo.ItemFilter) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastItemFilter = filter
	var out []domain.Item
	for _, it := range s.items {
		if it.JobID == filter.JobID && (filter.State == "" || it.State == filter.State) {
			out = append(out, *it)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (p *fakePublisher) PublishJobPending(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return p.err
}

func newServer(t *testing.T) (*httptest.Server, *memStore, *fakePublisher) {
	t.Helper()
	store := newMemStore()
	pub := &fakePublisher{}
	h := NewHandler(Config{
		Jobs:      store,
		Items:     itemStore{store},
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, pub
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestCreateJob_PublishesPendingJob(t *testing.T) {
	srv, store, pub := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/jobs",
		`{"params":{"keyword":"lamp","max_items":20}}`)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	data := body["data"].(map[string]any)
	assert.Equal(t, "IMPORT", data["type"])
	assert.Equal(t, "PENDING", data["status"])

	id, err := uuid.Parse(data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, pub.ids)

	job, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "lamp", job.Params.Keyword)
	assert.Equal(t, 20, job.Params.MaxItems)
}

func TestCreateJob_PublishFailureStillCreates(t *testing.T) {
	srv, store, pub := newServer(t)
	pub.err = errors.New("broker down")

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/jobs", `{"type":"IMPORT"}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, store.jobs, 1)
}

func TestCreateJob_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"params":`},
		{"unknown type", `{"type":"PRICE_SYNC"}`},
		{"negative max items", `{"params":{"max_items":-1}}`},
		{"negative page size", `{"params":{"page_size":-5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store, pub := newServer(t)

			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/jobs", tt.body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, string(ErrCodeBadRequest), body["error"].(map[string]any)["code"])
			assert.Empty(t, store.jobs)
			assert.Empty(t, pub.ids)
		})
	}
}

func TestGetJob(t *testing.T) {
	srv, store, _ := newServer(t)
	job := domain.NewJob(domain.JobTypeImport, domain.JobParams{})
	job.Status = domain.JobStatusRunning
	job.TotalCount = 4
	job.SuccessCount = 1
	job.FailedCount = 1
	job.ErrorSummary = map[domain.ErrorKind]int{domain.ErrorKindTransient: 3}
	require.NoError(t, store.Create(context.Background(), job))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID.String(), "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "RUNNING", data["status"])
	assert.InDelta(t, 0.5, data["progress"], 1e-9)
	assert.Equal(t, map[string]any{"Transient": float64(3)}, data["error_summary"])
}

func TestGetJob_Errors(t *testing.T) {
	srv, _, _ := newServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(ErrCodeNotFound), body["error"].(map[string]any)["code"])
}

func TestListJobs(t *testing.T) {
	srv, store, _ := newServer(t)
	running := domain.NewJob(domain.JobTypeImport, domain.JobParams{})
	running.Status = domain.JobStatusRunning
	require.NoError(t, store.Create(context.Background(), running))
	require.NoError(t, store.Create(context.Background(), domain.NewJob(domain.JobTypeImport, domain.JobParams{})))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/jobs?status=RUNNING&limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(10), body["limit"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/jobs?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/jobs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/jobs?limit=100000", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(maxLimit), body["limit"])
}

func TestListJobs_StoreFailure(t *testing.T) {
	srv, store, _ := newServer(t)
	store.listErr = errors.New("connection reset")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/jobs", "")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", body["error"].(map[string]any)["message"])
}

func TestCancelJob(t *testing.T) {
	srv, store, _ := newServer(t)
	job := domain.NewJob(domain.JobTypeImport, domain.JobParams{})
	require.NoError(t, store.Create(context.Background(), job))

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+job.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", body["data"].(map[string]any)["status"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+job.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(ErrCodeInvalidState), body["error"].(map[string]any)["code"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobItems_FiltersByState(t *testing.T) {
	srv, store, _ := newServer(t)
	job := domain.NewJob(domain.JobTypeImport, domain.JobParams{})
	require.NoError(t, store.Create(context.Background(), job))

	review := domain.NewItem(job.ID, domain.SourceItem{ID: "100", Name: "Lamp"})
	review.State = domain.ItemStateManualReview
	review.RecordError(domain.ErrorKindValidationRejected, "name: forbidden word")
	done := domain.NewItem(job.ID, domain.SourceItem{ID: "101", Name: "Desk"})
	done.State = domain.ItemStateCompleted
	store.items[review.ID] = review
	store.items[done.ID] = done

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID.String()+"/items?state=MANUAL_REVIEW", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ItemStateManualReview, store.lastItemFilter.State)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "100", item["source_id"])
	assert.Equal(t, "ValidationRejected", item["last_error_kind"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID.String()+"/items?state=SLEEPING", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+uuid.NewString()+"/items", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetItem(t *testing.T) {
	srv, store, _ := newServer(t)
	item := domain.NewItem(uuid.New(), domain.SourceItem{ID: "7", Name: "Chair", Price: 12000})
	item.State = domain.ItemStateCompleted
	item.ExternalID = "mk-991"
	store.items[item.ID] = item

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/items/"+item.ID.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "mk-991", data["external_id"])
	assert.Equal(t, "Chair", data["source"].(map[string]any)["name"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/items/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(RequestID(), Recovery(logger), Logging(logger, nil))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))
}

func TestLogging_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "nope")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/y", nil))

	n, err := testutil.GatherAndCount(reg, "storebridge_api_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP storebridge_api_http_requests_total HTTP requests handled by the API.
# TYPE storebridge_api_http_requests_total counter
storebridge_api_http_requests_total{code="404",method="GET"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "storebridge_api_http_requests_total"))
}

func TestHandleRepoError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"not found", repo.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"invalid state", fmt.Errorf("cancel: %w", repo.ErrInvalidState), http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"version conflict", repo.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handled := HandleRepoError(rec, logger, tt.err, "job not found")
			assert.Equal(t, tt.err != nil, handled)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
