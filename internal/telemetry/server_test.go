package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServeMux_Healthz(t *testing.T) {
	healthy := NewServeMux(prometheus.NewRegistry(), map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	code, body := get(t, healthy, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ok")

	broken := NewServeMux(prometheus.NewRegistry(), map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	code, body = get(t, broken, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "redis: connection refused\n", body)
}

func TestServeMux_Metrics(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.JobFinalized("COMPLETED")

	code, body := get(t, NewServeMux(reg, nil), "/metrics")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `storebridge_jobs_finalized_total{status="COMPLETED"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, slog.New(slog.NewTextHandler(io.Discard, nil))) }()
	cancel()

	assert.NoError(t, <-done)
}
