package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	healthTimeout   = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// HealthCheck проверяет одну зависимость процесса.
type HealthCheck func(ctx context.Context) error

// NewRegistry создаёт реестр с метриками Go runtime и процесса.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewServeMux возвращает mux с /healthz и /metrics.
// /healthz отвечает 503, если хотя бы одна проверка не прошла.
func NewServeMux(g prometheus.Gatherer, checks map[string]HealthCheck) *http.ServeMux {
	started := time.Now()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "%s: %v\n", name, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s\n", time.Since(started).Round(time.Second))
	})
	mux.Handle("GET /metrics", Handler(g))
	return mux
}

// Serve запускает srv и останавливает его после отмены ctx.
// Возвращает ошибку ListenAndServe, кроме штатного закрытия.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
