package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storebridge"

// Metrics — Prometheus метрики конвейера регистрации.
//
// Все методы безопасны для nil-получателя: компоненты, собранные без метрик
// (например, в тестах), просто ничего не записывают.
type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	itemTransitions    *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	jobOutcomes        *prometheus.CounterVec
	jobsFinalized      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by resource and decision (admitted, burst, rejected, unavailable).",
		}, []string{"resource", "decision"}),
		itemTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_transitions_total",
			Help:      "Item state transitions.",
		}, []string{"from", "to"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_step_seconds",
			Help:      "Duration of a single registration step attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "outcome"}),
		jobOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Terminal item outcomes folded into job counters.",
		}, []string{"outcome"}),
		jobsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finalized_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_http_requests_total",
			Help:      "HTTP requests handled by the API.",
		}, []string{"method", "code"}),
	}
}

// RateLimitDecision учитывает решение rate limiter.
func (m *Metrics) RateLimitDecision(resource, decision string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(resource, decision).Inc()
}

// ItemTransition учитывает переход item.
func (m *Metrics) ItemTransition(from, to string) {
	if m == nil {
		return
	}
	m.itemTransitions.WithLabelValues(from, to).Inc()
}

// StepDuration учитывает длительность шага.
func (m *Metrics) StepDuration(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// JobOutcome учитывает терминальный исход item, принятый агрегатором.
func (m *Metrics) JobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(outcome).Inc()
}

// JobFinalized учитывает переход job в терминальный статус.
func (m *Metrics) JobFinalized(status string) {
	if m == nil {
		return
	}
	m.jobsFinalized.WithLabelValues(status).Inc()
}

// HTTPRequest учитывает запрос к API.
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler возвращает HTTP handler для /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
