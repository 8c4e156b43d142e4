package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger, h.metrics),
	)

	// Jobs
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{id}/cancel", chain(http.HandlerFunc(h.CancelJob)))
	mux.Handle("GET /api/v1/jobs/{id}/items", chain(http.HandlerFunc(h.ListJobItems)))

	// Items
	mux.Handle("GET /api/v1/items/{id}", chain(http.HandlerFunc(h.GetItem)))
}
