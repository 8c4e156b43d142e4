package api

import (
	"net/http"
)

// GetItem возвращает item с историей ошибок.
// GET /api/v1/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		BadRequest(w, "invalid item id")
		return
	}

	item, err := h.items.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "item not found") {
		return
	}

	Success(w, ItemFromDomain(*item))
}
