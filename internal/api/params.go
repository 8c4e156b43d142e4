package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// page — параметры пагинации из query.
type page struct {
	limit  int
	offset int
}

// parsePage читает limit и offset. Пустые значения дают default.
func parsePage(r *http.Request) (page, error) {
	p := page{limit: defaultLimit}
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid limit %q", s)
		}
		p.limit = min(n, maxLimit)
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid offset %q", s)
		}
		p.offset = n
	}
	return p, nil
}

// pathID парсит {id} из пути.
func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}
