package repo

import (
	"encoding/json"

	"github.com/shaiso/storebridge/internal/domain"
)

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// marshalCounts кодирует счётчики ошибок в JSONB. Пустая карта — "{}".
func marshalCounts(m map[domain.ErrorKind]int) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalCounts(b []byte) (map[domain.ErrorKind]int, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[domain.ErrorKind]int
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
