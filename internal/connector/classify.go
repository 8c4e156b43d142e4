package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/shaiso/storebridge/internal/domain"
)

// UserAgent — заголовок User-Agent всех клиентов.
const UserAgent = "StoreBridge/1.0"

// maxErrorBody — сколько байт тела ответа попадает в текст ошибки.
const maxErrorBody = 200

// ClassifyStatus переводит неуспешный HTTP-ответ в ClassifiedError.
//
//	429          → RateLimited
//	401          → AuthExpired
//	400, 422     → ValidationRejected
//	408, 5xx     → Transient
//	прочие 4xx   → Fatal
func ClassifyStatus(status int, body []byte) error {
	msg := fmt.Errorf("http %d: %s", status, Truncate(string(body), maxErrorBody))

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewError(domain.ErrorKindRateLimited, msg)
	case status == http.StatusUnauthorized:
		return domain.NewError(domain.ErrorKindAuthExpired, msg)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return domain.NewError(domain.ErrorKindValidationRejected, msg)
	case status == http.StatusRequestTimeout, status >= 500:
		return domain.NewError(domain.ErrorKindTransient, msg)
	default:
		return domain.NewError(domain.ErrorKindFatal, msg)
	}
}

// ClassifyTransport классифицирует ошибку http.Client.Do.
// Таймауты и сетевые ошибки — Transient. Отмена родительского контекста возвращается как есть.
func ClassifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.Errorf(domain.ErrorKindTransient, "timeout: %v", err)
	}
	return domain.NewError(domain.ErrorKindTransient, err)
}

// IsSuccess возвращает true для 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Truncate обрезает строку до maxLen байт, не разрезая символы UTF-8.
// Невалидные последовательности заменяются на U+FFFD: текст уходит в TEXT-колонку Postgres.
func Truncate(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
