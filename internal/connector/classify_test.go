package connector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/shaiso/storebridge/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusTooManyRequests, domain.ErrorKindRateLimited},
		{http.StatusUnauthorized, domain.ErrorKindAuthExpired},
		{http.StatusBadRequest, domain.ErrorKindValidationRejected},
		{http.StatusUnprocessableEntity, domain.ErrorKindValidationRejected},
		{http.StatusInternalServerError, domain.ErrorKindTransient},
		{http.StatusBadGateway, domain.ErrorKindTransient},
		{http.StatusRequestTimeout, domain.ErrorKindTransient},
		{http.StatusNotFound, domain.ErrorKindFatal},
		{http.StatusForbidden, domain.ErrorKindFatal},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.status, []byte("body"))
		assert.Equal(t, tt.want, domain.KindOf(err), "status %d", tt.status)
	}
}

func TestClassifyTransport(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, domain.ErrorKindTransient, domain.KindOf(ClassifyTransport(ctx, context.DeadlineExceeded)))
	assert.Equal(t, domain.ErrorKindTransient, domain.KindOf(ClassifyTransport(ctx, errors.New("connection refused"))))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, ClassifyTransport(cancelled, errors.New("x")), context.Canceled)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
}

func TestTruncate_KeepsMultibyteRunesWhole(t *testing.T) {
	// "상" занимает 3 байта: обрезка по 4 байтам оставляет один символ
	assert.Equal(t, "상...", Truncate("상품", 4))
	assert.Equal(t, "a\uFFFDb", Truncate("a\xffb", 10))
}

func TestClassifyStatus_MultibyteBodyStaysValidUTF8(t *testing.T) {
	body := `{"message":"` + strings.Repeat("상품", 100) + `"}`

	err := ClassifyStatus(http.StatusBadRequest, []byte(body))

	assert.True(t, utf8.ValidString(err.Error()))
	assert.Equal(t, domain.ErrorKindValidationRejected, domain.KindOf(err))
}
