package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — класс ошибки внешнего вызова.
//
// Коннекторы возвращают уже классифицированные ошибки, чтобы executor
// не разбирал HTTP-коды и тексты.
type ErrorKind string

const (
	// ErrorKindRateLimited — бюджет запросов исчерпан.
	ErrorKindRateLimited ErrorKind = "RateLimited"

	// ErrorKindAuthExpired — токен доступа истёк.
	ErrorKindAuthExpired ErrorKind = "AuthExpired"

	// ErrorKindValidationRejected — данные отклонены, повтор без изменений бесполезен.
	ErrorKindValidationRejected ErrorKind = "ValidationRejected"

	// ErrorKindTransient — сеть, таймаут, 5xx.
	ErrorKindTransient ErrorKind = "Transient"

	// ErrorKindFatal — неисправимая ошибка входных данных.
	ErrorKindFatal ErrorKind = "Fatal"

	// ErrorKindLimiterUnavailable — хранилище счётчиков rate limiter недоступно.
	ErrorKindLimiterUnavailable ErrorKind = "LimiterUnavailable"

	// ErrorKindJob — ошибка уровня job (например, каталог недоступен при приёме).
	ErrorKindJob ErrorKind = "JobError"
)

// ClassifiedError — ошибка с известным классом.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

// Error реализует интерфейс error.
func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewError создаёт ClassifiedError.
func NewError(kind ErrorKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Errorf создаёт ClassifiedError с форматированным сообщением.
func Errorf(kind ErrorKind, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf извлекает класс ошибки. Неклассифицированные ошибки считаются Transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindTransient
}
