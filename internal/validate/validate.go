// Package validate проверяет товар каталога перед регистрацией.
//
// Ошибки валидации не исправляются повтором, поэтому executor
// переводит такой item в MANUAL_REVIEW.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shaiso/storebridge/internal/domain"
)

// Ограничения маркетплейса.
const (
	MinNameLength = 2
	MaxNameLength = 500
	MaxImages     = 20
)

// DefaultForbiddenWords — запрещённые формулировки в названии и описании
// (медицинские и абсолютные утверждения).
var DefaultForbiddenWords = []string{
	"병 치료",
	"질병 완치",
	"의약품",
	"처방전",
	"100% 효과",
	"무조건",
	"반드시 효과",
	"완치",
	"치료제",
}

// Result — результат проверки.
type Result struct {
	Errors   []string
	Warnings []string
}

// Valid возвращает true, если ошибок нет.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err возвращает ClassifiedError ValidationRejected или nil.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return domain.Errorf(domain.ErrorKindValidationRejected, "%s", strings.Join(r.Errors, "; "))
}

// Validator проверяет товары.
type Validator struct {
	forbidden []string
}

// New создаёт Validator. Пустой список — DefaultForbiddenWords.
func New(forbiddenWords []string) *Validator {
	if len(forbiddenWords) == 0 {
		forbiddenWords = DefaultForbiddenWords
	}
	lowered := make([]string, 0, len(forbiddenWords))
	for _, w := range forbiddenWords {
		if w = strings.TrimSpace(w); w != "" {
			lowered = append(lowered, strings.ToLower(w))
		}
	}
	return &Validator{forbidden: lowered}
}

// Validate проверяет обязательные поля, длину названия, цену, категорию и запрещённые слова.
func (v *Validator) Validate(src domain.SourceItem) Result {
	var r Result

	name := strings.TrimSpace(src.Name)
	if name == "" {
		r.Errors = append(r.Errors, "required field missing: name")
	}
	if strings.TrimSpace(src.Description) == "" {
		r.Errors = append(r.Errors, "required field missing: description")
	}

	switch {
	case src.Price < 0:
		r.Errors = append(r.Errors, fmt.Sprintf("price must be non-negative: %d", src.Price))
	case src.Price == 0:
		r.Errors = append(r.Errors, "required field missing: price")
	}

	n := utf8.RuneCountInString(name)
	if n > MaxNameLength {
		r.Errors = append(r.Errors, fmt.Sprintf("name too long: %d chars (max %d)", n, MaxNameLength))
	}
	if n < MinNameLength {
		r.Errors = append(r.Errors, fmt.Sprintf("name too short: %d chars (min %d)", n, MinNameLength))
	}

	if strings.TrimSpace(src.Category) == "" {
		r.Errors = append(r.Errors, "category is required")
	}

	r.Errors = append(r.Errors, v.ForbiddenWords(src.Name)...)
	r.Errors = append(r.Errors, v.ForbiddenWords(src.Description)...)

	switch {
	case len(src.Images) == 0:
		r.Warnings = append(r.Warnings, "no images provided")
	case len(src.Images) > MaxImages:
		r.Warnings = append(r.Warnings, fmt.Sprintf("too many images: %d (max %d)", len(src.Images), MaxImages))
	}

	return r
}

// ForbiddenWords возвращает ошибки для каждого найденного запрещённого слова (без учёта регистра).
func (v *Validator) ForbiddenWords(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var errs []string
	for _, w := range v.forbidden {
		if strings.Contains(lower, w) {
			errs = append(errs, fmt.Sprintf("forbidden word detected: %q", w))
		}
	}
	return errs
}
