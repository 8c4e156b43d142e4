package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shaiso/storebridge/internal/domain"
)

func validItem() domain.SourceItem {
	return domain.SourceItem{
		ID:          "100",
		Name:        "Stainless tumbler 500ml",
		Description: "Double wall vacuum tumbler",
		Price:       12900,
		Category:    "50000001",
		Images:      []string{"https://cdn.example.com/1.jpg"},
	}
}

func TestValidate_Valid(t *testing.T) {
	r := New(nil).Validate(validItem())
	assert.True(t, r.Valid())
	assert.NoError(t, r.Err())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.SourceItem)
		want   string
	}{
		{"missing name", func(s *domain.SourceItem) { s.Name = "" }, "required field missing: name"},
		{"short name", func(s *domain.SourceItem) { s.Name = "A" }, "name too short"},
		{"long name", func(s *domain.SourceItem) { s.Name = strings.Repeat("가", 501) }, "name too long: 501"},
		{"negative price", func(s *domain.SourceItem) { s.Price = -1 }, "price must be non-negative"},
		{"zero price", func(s *domain.SourceItem) { s.Price = 0 }, "required field missing: price"},
		{"missing description", func(s *domain.SourceItem) { s.Description = " " }, "required field missing: description"},
		{"missing category", func(s *domain.SourceItem) { s.Category = "" }, "category is required"},
		{"forbidden word", func(s *domain.SourceItem) { s.Description = "이 제품은 치료제 입니다" }, "forbidden word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validItem()
			tt.mutate(&src)

			r := New(nil).Validate(src)
			assert.False(t, r.Valid())
			assert.Contains(t, strings.Join(r.Errors, "\n"), tt.want)
			assert.Equal(t, domain.ErrorKindValidationRejected, domain.KindOf(r.Err()))
		})
	}
}

func TestValidate_CustomWordsCaseInsensitive(t *testing.T) {
	v := New([]string{"Miracle"})
	src := validItem()
	src.Name = "MIRACLE cream"

	r := v.Validate(src)
	assert.Len(t, r.Errors, 1)
}

func TestValidate_Warnings(t *testing.T) {
	src := validItem()
	src.Images = nil

	r := New(nil).Validate(src)
	assert.True(t, r.Valid())
	assert.Equal(t, []string{"no images provided"}, r.Warnings)
}
