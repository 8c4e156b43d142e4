package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/storebridge/internal/domain"
)

func TestCounts_EmptyIsObject(t *testing.T) {
	b, err := marshalCounts(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	m, err := unmarshalCounts(b)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCounts_KeepsKinds(t *testing.T) {
	b, err := marshalCounts(map[domain.ErrorKind]int{domain.ErrorKindTransient: 2})
	require.NoError(t, err)

	m, err := unmarshalCounts(b)
	require.NoError(t, err)
	assert.Equal(t, 2, m[domain.ErrorKindTransient])
}

func TestCounterColumn(t *testing.T) {
	col, err := counterColumn(domain.ItemStateManualReview)
	require.NoError(t, err)
	assert.Equal(t, "manual_review_count", col)

	_, err = counterColumn(domain.ItemStateUploading)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", deref(nullString("x")))
	assert.Empty(t, deref(nil))
}
