package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 60*time.Second, p.Backoff(0))
	assert.Equal(t, 120*time.Second, p.Backoff(1))
	assert.Equal(t, 240*time.Second, p.Backoff(2))
	assert.Equal(t, time.Hour, p.Backoff(20))
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())

	p := RetryPolicy{MaxRetries: 0, BackoffMultiplier: 0.5}
	err := p.Validate()
	assert.ErrorContains(t, err, "max_retries")
	assert.ErrorContains(t, err, "backoff_multiplier")
}

func TestJobStatus_Transitions(t *testing.T) {
	assert.True(t, JobStatusPending.CanTransitionTo(JobStatusRunning))
	assert.True(t, JobStatusPending.CanTransitionTo(JobStatusCancelled))
	assert.True(t, JobStatusRunning.CanTransitionTo(JobStatusCompleted))
	assert.False(t, JobStatusRunning.CanTransitionTo(JobStatusPending))
	assert.False(t, JobStatusCompleted.CanTransitionTo(JobStatusCancelled))
	assert.False(t, JobStatusCancelled.CanTransitionTo(JobStatusRunning))
}

func TestItem_IsDue(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	item := NewItem(uuid.New(), SourceItem{ID: "1"})
	assert.True(t, item.IsDue(now))

	item.State = ItemStateRetrying
	item.NextAttemptAt = &later
	assert.False(t, item.IsDue(now))
	assert.True(t, item.IsDue(later))

	item.State = ItemStateCompleted
	assert.False(t, item.IsDue(later))
}

func TestItem_RecordErrorAndClone(t *testing.T) {
	item := NewItem(uuid.New(), SourceItem{ID: "1", Images: []string{"a"}})
	item.RecordError(ErrorKindTransient, "timeout")
	item.RecordError(ErrorKindTransient, "timeout")

	c := item.Clone()
	c.RecordError(ErrorKindFatal, "bad")
	c.Source.Images[0] = "b"

	assert.Equal(t, 2, item.ErrorHistory[ErrorKindTransient])
	assert.Zero(t, item.ErrorHistory[ErrorKindFatal])
	assert.Equal(t, "a", item.Source.Images[0])
	assert.Equal(t, ErrorKindFatal, c.LastErrorKind)
}

func TestItem_RecordErrorSanitizesUTF8(t *testing.T) {
	item := NewItem(uuid.New(), SourceItem{ID: "1"})
	item.RecordError(ErrorKindTransient, "상\xec\x83")

	assert.Equal(t, "상\uFFFD", item.LastErrorMessage)
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("register: %w", NewError(ErrorKindValidationRejected, errors.New("bad name")))
	assert.Equal(t, ErrorKindValidationRejected, KindOf(err))
	assert.Equal(t, ErrorKindTransient, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestJob_Resolution(t *testing.T) {
	j := NewJob(JobTypeImport, JobParams{})
	j.TotalCount = 5
	j.SuccessCount = 3
	j.FailedCount = 1
	assert.False(t, j.IsResolved())

	j.ManualReviewCount = 1
	assert.True(t, j.IsResolved())
	assert.Equal(t, 1.0, j.Progress())
}

func TestSellerCode(t *testing.T) {
	assert.Equal(t, "DG-123", SellerCode("123"))
}
