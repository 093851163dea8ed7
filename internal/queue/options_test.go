package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

func TestDefaultOptions(t *testing.T) {
	o := queue.DefaultOptions()

	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, queue.BackoffExponential, o.Backoff.Type)
	assert.Equal(t, time.Second, o.Backoff.Delay)
	assert.True(t, o.RemoveOnComplete)
	assert.False(t, o.RemoveOnFail)
}

func TestOptionsApplyOverridesOnlyGivenFields(t *testing.T) {
	o := queue.DefaultOptions().Apply(queue.WithAttempts(5), queue.WithRemoveOnComplete(false))

	assert.Equal(t, 5, o.Attempts)
	assert.False(t, o.RemoveOnComplete)
	assert.Equal(t, time.Second, o.Backoff.Delay)
	assert.False(t, o.RemoveOnFail)
}

func TestOptionsApplyIgnoresInvalidAttempts(t *testing.T) {
	o := queue.DefaultOptions().Apply(queue.WithAttempts(0))
	assert.Equal(t, 3, o.Attempts)
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		name    string
		backoff queue.Backoff
		attempt int
		want    time.Duration
	}{
		{"exponential first", queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}, 1, time.Second},
		{"exponential second", queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}, 2, 2 * time.Second},
		{"exponential third", queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}, 3, 4 * time.Second},
		{"exponential capped", queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second, Max: 3 * time.Second}, 5, 3 * time.Second},
		{"fixed", queue.Backoff{Type: queue.BackoffFixed, Delay: 500 * time.Millisecond}, 4, 500 * time.Millisecond},
		{"attempt below one", queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Duration(tt.attempt))
		})
	}
}
