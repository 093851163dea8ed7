package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, "email-queue", cfg.Queue.EmailQueue)
	assert.Equal(t, "reports-queue", cfg.Queue.ReportsQueue)
	assert.Equal(t, 5, cfg.Queue.EmailConcurrency)
	assert.Equal(t, 2, cfg.Queue.ReportsConcurrency)
	assert.Equal(t, 3, cfg.Queue.Attempts)
	assert.Equal(t, time.Second, cfg.Queue.BackoffDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Dispatch.RateDelay)
	assert.False(t, cfg.IsProduction())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("EMAIL_CONCURRENCY", "12")
	t.Setenv("DISPATCH_RATE_DELAY", "50ms")
	t.Setenv("MAIL_DRIVER", "mock")
	t.Setenv("MOCK_FAILURE_RATE", "0.25")
	t.Setenv("APP_ENV", "production")

	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 12, cfg.Queue.EmailConcurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatch.RateDelay)
	assert.Equal(t, "mock", cfg.Mail.Driver)
	assert.InDelta(t, 0.25, cfg.Mail.MockFailureRate, 0.0001)
	assert.True(t, cfg.IsProduction())
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown queue driver", "QUEUE_DRIVER", "kafka"},
		{"unknown mail driver", "MAIL_DRIVER", "carrier-pigeon"},
		{"zero concurrency", "EMAIL_CONCURRENCY", "0"},
		{"zero attempts", "QUEUE_ATTEMPTS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := config.Parse()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestParseMalformedNumber(t *testing.T) {
	t.Setenv("EMAIL_CONCURRENCY", "five")
	_, err := config.Parse()
	require.Error(t, err)
}
