package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/bootstrap"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			Driver:             queue.DriverMemory,
			EmailQueue:         "email-queue",
			ReportsQueue:       "reports-queue",
			EmailConcurrency:   2,
			ReportsConcurrency: 1,
			Attempts:           3,
			BackoffDelay:       10 * time.Millisecond,
			PollInterval:       10 * time.Millisecond,
		},
		Dispatch: config.DispatchConfig{RateDelay: time.Millisecond, DefaultRecipientName: "Subscriber"},
	}
}

func TestWorkerRegistersBothQueues(t *testing.T) {
	cfg := testConfig()
	registry, err := bootstrap.NewRegistry(cfg.Queue, nil, logger.Discard())
	require.NoError(t, err)

	w, err := newWorker(cfg, nil, registry, mailer.NewMockSender(0, logger.Discard()), logger.Discard())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.Equal(t, []string{"email-queue", "reports-queue"}, registry.Names())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.Empty(t, registry.Names())
}

func TestWorkerBadTemplatePath(t *testing.T) {
	cfg := testConfig()
	cfg.Dispatch.TemplatePath = filepath.Join(t.TempDir(), "missing.html")
	registry, err := bootstrap.NewRegistry(cfg.Queue, nil, logger.Discard())
	require.NoError(t, err)

	_, err = newWorker(cfg, nil, registry, mailer.NewMockSender(0, logger.Discard()), logger.Discard())
	assert.Error(t, err)
}

func TestMetricsRouter(t *testing.T) {
	r := newMetricsRouter(bootstrap.HealthHandler(nil))

	for _, path := range []string{"/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
