package mailer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

var ErrMockDelivery = errors.New("mock sending failed")

// MockSender simulates a transport that fails at the given rate.
type MockSender struct {
	FailureRate float64
	Latency     time.Duration

	logger *slog.Logger
	mu     sync.Mutex
	sent   []MockMessage
}

type MockMessage struct {
	To      string
	Subject string
	HTML    string
}

func NewMockSender(failureRate float64, logger *slog.Logger) *MockSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSender{FailureRate: failureRate, logger: logger}
}

func (m *MockSender) Deliver(ctx context.Context, to, subject, html string) error {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	if rand.Float64() < m.FailureRate {
		return ErrMockDelivery
	}

	m.mu.Lock()
	m.sent = append(m.sent, MockMessage{To: to, Subject: subject, HTML: html})
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "📩 mock email sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}

// Sent returns the messages accepted so far.
func (m *MockSender) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.sent...)
}
