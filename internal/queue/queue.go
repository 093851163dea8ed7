package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueClosed        = errors.New("queue: closed")
	ErrAlreadySettled     = errors.New("queue: item already settled")
	ErrNoTerminalSignal   = errors.New("queue: handler returned without completing or failing the item")
	ErrAlreadyConsuming   = errors.New("queue: consume already started")
	ErrInvalidConcurrency = errors.New("queue: concurrency must be at least 1")
	ErrUnknownDriver      = errors.New("queue: unknown driver")
)

// Queue is a named, durable, at-least-once work queue. The backend owns
// retry scheduling and retention of items that exhausted their attempts.
type Queue interface {
	Name() string
	// Enqueue publishes payload as JSON and returns the item id once the
	// broker accepted it.
	Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error)
	// Consume starts concurrency workers calling h for each item. It returns
	// immediately; the workers run until Close.
	Consume(concurrency int, h Handler) error
	// Close stops dispatch, waits for in-flight handlers until ctx is done,
	// then cancels them and waits for them to return.
	Close(ctx context.Context) error
}

// Handler processes one delivery. It must call exactly one of Complete or
// Fail on d before returning.
type Handler func(ctx context.Context, d *Delivery)

// Item is one unit of queued work.
type Item struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v.
func (i Item) Decode(v any) error {
	if err := json.Unmarshal(i.Payload, v); err != nil {
		return fmt.Errorf("queue: decode item %s: %w", i.ID, err)
	}
	return nil
}

// Delivery is an Item handed to a Handler together with its terminal signals.
type Delivery struct {
	Item

	mu       sync.Mutex
	settled  bool
	complete func(ctx context.Context) error
	fail     func(ctx context.Context, err error) error
}

// NewDelivery wraps item with backend specific settle functions.
func NewDelivery(item Item, complete func(ctx context.Context) error, fail func(ctx context.Context, err error) error) *Delivery {
	return &Delivery{Item: item, complete: complete, fail: fail}
}

// Complete reports success. Calling it after the item was settled returns
// ErrAlreadySettled and does nothing.
func (d *Delivery) Complete(ctx context.Context) error {
	if !d.markSettled() {
		return ErrAlreadySettled
	}
	return d.complete(ctx)
}

// Fail reports failure. The backend retries or retains the item according
// to its options.
func (d *Delivery) Fail(ctx context.Context, cause error) error {
	if !d.markSettled() {
		return ErrAlreadySettled
	}
	if cause == nil {
		cause = errors.New("queue: failed without error")
	}
	return d.fail(ctx, cause)
}

func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delivery) markSettled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

// newItem builds the first attempt of a payload.
func newItem(queue string, payload any, opts Options, eo []EnqueueOption) (Item, error) {
	cfg := enqueueOptions{attempts: opts.Attempts}
	for _, o := range eo {
		o(&cfg)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("queue: encode payload: %w", err)
	}

	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.attempts < 1 {
		cfg.attempts = 1
	}

	return Item{
		ID:          id,
		Queue:       queue,
		Payload:     body,
		Attempt:     1,
		MaxAttempts: cfg.attempts,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// settleContext detaches settle writes from a cancelled handler context.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
