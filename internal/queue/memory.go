package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InMemoryQueue keeps items in process memory with the same retry and
// retention semantics as the broker backends. Nothing survives a restart.
type InMemoryQueue struct {
	name   string
	opts   Options
	logger *slog.Logger
	pool   *pool

	mu        sync.Mutex
	closed    bool
	pending   []Item
	known     map[string]struct{}
	timers    map[*time.Timer]struct{}
	completed []Item
	failed    []Item
	notify    chan struct{}
}

var _ Queue = (*InMemoryQueue)(nil)

func NewInMemoryQueue(name string, opts Options, logger *slog.Logger) *InMemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryQueue{
		name:   name,
		opts:   opts,
		logger: logger,
		pool:   newPool(name, opts.PollInterval, logger),
		known:  make(map[string]struct{}),
		timers: make(map[*time.Timer]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Name() string { return q.name }

func (q *InMemoryQueue) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	item, err := newItem(q.name, payload, q.opts, opts)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	if _, dup := q.known[item.ID]; dup {
		return item.ID, nil
	}
	q.known[item.ID] = struct{}{}
	q.pushLocked(item)
	return item.ID, nil
}

func (q *InMemoryQueue) Consume(concurrency int, h Handler) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	return q.pool.start(concurrency, q.fetch, h)
}

func (q *InMemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	q.mu.Unlock()

	return q.pool.stop(ctx)
}

// Len returns the number of items waiting for a worker.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Failed returns the items retained after exhausting their attempts.
func (q *InMemoryQueue) Failed() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.failed...)
}

// Completed returns completed items when RemoveOnComplete is off.
func (q *InMemoryQueue) Completed() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.completed...)
}

func (q *InMemoryQueue) pushLocked(item Item) {
	q.pending = append(q.pending, item)
	q.signal()
}

func (q *InMemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) fetch(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return q.delivery(item), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) delivery(item Item) *Delivery {
	return NewDelivery(item,
		func(context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.opts.RemoveOnComplete {
				delete(q.known, item.ID)
				return nil
			}
			q.completed = append(q.completed, item)
			return nil
		},
		func(_ context.Context, cause error) error {
			item.LastError = cause.Error()

			q.mu.Lock()
			defer q.mu.Unlock()

			if item.Attempt < item.MaxAttempts && !q.closed {
				wait := q.opts.Backoff.Duration(item.Attempt)
				next := item
				next.Attempt++
				q.logger.Debug("retry scheduled",
					slog.String("queue", q.name),
					slog.String("item_id", item.ID),
					slog.Int("attempt", next.Attempt),
					slog.Duration("backoff", wait),
				)
				var t *time.Timer
				t = time.AfterFunc(wait, func() {
					q.mu.Lock()
					defer q.mu.Unlock()
					if q.closed {
						return
					}
					delete(q.timers, t)
					q.pushLocked(next)
				})
				q.timers[t] = struct{}{}
				return nil
			}

			q.logger.Warn("item failed permanently",
				slog.String("queue", q.name),
				slog.String("item_id", item.ID),
				slog.Int("attempts", item.Attempt),
				slog.String("error", item.LastError),
			)
			if q.opts.RemoveOnFail {
				delete(q.known, item.ID)
				return nil
			}
			q.failed = append(q.failed, item)
			return nil
		},
	)
}
