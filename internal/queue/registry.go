package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Factory builds a backend handle for name with fully merged options.
type Factory func(name string, opts Options) (Queue, error)

// Registry hands out one Queue per name and closes them together.
type Registry struct {
	factory  Factory
	defaults []Option
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]Queue
	group  singleflight.Group
}

// NewRegistry returns an empty registry. defaults are applied over
// DefaultOptions before the per-call options of GetQueue.
func NewRegistry(factory Factory, logger *slog.Logger, defaults ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:  factory,
		defaults: defaults,
		logger:   logger,
		queues:   make(map[string]Queue),
	}
}

// GetQueue returns the cached handle for name, creating it on first use.
// Concurrent first callers share a single construction.
func (r *Registry) GetQueue(name string, opts ...Option) (Queue, error) {
	if q, ok := r.lookup(name); ok {
		return q, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if q, ok := r.lookup(name); ok {
			return q, nil
		}
		o := DefaultOptions().Apply(r.defaults...).Apply(opts...)
		q, err := r.factory(name, o)
		if err != nil {
			return nil, fmt.Errorf("queue: create %s: %w", name, err)
		}

		r.mu.Lock()
		r.queues[name] = q
		r.mu.Unlock()

		r.logger.Info("queue registered",
			slog.String("queue", name),
			slog.Int("attempts", o.Attempts),
			slog.String("backoff", string(o.Backoff.Type)),
			slog.Duration("backoff_delay", o.Backoff.Delay),
		)
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Queue), nil
}

func (r *Registry) lookup(name string) (Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	return q, ok
}

// Names lists the registered queue names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered queue concurrently and empties the
// registry. A failing queue does not stop the others; all errors are joined.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]Queue)
	r.mu.Unlock()

	if len(queues) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, q := range queues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Close(ctx); err != nil {
				r.logger.Error("queue close failed", slog.String("queue", name), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
				mu.Unlock()
				return
			}
			r.logger.Info("queue closed", slog.String("queue", name))
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
