package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// fetchFunc blocks until an item is available. It returns (nil, nil) when
// nothing arrived within the backend's poll window.
type fetchFunc func(ctx context.Context) (*Delivery, error)

// errConsumerStopped ends a fetch loop without logging. Backends return it
// once their own Close has torn down the delivery source.
var errConsumerStopped = errors.New("queue: consumer stopped")

// pool runs the consumer goroutines shared by every backend.
type pool struct {
	name         string
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	fetchCtx     context.Context
	fetchCancel  context.CancelFunc
	handleCtx    context.Context
	handleCancel context.CancelFunc
	wg           sync.WaitGroup
}

func newPool(name string, pollInterval time.Duration, logger *slog.Logger) *pool {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	p := &pool{name: name, logger: logger, pollInterval: pollInterval}
	p.fetchCtx, p.fetchCancel = context.WithCancel(context.Background())
	p.handleCtx, p.handleCancel = context.WithCancel(context.Background())
	return p
}

func (p *pool) start(concurrency int, fetch fetchFunc, h Handler) error {
	if concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if h == nil {
		return errors.New("queue: nil handler")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrQueueClosed
	}
	if p.started {
		return ErrAlreadyConsuming
	}
	p.started = true

	p.logger.Info("consumer starting", slog.String("queue", p.name), slog.Int("concurrency", concurrency))
	for range concurrency {
		p.wg.Add(1)
		go p.loop(fetch, h)
	}
	return nil
}

func (p *pool) loop(fetch fetchFunc, h Handler) {
	defer p.wg.Done()

	for {
		if p.fetchCtx.Err() != nil {
			return
		}

		d, err := fetch(p.fetchCtx)
		if err != nil {
			if p.fetchCtx.Err() != nil || errors.Is(err, errConsumerStopped) {
				return
			}
			p.logger.Error("fetch failed", slog.String("queue", p.name), slog.Any("error", err))
			select {
			case <-p.fetchCtx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if d == nil {
			continue
		}
		p.run(d, h)
	}
}

// run invokes h and guarantees d is settled exactly once afterwards.
func (p *pool) run(d *Delivery, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked", slog.String("queue", p.name), slog.String("item_id", d.ID), slog.Any("panic", r))
			if !d.Settled() {
				p.settleErr(d, d.Fail(p.handleCtx, fmt.Errorf("queue: handler panic: %v", r)))
			}
			return
		}
		if !d.Settled() {
			p.logger.Warn("handler returned without a terminal signal", slog.String("queue", p.name), slog.String("item_id", d.ID))
			p.settleErr(d, d.Fail(p.handleCtx, ErrNoTerminalSignal))
		}
	}()

	h(p.handleCtx, d)
}

func (p *pool) settleErr(d *Delivery, err error) {
	if err != nil && !errors.Is(err, ErrAlreadySettled) {
		p.logger.Error("settle failed", slog.String("queue", p.name), slog.String("item_id", d.ID), slog.Any("error", err))
	}
}

// stop halts fetching and waits for in-flight handlers. When ctx expires
// first the handler context is cancelled and stop waits for them to return.
func (p *pool) stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.fetchCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("shutdown timed out, cancelling in-flight items", slog.String("queue", p.name))
		p.handleCancel()
		<-done
		err = fmt.Errorf("queue %s: %w", p.name, ctx.Err())
	}
	p.handleCancel()
	return err
}
