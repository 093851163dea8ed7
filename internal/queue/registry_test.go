package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

type stubQueue struct {
	name     string
	opts     queue.Options
	closeErr error
	closes   atomic.Int32
}

func (s *stubQueue) Name() string { return s.name }
func (s *stubQueue) Enqueue(context.Context, any, ...queue.EnqueueOption) (string, error) {
	return "id", nil
}
func (s *stubQueue) Consume(int, queue.Handler) error { return nil }
func (s *stubQueue) Close(context.Context) error {
	s.closes.Add(1)
	return s.closeErr
}

type stubFactory struct {
	mu      sync.Mutex
	created map[string]*stubQueue
	calls   atomic.Int32
	failFor map[string]error
	delay   time.Duration
}

func newStubFactory() *stubFactory {
	return &stubFactory{created: map[string]*stubQueue{}, failFor: map[string]error{}}
}

func (f *stubFactory) New(name string, opts queue.Options) (queue.Queue, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	q := &stubQueue{name: name, opts: opts, closeErr: f.failFor[name]}
	f.created[name] = q
	return q, nil
}

func TestRegistryCachesByName(t *testing.T) {
	f := newStubFactory()
	r := queue.NewRegistry(f.New, logger.Discard())

	a, err := r.GetQueue("email-queue")
	require.NoError(t, err)
	b, err := r.GetQueue("email-queue")
	require.NoError(t, err)
	c, err := r.GetQueue("reports-queue")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, []string{"email-queue", "reports-queue"}, r.Names())
}

func TestRegistryConcurrentFirstAccessBuildsOnce(t *testing.T) {
	f := newStubFactory()
	f.delay = 20 * time.Millisecond
	r := queue.NewRegistry(f.New, logger.Discard())

	const callers = 16
	results := make([]queue.Queue, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := r.GetQueue("email-queue")
			assert.NoError(t, err)
			results[i] = q
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, q := range results {
		assert.Same(t, results[0], q)
	}
}

func TestRegistryMergesOptionsOverDefaults(t *testing.T) {
	f := newStubFactory()
	r := queue.NewRegistry(f.New, logger.Discard(), queue.WithBackoff(queue.BackoffExponential, 2*time.Second))

	_, err := r.GetQueue("email-queue", queue.WithAttempts(5))
	require.NoError(t, err)

	opts := f.created["email-queue"].opts
	assert.Equal(t, 5, opts.Attempts)
	assert.Equal(t, 2*time.Second, opts.Backoff.Delay)
	assert.True(t, opts.RemoveOnComplete)
	assert.False(t, opts.RemoveOnFail)
}

func TestRegistryFactoryErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	r := queue.NewRegistry(func(name string, opts queue.Options) (queue.Queue, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("broker unavailable")
		}
		return &stubQueue{name: name}, nil
	}, logger.Discard())

	_, err := r.GetQueue("email-queue")
	require.Error(t, err)

	q, err := r.GetQueue("email-queue")
	require.NoError(t, err)
	assert.Equal(t, "email-queue", q.Name())
}

func TestRegistryCloseAllIsolatesFailures(t *testing.T) {
	f := newStubFactory()
	f.failFor["reports-queue"] = errors.New("connection reset")
	r := queue.NewRegistry(f.New, logger.Discard())

	for _, n := range []string{"email-queue", "reports-queue", "audit-queue"} {
		_, err := r.GetQueue(n)
		require.NoError(t, err)
	}

	err := r.CloseAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports-queue")
	assert.Contains(t, err.Error(), "connection reset")

	for _, q := range f.created {
		assert.Equal(t, int32(1), q.closes.Load(), q.name)
	}
	assert.Empty(t, r.Names())

	// second call is a no-op
	require.NoError(t, r.CloseAll(context.Background()))
	for _, q := range f.created {
		assert.Equal(t, int32(1), q.closes.Load(), q.name)
	}
}

func TestRegistryCloseAllEmpty(t *testing.T) {
	r := queue.NewRegistry(newStubFactory().New, logger.Discard())
	assert.NoError(t, r.CloseAll(context.Background()))
}

func TestNewFactory(t *testing.T) {
	f, err := queue.NewFactory(queue.Backend{Driver: queue.DriverMemory, Logger: logger.Discard()})
	require.NoError(t, err)
	q, err := f("email-queue", queue.DefaultOptions())
	require.NoError(t, err)
	assert.IsType(t, &queue.InMemoryQueue{}, q)
	assert.NoError(t, q.Close(context.Background()))

	_, err = queue.NewFactory(queue.Backend{Driver: "sqs"})
	assert.ErrorIs(t, err, queue.ErrUnknownDriver)

	_, err = queue.NewFactory(queue.Backend{Driver: queue.DriverRedis})
	assert.Error(t, err)

	_, err = queue.NewFactory(queue.Backend{Driver: queue.DriverAMQP})
	assert.Error(t, err)
}
