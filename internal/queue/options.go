package queue

import "time"

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the retry delay policy.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
	Max   time.Duration // zero means uncapped
}

// Duration returns the wait before retrying after the given failed attempt (1-based).
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Delay
	if b.Type == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if b.Max > 0 && d >= b.Max {
				return b.Max
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Options configures a queue handle.
type Options struct {
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete bool
	RemoveOnFail     bool
	PollInterval     time.Duration
}

// DefaultOptions: 3 attempts, exponential backoff from 1s, completed items
// removed, failed items retained.
func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		Backoff:          Backoff{Type: BackoffExponential, Delay: time.Second},
		RemoveOnComplete: true,
		RemoveOnFail:     false,
		PollInterval:     time.Second,
	}
}

type Option func(*Options)

// Apply returns a copy of o with opts applied in order.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithAttempts(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Attempts = n
		}
	}
}

func WithBackoff(t BackoffType, delay time.Duration) Option {
	return func(o *Options) {
		o.Backoff.Type = t
		o.Backoff.Delay = delay
	}
}

func WithMaxBackoff(d time.Duration) Option {
	return func(o *Options) { o.Backoff.Max = d }
}

func WithRemoveOnComplete(v bool) Option {
	return func(o *Options) { o.RemoveOnComplete = v }
}

func WithRemoveOnFail(v bool) Option {
	return func(o *Options) { o.RemoveOnFail = v }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

type enqueueOptions struct {
	id       string
	attempts int
}

type EnqueueOption func(*enqueueOptions)

// WithJobID sets the item id. Enqueueing an id that is still queued is a no-op.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

// WithItemAttempts overrides the queue attempt count for one item.
func WithItemAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}
