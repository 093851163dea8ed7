package queue

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	DriverRedis  = "redis"
	DriverAMQP   = "amqp"
	DriverMemory = "memory"
)

// Backend carries the connection settings a driver needs.
type Backend struct {
	Driver  string
	Redis   *redis.Client
	AMQPURL string
	Logger  *slog.Logger
}

// NewFactory returns the Factory for b.Driver.
func NewFactory(b Backend) (Factory, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch b.Driver {
	case DriverRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("queue: redis driver needs a client")
		}
		return func(name string, opts Options) (Queue, error) {
			return NewRedisQueue(b.Redis, name, opts, logger), nil
		}, nil
	case DriverAMQP:
		if b.AMQPURL == "" {
			return nil, fmt.Errorf("queue: amqp driver needs a url")
		}
		return func(name string, opts Options) (Queue, error) {
			return NewAMQPQueue(b.AMQPURL, name, opts, logger)
		}, nil
	case DriverMemory:
		return func(name string, opts Options) (Queue, error) {
			return NewInMemoryQueue(name, opts, logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, b.Driver)
	}
}
