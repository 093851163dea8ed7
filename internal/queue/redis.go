package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys share the {name} hash tag so the scripts stay in one cluster slot.
//
//	dispatch:{name}:wait      LIST  ids ready to run (LPUSH, BLMOVE from the right)
//	dispatch:{name}:active    LIST  ids claimed by a worker
//	dispatch:{name}:delayed   ZSET  ids waiting for their backoff, scored by due unix ms
//	dispatch:{name}:completed LIST  ids kept when RemoveOnComplete is off
//	dispatch:{name}:failed    LIST  ids that exhausted their attempts
//	dispatch:{name}:item:<id> STRING item JSON
type redisKeys struct {
	prefix    string
	wait      string
	active    string
	delayed   string
	completed string
	failed    string
}

func newRedisKeys(name string) redisKeys {
	p := "dispatch:{" + name + "}"
	return redisKeys{
		prefix:    p,
		wait:      p + ":wait",
		active:    p + ":active",
		delayed:   p + ":delayed",
		completed: p + ":completed",
		failed:    p + ":failed",
	}
}

func (k redisKeys) item(id string) string { return k.prefix + ":item:" + id }

var (
	// KEYS[1]=item key, KEYS[2]=wait; ARGV[1]=item json, ARGV[2]=id
	enqueueScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

	// KEYS[1]=delayed, KEYS[2]=wait; ARGV[1]=now ms, ARGV[2]=limit
	promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)
)

// RedisQueue stores items in Redis lists. The client is shared and owned by
// the caller.
type RedisQueue struct {
	name   string
	opts   Options
	client *redis.Client
	keys   redisKeys
	logger *slog.Logger
	pool   *pool

	mu       sync.Mutex
	closed   bool
	stopProm context.CancelFunc
	promWG   sync.WaitGroup
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client, name string, opts Options, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		name:   name,
		opts:   opts,
		client: client,
		keys:   newRedisKeys(name),
		logger: logger,
		pool:   newPool(name, opts.PollInterval, logger),
	}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error) {
	if q.isClosed() {
		return "", ErrQueueClosed
	}
	item, err := newItem(q.name, payload, q.opts, opts)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("queue/redis: encode item: %w", err)
	}

	added, err := enqueueScript.Run(ctx, q.client, []string{q.keys.item(item.ID), q.keys.wait}, data, item.ID).Int()
	if err != nil {
		return "", fmt.Errorf("queue/redis: enqueue %s: %w", q.name, err)
	}
	if added == 0 {
		q.logger.Debug("duplicate item id ignored", slog.String("queue", q.name), slog.String("item_id", item.ID))
	}
	return item.ID, nil
}

func (q *RedisQueue) Consume(concurrency int, h Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	if err := q.pool.start(concurrency, q.fetch, h); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.stopProm = cancel
	q.mu.Unlock()

	q.promWG.Add(1)
	go q.promoteLoop(ctx)
	return nil
}

func (q *RedisQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	stop := q.stopProm
	q.mu.Unlock()

	if stop != nil {
		stop()
	}
	err := q.pool.stop(ctx)
	q.promWG.Wait()
	return err
}

func (q *RedisQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// promoteLoop moves due retries from the delayed set back to wait.
func (q *RedisQueue) promoteLoop(ctx context.Context) {
	defer q.promWG.Done()

	ticker := time.NewTicker(q.pool.pollInterval)
	defer ticker.Stop()

	for {
		if err := q.promote(ctx); err != nil && ctx.Err() == nil {
			q.logger.Error("promote delayed items failed", slog.String("queue", q.name), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := time.Now().UnixMilli()
	n, err := promoteScript.Run(ctx, q.client, []string{q.keys.delayed, q.keys.wait}, now, 100).Int()
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Debug("promoted delayed items", slog.String("queue", q.name), slog.Int("count", n))
	}
	return nil
}

func (q *RedisQueue) fetch(ctx context.Context) (*Delivery, error) {
	id, err := q.client.BLMove(ctx, q.keys.wait, q.keys.active, "RIGHT", "LEFT", q.pool.pollInterval).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue/redis: claim: %w", err)
	}

	data, err := q.client.Get(ctx, q.keys.item(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		q.logger.Warn("claimed id has no item body, dropping", slog.String("queue", q.name), slog.String("item_id", id))
		q.client.LRem(ctx, q.keys.active, 1, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue/redis: load item %s: %w", id, err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("queue/redis: decode item %s: %w", id, err)
	}
	return NewDelivery(item, q.completeFunc(item), q.failFunc(item)), nil
}

func (q *RedisQueue) completeFunc(item Item) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := settleContext(ctx)
		defer cancel()

		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.keys.active, 1, item.ID)
			if q.opts.RemoveOnComplete {
				pipe.Del(ctx, q.keys.item(item.ID))
			} else {
				pipe.LPush(ctx, q.keys.completed, item.ID)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("queue/redis: complete %s: %w", item.ID, err)
		}
		return nil
	}
}

func (q *RedisQueue) failFunc(item Item) func(context.Context, error) error {
	return func(ctx context.Context, cause error) error {
		ctx, cancel := settleContext(ctx)
		defer cancel()

		item.LastError = cause.Error()
		retry := item.Attempt < item.MaxAttempts
		wait := q.opts.Backoff.Duration(item.Attempt)
		if retry {
			item.Attempt++
		}

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("queue/redis: encode item: %w", err)
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.keys.active, 1, item.ID)
			switch {
			case retry:
				pipe.Set(ctx, q.keys.item(item.ID), data, 0)
				pipe.ZAdd(ctx, q.keys.delayed, redis.Z{
					Score:  float64(time.Now().Add(wait).UnixMilli()),
					Member: item.ID,
				})
			case q.opts.RemoveOnFail:
				pipe.Del(ctx, q.keys.item(item.ID))
			default:
				pipe.Set(ctx, q.keys.item(item.ID), data, 0)
				pipe.LPush(ctx, q.keys.failed, item.ID)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("queue/redis: fail %s: %w", item.ID, err)
		}

		if !retry {
			q.logger.Warn("item failed permanently",
				slog.String("queue", q.name),
				slog.String("item_id", item.ID),
				slog.Int("attempts", item.Attempt),
				slog.String("error", item.LastError),
			)
		}
		return nil
	}
}
