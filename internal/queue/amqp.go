package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const (
	headerAttempt     = "x-attempt"
	headerMaxAttempts = "x-max-attempts"
	headerLastError   = "x-last-error"
	headerEnqueuedAt  = "x-enqueued-at"
)

// AMQPQueue maps a queue onto three durable RabbitMQ queues: name for ready
// items, name.retry whose per-message TTL dead-letters back into name, and
// name.failed for items that exhausted their attempts.
type AMQPQueue struct {
	name   string
	opts   Options
	logger *slog.Logger
	pool   *pool

	conn *amqp.Connection

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu          sync.Mutex
	closed      bool
	consumeCh   *amqp.Channel
	consumerTag string
	deliveries  <-chan amqp.Delivery
}

var _ Queue = (*AMQPQueue)(nil)

// NewAMQPQueue dials url and declares the queue topology.
func NewAMQPQueue(url, name string, opts Options, logger *slog.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue/amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue/amqp: open channel: %w", err)
	}

	q := &AMQPQueue{
		name:   name,
		opts:   opts,
		logger: logger,
		pool:   newPool(name, opts.PollInterval, logger),
		conn:   conn,
		pubCh:  ch,
	}
	if err := q.declare(ch); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) retryQueue() string  { return q.name + ".retry" }
func (q *AMQPQueue) failedQueue() string { return q.name + ".failed" }

func (q *AMQPQueue) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue/amqp: declare %s: %w", q.name, err)
	}
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}
	if _, err := ch.QueueDeclare(q.retryQueue(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("queue/amqp: declare %s: %w", q.retryQueue(), err)
	}
	if _, err := ch.QueueDeclare(q.failedQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue/amqp: declare %s: %w", q.failedQueue(), err)
	}
	return nil
}

func (q *AMQPQueue) Name() string { return q.name }

func (q *AMQPQueue) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	item, err := newItem(q.name, payload, q.opts, opts)
	if err != nil {
		return "", err
	}
	if err := q.publish(q.name, item, ""); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (q *AMQPQueue) publish(routingKey string, item Item, expiration string) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if q.isClosed() && routingKey == q.name {
		return ErrQueueClosed
	}

	headers := amqp.Table{
		headerAttempt:     int32(item.Attempt),
		headerMaxAttempts: int32(item.MaxAttempts),
		headerEnqueuedAt:  item.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if item.LastError != "" {
		headers[headerLastError] = item.LastError
	}

	err := q.pubCh.Publish("", routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.ID,
		Timestamp:    time.Now().UTC(),
		Expiration:   expiration,
		Headers:      headers,
		Body:         item.Payload,
	})
	if err != nil {
		return fmt.Errorf("queue/amqp: publish to %s: %w", routingKey, err)
	}
	return nil
}

func (q *AMQPQueue) Consume(concurrency int, h Handler) error {
	if concurrency < 1 {
		return ErrInvalidConcurrency
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.consumeCh != nil {
		q.mu.Unlock()
		return ErrAlreadyConsuming
	}

	ch, err := q.conn.Channel()
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue/amqp: open consume channel: %w", err)
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		ch.Close()
		q.mu.Unlock()
		return fmt.Errorf("queue/amqp: qos: %w", err)
	}
	tag := q.name + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	deliveries, err := ch.Consume(q.name, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		q.mu.Unlock()
		return fmt.Errorf("queue/amqp: consume: %w", err)
	}
	q.consumeCh = ch
	q.consumerTag = tag
	q.deliveries = deliveries
	q.mu.Unlock()

	return q.pool.start(concurrency, q.fetch, h)
}

func (q *AMQPQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	ch, tag := q.consumeCh, q.consumerTag
	q.mu.Unlock()

	var errs []error
	if ch != nil {
		// Unacked prefetched messages return to the queue once the channel closes.
		if err := ch.Cancel(tag, false); err != nil {
			errs = append(errs, fmt.Errorf("queue/amqp: cancel consumer: %w", err))
		}
	}
	if err := q.pool.stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if ch != nil {
		ch.Close()
	}
	q.pubMu.Lock()
	q.pubCh.Close()
	q.pubMu.Unlock()
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("queue/amqp: close connection: %w", err))
	}
	return errors.Join(errs...)
}

func (q *AMQPQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *AMQPQueue) fetch(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			if q.isClosed() {
				return nil, errConsumerStopped
			}
			return nil, errors.New("queue/amqp: delivery channel closed")
		}
		item := itemFromDelivery(q.name, d)
		return NewDelivery(item, q.completeFunc(d), q.failFunc(d, item)), nil
	}
}

func itemFromDelivery(name string, d amqp.Delivery) Item {
	item := Item{
		ID:          d.MessageId,
		Queue:       name,
		Payload:     d.Body,
		Attempt:     headerInt(d.Headers[headerAttempt], 1),
		MaxAttempts: headerInt(d.Headers[headerMaxAttempts], 1),
		EnqueuedAt:  d.Timestamp,
	}
	if s, ok := d.Headers[headerEnqueuedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			item.EnqueuedAt = t
		}
	}
	if s, ok := d.Headers[headerLastError].(string); ok {
		item.LastError = s
	}
	if item.ID == "" {
		item.ID = strconv.FormatUint(d.DeliveryTag, 10)
	}
	return item
}

func headerInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		return def
	}
}

func (q *AMQPQueue) completeFunc(d amqp.Delivery) func(context.Context) error {
	return func(context.Context) error {
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("queue/amqp: ack %s: %w", d.MessageId, err)
		}
		return nil
	}
}

func (q *AMQPQueue) failFunc(d amqp.Delivery, item Item) func(context.Context, error) error {
	return func(_ context.Context, cause error) error {
		item.LastError = cause.Error()

		var err error
		switch {
		case item.Attempt < item.MaxAttempts:
			wait := q.opts.Backoff.Duration(item.Attempt)
			item.Attempt++
			err = q.publish(q.retryQueue(), item, strconv.FormatInt(wait.Milliseconds(), 10))
		case q.opts.RemoveOnFail:
		default:
			q.logger.Warn("item failed permanently",
				slog.String("queue", q.name),
				slog.String("item_id", item.ID),
				slog.Int("attempts", item.Attempt),
				slog.String("error", item.LastError),
			)
			err = q.publish(q.failedQueue(), item, "")
		}
		if err != nil {
			// Leave it to the broker: requeue the original delivery as is.
			if nackErr := d.Nack(false, true); nackErr != nil {
				return errors.Join(err, nackErr)
			}
			return err
		}
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("queue/amqp: ack %s: %w", d.MessageId, err)
		}
		return nil
	}
}
