package queue

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKeysShareHashTag(t *testing.T) {
	k := newRedisKeys("email-queue")

	assert.Equal(t, "dispatch:{email-queue}:wait", k.wait)
	assert.Equal(t, "dispatch:{email-queue}:active", k.active)
	assert.Equal(t, "dispatch:{email-queue}:delayed", k.delayed)
	assert.Equal(t, "dispatch:{email-queue}:failed", k.failed)
	assert.Equal(t, "dispatch:{email-queue}:item:abc", k.item("abc"))
}

func TestItemFromDelivery(t *testing.T) {
	enq := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := amqp.Delivery{
		MessageId: "job-1",
		Body:      []byte(`{"campaignId":"c"}`),
		Headers: amqp.Table{
			headerAttempt:     int32(2),
			headerMaxAttempts: int64(3),
			headerLastError:   "timeout",
			headerEnqueuedAt:  enq.Format(time.RFC3339Nano),
		},
	}

	item := itemFromDelivery("email-queue", d)
	assert.Equal(t, "job-1", item.ID)
	assert.Equal(t, "email-queue", item.Queue)
	assert.Equal(t, 2, item.Attempt)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.Equal(t, "timeout", item.LastError)
	assert.True(t, enq.Equal(item.EnqueuedAt))
}

func TestItemFromDeliveryDefaults(t *testing.T) {
	item := itemFromDelivery("q", amqp.Delivery{DeliveryTag: 7})

	assert.Equal(t, "7", item.ID)
	assert.Equal(t, 1, item.Attempt)
	assert.Equal(t, 1, item.MaxAttempts)
}

func TestNewItemDefaults(t *testing.T) {
	item, err := newItem("q", map[string]int{"n": 1}, DefaultOptions(), nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, 1, item.Attempt)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.JSONEq(t, `{"n":1}`, string(item.Payload))

	_, err = newItem("q", make(chan int), DefaultOptions(), nil)
	assert.Error(t, err)
}

func closedAMQPQueue(closed bool, buf *bytes.Buffer) *AMQPQueue {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	log := slog.New(slog.NewTextHandler(buf, nil))
	return &AMQPQueue{
		name:       "email-queue",
		logger:     log,
		pool:       newPool("email-queue", time.Millisecond, log),
		closed:     closed,
		deliveries: deliveries,
	}
}

func TestAMQPFetchAfterCloseStopsQuietly(t *testing.T) {
	var buf bytes.Buffer
	q := closedAMQPQueue(true, &buf)

	_, err := q.fetch(context.Background())
	assert.ErrorIs(t, err, errConsumerStopped)

	require.NoError(t, q.pool.start(3, q.fetch, func(context.Context, *Delivery) {}))
	require.NoError(t, q.pool.stop(context.Background()))
	assert.NotContains(t, buf.String(), "fetch failed")
}

func TestAMQPFetchOnDroppedChannelIsAnError(t *testing.T) {
	var buf bytes.Buffer
	q := closedAMQPQueue(false, &buf)

	_, err := q.fetch(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errConsumerStopped)
}
