package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// Process adapts a typed handler to a queue.Handler. Each item gets its id
// as trace id on the context, a start and an end log with the elapsed time,
// and exactly one Complete or Fail. Panics count as failures.
func Process[T any](queueName string, log *slog.Logger, handle func(ctx context.Context, payload T) error) queue.Handler {
	log = logger.OrDefault(log).With(logger.Component("Processor"))

	return func(ctx context.Context, d *queue.Delivery) {
		ctx = logger.WithTraceID(ctx, d.ID)
		start := time.Now()

		inflight := metrics.JobsInFlight.WithLabelValues(queueName)
		inflight.Inc()
		defer inflight.Dec()

		log.InfoContext(ctx, "starting job",
			slog.String("id", d.ID),
			slog.String("queue", queueName),
			slog.Int("attempt", d.Attempt),
			slog.String("data", string(d.Payload)),
		)

		err := invoke(ctx, d, handle)
		elapsed := time.Since(start)
		metrics.JobDuration.WithLabelValues(queueName).Observe(elapsed.Seconds())

		if err != nil {
			metrics.JobsTotal.WithLabelValues(queueName, metrics.OutcomeFailed).Inc()
			log.ErrorContext(ctx, fmt.Sprintf("Job %s failed after %dms", d.ID, elapsed.Milliseconds()),
				slog.String("queue", queueName),
				slog.Int("attempt", d.Attempt),
				slog.Duration("elapsed", elapsed),
				logger.Error(err),
			)
			if ferr := d.Fail(ctx, err); ferr != nil {
				log.ErrorContext(ctx, "failed to report job failure", logger.Error(ferr))
			}
			return
		}

		metrics.JobsTotal.WithLabelValues(queueName, metrics.OutcomeCompleted).Inc()
		log.InfoContext(ctx, fmt.Sprintf("Job %s completed in %dms", d.ID, elapsed.Milliseconds()),
			slog.String("queue", queueName),
			slog.Duration("elapsed", elapsed),
		)
		if cerr := d.Complete(ctx); cerr != nil {
			log.ErrorContext(ctx, "failed to report job completion", logger.Error(cerr))
		}
	}
}

func invoke[T any](ctx context.Context, d *queue.Delivery, handle func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var payload T
	if err := d.Decode(&payload); err != nil {
		return err
	}
	return handle(ctx, payload)
}
