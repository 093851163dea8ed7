package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

type EmailSender interface {
	Send(ctx context.Context, p EmailPayload) error
}

type ReportGenerator interface {
	Generate(ctx context.Context, p ReportPayload) error
}

type WorkerConfig struct {
	EmailQueue         string
	EmailConcurrency   int
	ReportsQueue       string
	ReportsConcurrency int
}

// Worker binds each queue to its processor.
type Worker struct {
	Registry *queue.Registry
	Emails   EmailSender
	Reports  ReportGenerator
	Config   WorkerConfig
	Logger   *slog.Logger
}

func NewWorker(registry *queue.Registry, emails EmailSender, reports ReportGenerator, cfg WorkerConfig, log *slog.Logger) *Worker {
	return &Worker{
		Registry: registry,
		Emails:   emails,
		Reports:  reports,
		Config:   cfg,
		Logger:   logger.OrDefault(log),
	}
}

// Start registers the queues and begins consuming. It returns once every
// consumer is running.
func (w *Worker) Start() error {
	log := w.Logger.With(logger.Component("JobsLoader"))

	emailQ, err := w.Registry.GetQueue(w.Config.EmailQueue)
	if err != nil {
		return err
	}
	if err := emailQ.Consume(w.Config.EmailConcurrency, Process(w.Config.EmailQueue, w.Logger, w.Emails.Send)); err != nil {
		return fmt.Errorf("consume %s: %w", w.Config.EmailQueue, err)
	}
	log.Info("📧 email processor registered",
		slog.String("queue", w.Config.EmailQueue),
		slog.Int("concurrency", w.Config.EmailConcurrency),
	)

	if w.Reports == nil {
		return nil
	}
	reportsQ, err := w.Registry.GetQueue(w.Config.ReportsQueue)
	if err != nil {
		return err
	}
	if err := reportsQ.Consume(w.Config.ReportsConcurrency, Process(w.Config.ReportsQueue, w.Logger, w.Reports.Generate)); err != nil {
		return fmt.Errorf("consume %s: %w", w.Config.ReportsQueue, err)
	}
	log.Info("📊 report processor registered",
		slog.String("queue", w.Config.ReportsQueue),
		slog.Int("concurrency", w.Config.ReportsConcurrency),
	)
	return nil
}

// Stop drains and closes every queue.
func (w *Worker) Stop(ctx context.Context) error {
	w.Logger.Info("🛑 stopping worker")
	return w.Registry.CloseAll(ctx)
}
