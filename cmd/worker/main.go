package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/campaign-dispatch/internal/bootstrap"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, closer := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Path:   cfg.LogPath,
		Name:   cfg.LogName,
	})
	defer closer.Close()
	slog.SetDefault(appLog)

	if err := run(cfg, appLog); err != nil {
		appLog.Error("❌ worker stopped with error", logger.Error(err))
		closer.Close()
		os.Exit(1)
	}
	appLog.Info("👋 worker stopped")
}

func run(cfg *config.Config, appLog *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("👷 Worker starting", slog.String("env", cfg.AppEnv), slog.String("queue_driver", cfg.Queue.Driver))

	conn, err := bootstrap.OpenDatabase(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer conn.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Queue, appLog)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	registry, err := bootstrap.NewRegistry(cfg.Queue, rdb, appLog)
	if err != nil {
		return err
	}

	sender, err := mailer.New(cfg.Mail, appLog)
	if err != nil {
		return err
	}

	w, err := newWorker(cfg, conn, registry, sender, appLog)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = registry.CloseAll(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMetricsRouter(bootstrap.HealthHandler(bootstrap.Checks(conn, rdb))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("📈 metrics server running", slog.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("🛑 shutdown signal received, draining jobs", slog.Duration("timeout", cfg.Queue.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
		defer cancel()
		return errors.Join(w.Stop(shutdownCtx), srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// newWorker wires the dispatch and report services onto the registry.
func newWorker(cfg *config.Config, conn *sql.DB, registry *queue.Registry, sender mailer.Sender, appLog *slog.Logger) (*service.Worker, error) {
	templates, err := service.NewTemplateService(cfg.Dispatch.TemplatePath)
	if err != nil {
		return nil, err
	}

	dispatch := &service.DispatchService{
		CampaignRepo:  &repository.CampaignRepository{DB: conn},
		RecipientRepo: &repository.RecipientRepository{DB: conn},
		Mailer:        sender,
		Templates:     templates,
		Delay:         cfg.Dispatch.RateDelay,
		DefaultName:   cfg.Dispatch.DefaultRecipientName,
		Logger:        appLog,
	}
	reports := &service.ReportService{
		Repo:   &repository.ReportRepository{DB: conn},
		Logger: appLog,
	}

	return service.NewWorker(registry, dispatch, reports, service.WorkerConfig{
		EmailQueue:         cfg.Queue.EmailQueue,
		EmailConcurrency:   cfg.Queue.EmailConcurrency,
		ReportsQueue:       cfg.Queue.ReportsQueue,
		ReportsConcurrency: cfg.Queue.ReportsConcurrency,
	}, appLog), nil
}

func newMetricsRouter(health http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", health)
	r.Handle("/metrics", metrics.Handler())
	return r
}
