// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/campaign-dispatch/internal/bootstrap"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logOpts := logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Path: cfg.LogPath, Name: "server"}
	appLog, closer := logger.New(logOpts)
	defer closer.Close()
	slog.SetDefault(appLog)

	if err := run(cfg, appLog); err != nil {
		appLog.Error("❌ server stopped with error", logger.Error(err))
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLog *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	emailQ, err := registry.GetQueue(cfg.Queue.EmailQueue)
	if err != nil {
		return err
	}
	reportsQ, err := registry.GetQueue(cfg.Queue.ReportsQueue)
	if err != nil {
		return err
	}

	campaignService := &service.CampaignService{
		CampaignRepo: &repository.CampaignRepository{DB: conn},
		Queue:        emailQ,
		Cache:        bootstrap.NewCache(rdb),
		CacheTTL:     cfg.CacheTTL,
		Logger:       appLog,
	}
	reportService := &service.ReportService{
		Repo:   &repository.ReportRepository{DB: conn},
		Queue:  reportsQ,
		Logger: appLog,
	}

	r := newRouter(
		controller.NewEmailController(campaignService, reportService, appLog),
		handler.NewCampaignHandler(campaignService, appLog),
		bootstrap.HealthHandler(bootstrap.Checks(conn, rdb)),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("🚀 Server running", slog.String("addr", cfg.HTTPAddr), slog.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	appLog.Info("🛑 shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	return errors.Join(err, registry.CloseAll(shutdownCtx))
}

func newRouter(emails *controller.EmailController, campaigns *handler.CampaignHandler, health http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTP)

	r.Get("/healthz", health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/emails", emails.CreateEmailJob)
		r.Get("/emails", campaigns.ListCampaignsHandler)
		r.Get("/emails/latest", campaigns.LatestCampaignHandler)
		r.Get("/emails/{id}", campaigns.GetCampaignHandlerWithStats)

		r.Post("/reports", emails.CreateReport)
		r.Get("/reports/{id}", emails.GetReport)
		r.Get("/reports/{id}/export", emails.ExportReport)
	})
	return r
}
