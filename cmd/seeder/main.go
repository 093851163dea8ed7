//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/unclebandit/campaign-dispatch/internal/bootstrap"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	enqueue := flag.Bool("enqueue", false, "publish the seeded campaign to the email queue")
	reset := flag.Bool("reset", false, "delete existing campaigns and reports first")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLog := slog.New(logger.NewHandler(log.Writer(), logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}))

	if err := run(context.Background(), cfg, appLog, *reset, *enqueue); err != nil {
		log.Fatalf("seeding failed: %v", err)
	}
	fmt.Println("Database seeding completed successfully!")
}

func run(ctx context.Context, cfg *config.Config, appLog *slog.Logger, reset, enqueue bool) error {
	conn, err := bootstrap.OpenDatabase(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer conn.Close()

	if reset {
		if err := truncate(ctx, conn); err != nil {
			return err
		}
		appLog.Info("🧹 existing data removed")
	}

	repo := &repository.CampaignRepository{DB: conn}
	subject, body, recipients := sampleCampaign()

	if !enqueue {
		c := &model.Campaign{Subject: subject, Body: body}
		for _, r := range recipients {
			c.Recipients = append(c.Recipients, model.Recipient{Email: r.Email, Name: r.Name})
		}
		if err := repo.Create(ctx, c); err != nil {
			return err
		}
		appLog.Info("🌱 campaign seeded", slog.String("campaign_id", c.ID), slog.Int("recipients", c.TotalEmails))
		return nil
	}

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
	defer registry.CloseAll(context.Background())

	q, err := registry.GetQueue(cfg.Queue.EmailQueue)
	if err != nil {
		return err
	}
	svc := &service.CampaignService{CampaignRepo: repo, Queue: q, Logger: appLog}
	c, jobID, err := svc.CreateCampaign(ctx, subject, body, recipients)
	if err != nil {
		return err
	}
	appLog.Info("📨 campaign seeded and queued",
		slog.String("campaign_id", c.ID),
		slog.String("job_id", jobID),
		slog.String("queue", cfg.Queue.EmailQueue),
	)
	return nil
}

func sampleCampaign() (string, string, []service.RecipientInput) {
	giovanni, ana := "Giovanni", "Ana"
	return "Test Campaign from Seeder",
		"<h1>Hello {name}</h1><p>This is a test email sent to {email}.</p>",
		[]service.RecipientInput{
			{Email: "test1@example.com", Name: &giovanni},
			{Email: "test2@example.com", Name: &ana},
		}
}

func truncate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, `TRUNCATE campaign_reports, recipients, campaigns`); err != nil {
		return fmt.Errorf("reset tables: %w", err)
	}
	return nil
}
