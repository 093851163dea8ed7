package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

const DefaultRecipientName = "Subscriber"

// EmailPayload is the body of an email-queue item.
type EmailPayload struct {
	CampaignID string `json:"campaignId"`
}

// DispatchService sends a campaign to its recipients one at a time.
// Recipients already SENT or FAILED are skipped, which makes redelivery of
// the same item safe.
type DispatchService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Mailer        mailer.Sender
	Templates     Renderer

	Delay       time.Duration
	DefaultName string
	Logger      *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (s *DispatchService) Send(ctx context.Context, p EmailPayload) error {
	log := logger.OrDefault(s.Logger).With(logger.Component("DispatchService"))

	if p.CampaignID == "" {
		return &appErrors.ErrInvalidPayload{Reason: "campaignId is required"}
	}
	log.DebugContext(ctx, "processing campaign", slog.String("campaign_id", p.CampaignID))

	campaign, err := s.CampaignRepo.GetWithRecipients(ctx, p.CampaignID)
	if err != nil {
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			log.ErrorContext(ctx, "attempt to process missing campaign", slog.String("campaign_id", p.CampaignID))
		}
		return err
	}

	if campaign.IsTerminal() {
		log.InfoContext(ctx, "campaign already finished, skipping",
			slog.String("campaign_id", campaign.ID),
			slog.String("status", campaign.Status),
		)
		return nil
	}

	if err := s.CampaignRepo.MarkProcessing(ctx, campaign.ID, s.now()); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			log.InfoContext(ctx, "campaign finished by another worker, skipping", slog.String("campaign_id", campaign.ID))
			return nil
		}
		return err
	}

	pending := make([]model.Recipient, 0, len(campaign.Recipients))
	for _, rc := range campaign.Recipients {
		if rc.Status == model.RecipientPending {
			pending = append(pending, rc)
		}
	}

	log.InfoContext(ctx, "sending campaign",
		slog.String("campaign_id", campaign.ID),
		slog.String("subject", campaign.Subject),
		slog.Int("total", len(campaign.Recipients)),
		slog.Int("pending", len(pending)),
	)

	for i, rc := range pending {
		if i > 0 && s.Delay > 0 {
			if err := s.sleep(ctx, s.Delay); err != nil {
				return err
			}
		}

		deliveryErr := s.deliver(ctx, campaign, rc)
		if deliveryErr != nil && ctx.Err() != nil {
			// Interrupted, not failed: leave the recipient PENDING for the retry.
			return ctx.Err()
		}

		if deliveryErr == nil {
			err := s.RecipientRepo.MarkSent(ctx, rc.ID, s.now())
			if errors.Is(err, repository.ErrStaleTransition) {
				log.WarnContext(ctx, "recipient already resolved", slog.String("recipient_id", rc.ID))
				continue
			}
			if err != nil {
				return err
			}
			metrics.RecipientsTotal.WithLabelValues(metrics.OutcomeSent).Inc()
			continue
		}

		log.WarnContext(ctx, "recipient delivery failed",
			slog.String("campaign_id", campaign.ID),
			slog.String("recipient", rc.Email),
			logger.Error(deliveryErr),
		)
		err := s.RecipientRepo.MarkFailed(ctx, rc.ID, deliveryErr.Error())
		if errors.Is(err, repository.ErrStaleTransition) {
			log.WarnContext(ctx, "recipient already resolved", slog.String("recipient_id", rc.ID))
			continue
		}
		if err != nil {
			return err
		}
		metrics.RecipientsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	}

	// Every recipient is resolved now, so the rows are the source of the counts.
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, campaign.ID)
	if err != nil {
		return err
	}
	out := Outcome(len(campaign.Recipients), stats[model.RecipientSent], stats[model.RecipientFailed])
	out.CompletedAt = s.now()
	if err := s.CampaignRepo.Finish(ctx, campaign.ID, out); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			log.InfoContext(ctx, "campaign finished by another worker", slog.String("campaign_id", campaign.ID))
			return nil
		}
		return err
	}

	log.InfoContext(ctx, "campaign finished",
		slog.String("campaign_id", campaign.ID),
		slog.String("status", out.Status),
		slog.Int("sent", out.SentEmails),
		slog.Int("failed", out.FailedEmails),
	)
	return nil
}

// Outcome decides the terminal status: FAILED only when there was at least
// one recipient and all of them failed.
func Outcome(total, sent, failed int) model.Outcome {
	status := model.CampaignCompleted
	if total > 0 && failed == total {
		status = model.CampaignFailed
	}
	return model.Outcome{Status: status, SentEmails: sent, FailedEmails: failed}
}

func (s *DispatchService) deliver(ctx context.Context, c *model.Campaign, rc model.Recipient) error {
	html, err := s.Templates.Render(ctx, TemplateData{
		Subject: c.Subject,
		Body:    c.Body,
		Name:    rc.DisplayName(s.defaultName()),
		Email:   rc.Email,
	})
	if err != nil {
		return err
	}
	return s.Mailer.Deliver(ctx, rc.Email, c.Subject, html)
}

func (s *DispatchService) defaultName() string {
	if s.DefaultName == "" {
		return DefaultRecipientName
	}
	return s.DefaultName
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *DispatchService) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
