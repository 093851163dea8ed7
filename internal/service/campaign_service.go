// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/cache"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// ErrEnqueue means the campaign was stored but could not be queued.
var ErrEnqueue = errors.New("campaign stored but not queued")

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Queue        queue.Queue
	Cache        cache.Cache // optional, holds details of finished campaigns
	CacheTTL     time.Duration
	Logger       *slog.Logger
}

type RecipientInput struct {
	Email string  `json:"email" validate:"required,email"`
	Name  *string `json:"name,omitempty" validate:"omitempty,max=200"`
}

type CampaignDetails struct {
	ID           string            `json:"id"`
	Subject      string            `json:"subject"`
	Status       string            `json:"status"`
	TotalEmails  int               `json:"totalEmails"`
	SentEmails   int               `json:"sentEmails"`
	FailedEmails int               `json:"failedEmails"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Stats        map[string]int    `json:"stats"`
	Recipients   []model.Recipient `json:"recipients"`
}

// CreateCampaign stores the campaign with its recipients and queues it.
// The returned job id is "job-" + campaign id.
func (s *CampaignService) CreateCampaign(ctx context.Context, subject, body string, recipients []RecipientInput) (*model.Campaign, string, error) {
	c := &model.Campaign{
		Subject:    subject,
		Body:       body,
		Recipients: make([]model.Recipient, 0, len(recipients)),
	}
	for _, r := range recipients {
		rc := model.Recipient{Email: strings.TrimSpace(r.Email)}
		if r.Name != nil && strings.TrimSpace(*r.Name) != "" {
			name := strings.TrimSpace(*r.Name)
			rc.Name = &name
		}
		c.Recipients = append(c.Recipients, rc)
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, "", err
	}

	jobID, err := s.Queue.Enqueue(ctx, EmailPayload{CampaignID: c.ID}, queue.WithJobID("job-"+c.ID))
	if err != nil {
		s.log().ErrorContext(ctx, "failed to enqueue campaign", slog.String("campaign_id", c.ID), logger.Error(err))
		return c, "", fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	metrics.EnqueuedTotal.WithLabelValues(s.Queue.Name()).Inc()

	s.log().InfoContext(ctx, "campaign queued",
		slog.String("campaign_id", c.ID),
		slog.String("job_id", jobID),
		slog.Int("recipients", c.TotalEmails),
	)
	return c, jobID, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, strings.ToUpper(status))
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign, per-status recipient
// counts and recipient outcomes. Finished campaigns never change and are
// served from the cache when one is configured.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	key := "campaign:" + id
	if s.Cache != nil {
		var cached CampaignDetails
		found, err := s.Cache.Get(ctx, key, &cached)
		if err != nil {
			s.log().WarnContext(ctx, "cache read failed", logger.Error(err))
		}
		if found {
			return &cached, nil
		}
	}

	campaign, err := s.CampaignRepo.GetWithRecipients(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, err
	}
	stats["total"] = campaign.TotalEmails

	details := &CampaignDetails{
		ID:           campaign.ID,
		Subject:      campaign.Subject,
		Status:       campaign.Status,
		TotalEmails:  campaign.TotalEmails,
		SentEmails:   campaign.SentEmails,
		FailedEmails: campaign.FailedEmails,
		CreatedAt:    campaign.CreatedAt,
		StartedAt:    campaign.StartedAt,
		CompletedAt:  campaign.CompletedAt,
		Stats:        stats,
		Recipients:   campaign.Recipients,
	}

	if s.Cache != nil && campaign.IsTerminal() {
		if err := s.Cache.Set(ctx, key, details, s.cacheTTL()); err != nil {
			s.log().WarnContext(ctx, "cache write failed", logger.Error(err))
		}
	}
	return details, nil
}

// LatestCampaign returns the newest campaign with recipient outcomes, or nil.
func (s *CampaignService) LatestCampaign(ctx context.Context) (*model.Campaign, error) {
	return s.CampaignRepo.Latest(ctx)
}

func (s *CampaignService) cacheTTL() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return time.Minute
}

func (s *CampaignService) log() *slog.Logger {
	return logger.OrDefault(s.Logger).With(logger.Component("CampaignService"))
}
