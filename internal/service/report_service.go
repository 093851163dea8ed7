package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// ReportPayload is the body of a reports-queue item.
type ReportPayload struct {
	ReportID string         `json:"reportId"`
	Type     string         `json:"type"`
	Filters  map[string]any `json:"filters,omitempty"`
}

type ReportService struct {
	Repo   repository.ReportRepositoryInterface
	Queue  queue.Queue
	Logger *slog.Logger
	Now    func() time.Time
}

// Period returns the window a report type covers, ending at now.
func Period(reportType string, now time.Time) (time.Time, time.Time, error) {
	switch reportType {
	case model.ReportDaily:
		return now.Add(-24 * time.Hour), now, nil
	case model.ReportMonthly:
		return now.Add(-30 * 24 * time.Hour), now, nil
	default:
		return time.Time{}, time.Time{}, &appErrors.ErrInvalidPayload{Reason: fmt.Sprintf("unknown report type %q", reportType)}
	}
}

// RequestReport queues a report and returns its id.
func (s *ReportService) RequestReport(ctx context.Context, reportType string, filters map[string]any) (string, error) {
	if _, _, err := Period(reportType, time.Time{}); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := s.Queue.Enqueue(ctx, ReportPayload{ReportID: id, Type: reportType, Filters: filters}, queue.WithJobID("report-"+id))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	metrics.EnqueuedTotal.WithLabelValues(s.Queue.Name()).Inc()
	return id, nil
}

// Generate aggregates campaign outcomes for the report period and stores them.
func (s *ReportService) Generate(ctx context.Context, p ReportPayload) error {
	log := logger.OrDefault(s.Logger).With(logger.Component("ReportService"))

	if p.ReportID == "" {
		return &appErrors.ErrInvalidPayload{Reason: "reportId is required"}
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	from, to, err := Period(p.Type, now)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "generating report", slog.String("report_id", p.ReportID), slog.String("type", p.Type))

	status, _ := p.Filters["status"].(string)
	summary, err := s.Repo.Summarize(ctx, from, to, strings.ToUpper(status))
	if err != nil {
		return err
	}

	var filters json.RawMessage
	if len(p.Filters) > 0 {
		if filters, err = json.Marshal(p.Filters); err != nil {
			return fmt.Errorf("encode filters: %w", err)
		}
	}

	report := &model.Report{
		ID:          p.ReportID,
		Type:        p.Type,
		Filters:     filters,
		PeriodStart: from,
		PeriodEnd:   to,
		Summary:     summary,
		CreatedAt:   now,
	}
	if err := s.Repo.Save(ctx, report); err != nil {
		return err
	}

	log.InfoContext(ctx, "report generated",
		slog.String("report_id", p.ReportID),
		slog.Int("campaigns", summary.Campaigns),
		slog.Int("recipients", summary.Recipients),
	)
	return nil
}

// GetReport returns a stored report.
func (s *ReportService) GetReport(ctx context.Context, id string) (*model.Report, error) {
	return s.Repo.GetByID(ctx, id)
}
