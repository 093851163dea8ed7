package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type ReportRepositoryInterface interface {
	Summarize(ctx context.Context, from, to time.Time, status string) (model.ReportSummary, error)
	Save(ctx context.Context, r *model.Report) error
	GetByID(ctx context.Context, id string) (*model.Report, error)
}

type ReportRepository struct {
	DB *sql.DB
}

// Summarize aggregates campaigns created in [from, to) and their recipients.
func (r *ReportRepository) Summarize(ctx context.Context, from, to time.Time, status string) (model.ReportSummary, error) {
	summary := model.ReportSummary{CampaignsByStatus: map[string]int{}}

	query := `SELECT status, COUNT(*) FROM campaigns WHERE created_at >= $1 AND created_at < $2`
	args := []interface{}{from, to}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, status)
	}
	query += ` GROUP BY status`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return summary, fmt.Errorf("summarize campaigns: %w", err)
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return summary, err
		}
		summary.CampaignsByStatus[s] = n
		summary.Campaigns += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return summary, err
	}

	rquery := `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE r.status = 'SENT'),
            COUNT(*) FILTER (WHERE r.status = 'FAILED'),
            COUNT(*) FILTER (WHERE r.status = 'PENDING')
        FROM recipients r
        JOIN campaigns c ON c.id = r.campaign_id
        WHERE c.created_at >= $1 AND c.created_at < $2`
	if status != "" {
		rquery += ` AND c.status = $3`
	}
	err = r.DB.QueryRowContext(ctx, rquery, args...).Scan(&summary.Recipients, &summary.Sent, &summary.Failed, &summary.Pending)
	if err != nil {
		return summary, fmt.Errorf("summarize recipients: %w", err)
	}
	return summary, nil
}

// Save upserts the report by id so a redelivered job overwrites its own row.
func (r *ReportRepository) Save(ctx context.Context, rep *model.Report) error {
	summary, err := json.Marshal(rep.Summary)
	if err != nil {
		return fmt.Errorf("encode report summary: %w", err)
	}
	filters := rep.Filters
	if len(filters) == 0 {
		filters = json.RawMessage(`{}`)
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}

	_, err = r.DB.ExecContext(ctx, `
        INSERT INTO campaign_reports (id, type, filters, period_start, period_end, summary, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE
        SET type = EXCLUDED.type, filters = EXCLUDED.filters, period_start = EXCLUDED.period_start,
            period_end = EXCLUDED.period_end, summary = EXCLUDED.summary
    `, rep.ID, rep.Type, []byte(filters), rep.PeriodStart, rep.PeriodEnd, summary, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("save report %s: %w", rep.ID, err)
	}
	return nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (*model.Report, error) {
	var rep model.Report
	var filters, summary []byte
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, type, filters, period_start, period_end, summary, created_at
        FROM campaign_reports WHERE id = $1
    `, id).Scan(&rep.ID, &rep.Type, &filters, &rep.PeriodStart, &rep.PeriodEnd, &summary, &rep.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewReportNotFound(id)
		}
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	rep.Filters = filters
	if err := json.Unmarshal(summary, &rep.Summary); err != nil {
		return nil, fmt.Errorf("decode report summary: %w", err)
	}
	return &rep, nil
}

var _ ReportRepositoryInterface = (*ReportRepository)(nil)
