package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ErrStaleTransition is returned when a guarded status update matched no row.
var ErrStaleTransition = errors.New("status transition rejected")

type CampaignRepositoryInterface interface {
	// Intake
	Create(ctx context.Context, c *model.Campaign) error

	// Dispatch
	GetWithRecipients(ctx context.Context, id string) (*model.Campaign, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	Finish(ctx context.Context, id string, out model.Outcome) error

	// Read side
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	Latest(ctx context.Context) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	GetCampaignStats(ctx context.Context, id string) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, subject, body, total_emails, status, sent_emails, failed_emails, created_at, started_at, completed_at`

// ====================== Intake ======================

// Create inserts the campaign and all its recipients in one transaction.
// IDs, positions and TotalEmails are assigned here.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = model.CampaignPending
	c.TotalEmails = len(c.Recipients)
	c.CreatedAt = time.Now().UTC()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO campaigns (id, subject, body, total_emails, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, c.ID, c.Subject, c.Body, c.TotalEmails, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", mapPQError(err))
	}

	if len(c.Recipients) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("recipients",
			"id", "campaign_id", "position", "email", "name", "status", "created_at"))
		if err != nil {
			return fmt.Errorf("prepare recipient copy: %w", err)
		}
		for i := range c.Recipients {
			rc := &c.Recipients[i]
			if rc.ID == "" {
				rc.ID = uuid.NewString()
			}
			rc.CampaignID = c.ID
			rc.Position = i
			rc.Status = model.RecipientPending
			rc.CreatedAt = c.CreatedAt
			if _, err := stmt.ExecContext(ctx, rc.ID, rc.CampaignID, rc.Position, rc.Email, rc.Name, rc.Status, rc.CreatedAt); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("copy recipient %d: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("flush recipient copy: %w", mapPQError(err))
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close recipient copy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create campaign: %w", err)
	}
	return nil
}

// ====================== Dispatch ======================

// GetWithRecipients loads the campaign and its recipients in submission order.
func (r *CampaignRepository) GetWithRecipients(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	recipients, err := r.recipients(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Recipients = recipients
	return c, nil
}

// MarkProcessing moves PENDING (or an interrupted PROCESSING) campaign to
// PROCESSING. started_at keeps the first attempt's value.
func (r *CampaignRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status = 'PROCESSING', started_at = COALESCE(started_at, $2)
        WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
    `, id, at)
	if err != nil {
		return fmt.Errorf("mark campaign %s processing: %w", id, err)
	}
	return expectOne(res, id)
}

// Finish writes the terminal status, completion time and counts in one statement.
func (r *CampaignRepository) Finish(ctx context.Context, id string, out model.Outcome) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status = $2, completed_at = $3, sent_emails = $4, failed_emails = $5
        WHERE id = $1 AND status = 'PROCESSING'
    `, id, out.Status, out.CompletedAt, out.SentEmails, out.FailedEmails)
	if err != nil {
		return fmt.Errorf("finish campaign %s: %w", id, err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s", ErrStaleTransition, id)
	}
	return nil
}

// ====================== Read side ======================

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

// Latest returns the most recently created campaign with its recipients.
func (r *CampaignRepository) Latest(ctx context.Context) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC LIMIT 1`)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest campaign: %w", err)
	}
	recipients, err := r.recipients(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Recipients = recipients
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	return campaigns, total, nil
}

// GetCampaignStats counts recipients per status.
func (r *CampaignRepository) GetCampaignStats(ctx context.Context, id string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM recipients WHERE campaign_id = $1 GROUP BY status`, id)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{model.RecipientPending: 0, model.RecipientSent: 0, model.RecipientFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *CampaignRepository) recipients(ctx context.Context, campaignID string) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, campaign_id, position, email, name, status, error, sent_at, created_at
        FROM recipients
        WHERE campaign_id = $1
        ORDER BY position
    `, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.CampaignID, &rc.Position, &rc.Email, &rc.Name, &rc.Status, &rc.Error, &rc.SentAt, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s scanner) (*model.Campaign, error) {
	var c model.Campaign
	err := s.Scan(&c.ID, &c.Subject, &c.Body, &c.TotalEmails, &c.Status, &c.SentEmails, &c.FailedEmails, &c.CreatedAt, &c.StartedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ErrDuplicate is returned for unique constraint violations.
var ErrDuplicate = errors.New("duplicate record")

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Detail)
	}
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
