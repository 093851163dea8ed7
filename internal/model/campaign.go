// internal/model/campaign.go
package model

import "time"

const (
	CampaignPending    = "PENDING"
	CampaignProcessing = "PROCESSING"
	CampaignCompleted  = "COMPLETED"
	CampaignFailed     = "FAILED"
)

type Campaign struct {
	ID           string     `db:"id" json:"id"`
	Subject      string     `db:"subject" json:"subject"`
	Body         string     `db:"body" json:"body"`
	TotalEmails  int        `db:"total_emails" json:"totalEmails"`
	Status       string     `db:"status" json:"status"`
	SentEmails   int        `db:"sent_emails" json:"sentEmails"`
	FailedEmails int        `db:"failed_emails" json:"failedEmails"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`

	Recipients []Recipient `db:"-" json:"recipients,omitempty"`
}

// IsTerminal reports whether processing already reached COMPLETED or FAILED.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// Outcome is the final tally written when a campaign finishes.
type Outcome struct {
	Status       string
	SentEmails   int
	FailedEmails int
	CompletedAt  time.Time
}
