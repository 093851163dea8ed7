// internal/model/recipient.go
package model

import "time"

const (
	RecipientPending = "PENDING"
	RecipientSent    = "SENT"
	RecipientFailed  = "FAILED"
)

type Recipient struct {
	ID         string     `db:"id" json:"id"`
	CampaignID string     `db:"campaign_id" json:"campaignId"`
	Position   int        `db:"position" json:"-"`
	Email      string     `db:"email" json:"email"`
	Name       *string    `db:"name" json:"name,omitempty"`
	Status     string     `db:"status" json:"status"` // PENDING, SENT, FAILED
	Error      *string    `db:"error" json:"error,omitempty"`
	SentAt     *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// DisplayName returns the recipient name or fallback when none was given.
func (r *Recipient) DisplayName(fallback string) string {
	if r.Name == nil || *r.Name == "" {
		return fallback
	}
	return *r.Name
}
