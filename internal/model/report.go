// internal/model/report.go
package model

import (
	"encoding/json"
	"time"
)

const (
	ReportDaily   = "daily"
	ReportMonthly = "monthly"
)

type Report struct {
	ID          string          `db:"id" json:"id"`
	Type        string          `db:"type" json:"type"`
	Filters     json.RawMessage `db:"filters" json:"filters,omitempty"`
	PeriodStart time.Time       `db:"period_start" json:"periodStart"`
	PeriodEnd   time.Time       `db:"period_end" json:"periodEnd"`
	Summary     ReportSummary   `db:"summary" json:"summary"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

type ReportSummary struct {
	Campaigns         int            `json:"campaigns"`
	CampaignsByStatus map[string]int `json:"campaignsByStatus"`
	Recipients        int            `json:"recipients"`
	Sent              int            `json:"sent"`
	Failed            int            `json:"failed"`
	Pending           int            `json:"pending"`
}
