// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is returned when a campaign id has no row.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrReportNotFound is returned when a report id has no row.
type ErrReportNotFound struct {
	ReportID string
}

func (e *ErrReportNotFound) Error() string {
	return fmt.Sprintf("report with ID %s not found", e.ReportID)
}

func NewReportNotFound(id string) error {
	return &ErrReportNotFound{ReportID: id}
}

// ErrInvalidPayload marks a queue item whose body cannot be processed.
type ErrInvalidPayload struct {
	Reason string
}

func (e *ErrInvalidPayload) Error() string {
	return "invalid payload: " + e.Reason
}
