// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// EmailController accepts new campaigns and report requests.
type EmailController struct {
	CampaignService *service.CampaignService
	ReportService   *service.ReportService
	Logger          *slog.Logger

	validator *validator.Validate
}

func NewEmailController(campaigns *service.CampaignService, reports *service.ReportService, log *slog.Logger) *EmailController {
	return &EmailController{
		CampaignService: campaigns,
		ReportService:   reports,
		Logger:          logger.OrDefault(log).With(logger.Component("EmailController")),
		validator:       validator.New(),
	}
}

// recipientField accepts either "a@x.com" or {"email": "a@x.com", "name": "Ann"}.
type recipientField struct {
	Email string  `validate:"required,email"`
	Name  *string `validate:"omitempty,max=200"`
}

func (r *recipientField) UnmarshalJSON(b []byte) error {
	var email string
	if err := json.Unmarshal(b, &email); err == nil {
		r.Email = email
		return nil
	}
	var obj struct {
		Email string  `json:"email"`
		Name  *string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("recipient must be an email or an object: %w", err)
	}
	r.Email, r.Name = obj.Email, obj.Name
	return nil
}

type createEmailRequest struct {
	Subject    string           `json:"subject" validate:"required,max=998"`
	Body       string           `json:"body" validate:"required"`
	Recipients []recipientField `json:"recipients" validate:"required,min=1,dive"`
}

type createReportRequest struct {
	Type    string         `json:"type" validate:"required,oneof=daily monthly"`
	Filters map[string]any `json:"filters"`
}

// CreateEmailJob stores a campaign and queues it for delivery.
func (c *EmailController) CreateEmailJob(w http.ResponseWriter, r *http.Request) {
	var body createEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid data", "errors": []string{err.Error()}})
		return
	}
	if err := c.validator.Struct(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid data", "errors": validationMessages(err)})
		return
	}

	recipients := make([]service.RecipientInput, len(body.Recipients))
	for i, rc := range body.Recipients {
		recipients[i] = service.RecipientInput{Email: rc.Email, Name: rc.Name}
	}

	campaign, _, err := c.CampaignService.CreateCampaign(r.Context(), body.Subject, body.Body, recipients)
	if err != nil {
		if errors.Is(err, service.ErrEnqueue) {
			c.Logger.ErrorContext(r.Context(), "❌ campaign stored but not queued", slog.String("campaign_id", campaign.ID), logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"error": "queue unavailable", "campaignId": campaign.ID})
			return
		}
		c.Logger.ErrorContext(r.Context(), "❌ failed to create campaign", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "campaign received",
		"jobId":   campaign.ID,
	})
}

// CreateReport queues a report over the last day or month.
func (c *EmailController) CreateReport(w http.ResponseWriter, r *http.Request) {
	var body createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid data", "errors": []string{err.Error()}})
		return
	}
	if err := c.validator.Struct(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid data", "errors": validationMessages(err)})
		return
	}

	id, err := c.ReportService.RequestReport(r.Context(), body.Type, body.Filters)
	if err != nil {
		c.Logger.ErrorContext(r.Context(), "❌ failed to queue report", logger.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrEnqueue) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{"error": "report not queued"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":  "report requested",
		"reportId": id,
	})
}

// GetReport returns a generated report.
func (c *EmailController) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := c.ReportService.GetReport(r.Context(), id)
	if err != nil {
		var nf *appErrors.ErrReportNotFound
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": nf.Error()})
			return
		}
		c.Logger.ErrorContext(r.Context(), "❌ failed to fetch report", slog.String("report_id", id), logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ExportReport streams a generated report as an xlsx download.
func (c *EmailController) ExportReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	filename, data, err := c.ReportService.ExportReport(r.Context(), id)
	if err != nil {
		var nf *appErrors.ErrReportNotFound
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": nf.Error()})
			return
		}
		c.Logger.ErrorContext(r.Context(), "❌ failed to export report", slog.String("report_id", id), logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, validationMessage(fe))
	}
	return msgs
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Namespace() + " is required"
	case "email":
		return fe.Namespace() + " must be a valid email"
	case "min":
		return fe.Namespace() + " must have at least " + fe.Param() + " entries"
	case "max":
		return fe.Namespace() + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return fe.Namespace() + " must be one of: " + fe.Param()
	default:
		return fe.Namespace() + " is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
