// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignHandler holds the dependencies for campaign read endpoints
type CampaignHandler struct {
	Service *service.CampaignService
	Logger  *slog.Logger
}

// NewCampaignHandler creates a new CampaignHandler with the given service
func NewCampaignHandler(svc *service.CampaignService, log *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		Service: svc,
		Logger:  logger.OrDefault(log).With(logger.Component("CampaignHandler")),
	}
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 20

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "❌ failed to list campaigns", logger.Error(err))
		http.Error(w, "failed to fetch campaigns", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandlerWithStats returns a campaign, its recipients and per-status counts
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.Logger.DebugContext(r.Context(), "📥 campaign details requested", slog.String("campaign_id", id))

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			http.Error(w, nf.Error(), http.StatusNotFound)
			return
		}
		h.Logger.ErrorContext(r.Context(), "❌ error fetching campaign", slog.String("campaign_id", id), logger.Error(err))
		http.Error(w, "failed to fetch campaign", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// LatestCampaignHandler returns the most recent campaign with recipient outcomes
func (h *CampaignHandler) LatestCampaignHandler(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.Service.LatestCampaign(r.Context())
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "❌ error fetching latest campaign", logger.Error(err))
		http.Error(w, "failed to fetch campaign", http.StatusInternalServerError)
		return
	}
	if campaign == nil {
		http.Error(w, "no campaigns found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
