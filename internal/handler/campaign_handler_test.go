package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type MockCampaignRepo struct {
	campaigns []*model.Campaign
	listErr   error
	status    string
}

func (m *MockCampaignRepo) find(id string) (*model.Campaign, error) {
	for _, c := range m.campaigns {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) Create(context.Context, *model.Campaign) error { return nil }
func (m *MockCampaignRepo) GetWithRecipients(_ context.Context, id string) (*model.Campaign, error) {
	return m.find(id)
}
func (m *MockCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	return m.find(id)
}
func (m *MockCampaignRepo) MarkProcessing(context.Context, string, time.Time) error { return nil }
func (m *MockCampaignRepo) Finish(context.Context, string, model.Outcome) error     { return nil }

func (m *MockCampaignRepo) Latest(context.Context) (*model.Campaign, error) {
	if len(m.campaigns) == 0 {
		return nil, nil
	}
	return m.campaigns[0], nil
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	m.status = status
	if offset >= len(m.campaigns) {
		return []*model.Campaign{}, len(m.campaigns), nil
	}
	end := offset + limit
	if end > len(m.campaigns) {
		end = len(m.campaigns)
	}
	return m.campaigns[offset:end], len(m.campaigns), nil
}

func (m *MockCampaignRepo) GetCampaignStats(_ context.Context, id string) (map[string]int, error) {
	c, err := m.find(id)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{}
	for _, r := range c.Recipients {
		stats[r.Status]++
	}
	return stats, nil
}

func newRouter(repo *MockCampaignRepo) http.Handler {
	h := handler.NewCampaignHandler(&service.CampaignService{CampaignRepo: repo, Logger: logger.Discard()}, logger.Discard())
	r := chi.NewRouter()
	r.Get("/api/emails", h.ListCampaignsHandler)
	r.Get("/api/emails/latest", h.LatestCampaignHandler)
	r.Get("/api/emails/{id}", h.GetCampaignHandlerWithStats)
	return r
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func sampleCampaigns() []*model.Campaign {
	reason := "550 mailbox unavailable"
	return []*model.Campaign{
		{
			ID: "c-2", Subject: "Second", Status: model.CampaignCompleted, TotalEmails: 2, SentEmails: 1, FailedEmails: 1,
			Recipients: []model.Recipient{
				{ID: "r-1", Email: "a@x.com", Status: model.RecipientSent},
				{ID: "r-2", Email: "b@x.com", Status: model.RecipientFailed, Error: &reason},
			},
		},
		{ID: "c-1", Subject: "First", Status: model.CampaignPending, TotalEmails: 0},
	}
}

func TestListCampaignsHandler(t *testing.T) {
	repo := &MockCampaignRepo{campaigns: sampleCampaigns()}

	w := get(newRouter(repo), "/api/emails?page=1&page_size=1&status=completed")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "c-2", resp.Data[0].ID)
	assert.Equal(t, 2, resp.Pagination["total_count"])
	assert.Equal(t, 2, resp.Pagination["total_pages"])
	assert.Equal(t, model.CampaignCompleted, repo.status)
}

func TestListCampaignsHandlerIgnoresBadQuery(t *testing.T) {
	repo := &MockCampaignRepo{campaigns: sampleCampaigns()}

	w := get(newRouter(repo), "/api/emails?page=abc&page_size=-3")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pagination map[string]int `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Pagination["page"])
	assert.Equal(t, 20, resp.Pagination["page_size"])
}

func TestListCampaignsHandlerStoreError(t *testing.T) {
	repo := &MockCampaignRepo{listErr: errors.New("db down")}

	w := get(newRouter(repo), "/api/emails")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestGetCampaignHandlerWithStats(t *testing.T) {
	repo := &MockCampaignRepo{campaigns: sampleCampaigns()}

	w := get(newRouter(repo), "/api/emails/c-2")
	require.Equal(t, http.StatusOK, w.Code)

	var details service.CampaignDetails
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &details))
	assert.Equal(t, model.CampaignCompleted, details.Status)
	assert.Equal(t, 1, details.Stats[model.RecipientSent])
	assert.Equal(t, 1, details.Stats[model.RecipientFailed])
	assert.Equal(t, 2, details.Stats["total"])
	require.Len(t, details.Recipients, 2)
	assert.Equal(t, "550 mailbox unavailable", *details.Recipients[1].Error)
}

func TestGetCampaignHandlerNotFound(t *testing.T) {
	w := get(newRouter(&MockCampaignRepo{}), "/api/emails/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestCampaignHandler(t *testing.T) {
	w := get(newRouter(&MockCampaignRepo{}), "/api/emails/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(newRouter(&MockCampaignRepo{campaigns: sampleCampaigns()}), "/api/emails/latest")
	require.Equal(t, http.StatusOK, w.Code)
	var c model.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "c-2", c.ID)
	assert.Len(t, c.Recipients, 2)
}
