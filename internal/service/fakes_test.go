package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// MockStore keeps campaigns in memory and records the order of writes.
type MockStore struct {
	mu        sync.Mutex
	seq       int
	campaigns map[string]*model.Campaign
	events    []string

	GetErr      error
	MarkSentErr error
	FinishErr   error
}

func NewMockStore() *MockStore {
	return &MockStore{campaigns: map[string]*model.Campaign{}}
}

func (s *MockStore) record(e string) { s.events = append(s.events, e) }

func (s *MockStore) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// Seed stores c as is, with recipients defaulting to PENDING.
func (s *MockStore) Seed(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignPending
	}
	if c.CreatedAt.IsZero() {
		s.seq++
		c.CreatedAt = time.Date(2026, 1, 1, 0, 0, s.seq, 0, time.UTC)
	}
	c.TotalEmails = len(c.Recipients)
	for i := range c.Recipients {
		r := &c.Recipients[i]
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-r%d", c.ID, i+1)
		}
		if r.Status == "" {
			r.Status = model.RecipientPending
		}
		r.CampaignID = c.ID
		r.Position = i
	}
	s.campaigns[c.ID] = c
}

func (s *MockStore) Campaign(id string) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCampaign(s.campaigns[id])
}

func copyCampaign(c *model.Campaign) model.Campaign {
	out := *c
	out.Recipients = append([]model.Recipient(nil), c.Recipients...)
	return out
}

type MockCampaignRepo struct{ *MockStore }

func (m MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	m.seq++
	if c.ID == "" {
		c.ID = fmt.Sprintf("c-%d", m.seq)
	}
	m.mu.Unlock()
	c.CreatedAt = time.Time{}
	c.Status = ""
	m.Seed(c)
	return nil
}

func (m MockCampaignRepo) GetWithRecipients(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := copyCampaign(c)
	return &cp, nil
}

func (m MockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := m.GetWithRecipients(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Recipients = nil
	return c, nil
}

func (m MockCampaignRepo) MarkProcessing(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c.Status != model.CampaignPending && c.Status != model.CampaignProcessing {
		return repository.ErrStaleTransition
	}
	c.Status = model.CampaignProcessing
	if c.StartedAt == nil {
		c.StartedAt = &at
	}
	m.record("processing")
	return nil
}

func (m MockCampaignRepo) Finish(_ context.Context, id string, out model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinishErr != nil {
		return m.FinishErr
	}
	c := m.campaigns[id]
	if c.Status != model.CampaignProcessing {
		return repository.ErrStaleTransition
	}
	c.Status = out.Status
	c.SentEmails = out.SentEmails
	c.FailedEmails = out.FailedEmails
	at := out.CompletedAt
	c.CompletedAt = &at
	m.record("finish:" + out.Status)
	return nil
}

func (m MockCampaignRepo) Latest(_ context.Context) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Campaign
	for _, c := range m.campaigns {
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := copyCampaign(latest)
	return &cp, nil
}

func (m MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if status == "" || c.Status == status {
			cp := copyCampaign(c)
			cp.Recipients = nil
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m MockCampaignRepo) GetCampaignStats(_ context.Context, id string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{model.RecipientPending: 0, model.RecipientSent: 0, model.RecipientFailed: 0}
	for _, r := range m.campaigns[id].Recipients {
		stats[r.Status]++
	}
	return stats, nil
}

type MockRecipientRepo struct{ *MockStore }

func (m MockRecipientRepo) find(id string) *model.Recipient {
	for _, c := range m.campaigns {
		for i := range c.Recipients {
			if c.Recipients[i].ID == id {
				return &c.Recipients[i]
			}
		}
	}
	return nil
}

func (m MockRecipientRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkSentErr != nil {
		return m.MarkSentErr
	}
	r := m.find(id)
	if r == nil || r.Status != model.RecipientPending {
		return repository.ErrStaleTransition
	}
	r.Status = model.RecipientSent
	r.SentAt = &at
	m.record("sent:" + id)
	return nil
}

func (m MockRecipientRepo) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || r.Status != model.RecipientPending {
		return repository.ErrStaleTransition
	}
	r.Status = model.RecipientFailed
	r.Error = &reason
	m.record("failed:" + id)
	return nil
}

// MockSender fails for the addresses in Fail and records the rest.
type MockSender struct {
	mu    sync.Mutex
	Fail  map[string]error
	store *MockStore
	sent  []string
	calls int
}

func (m *MockSender) Deliver(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.store != nil {
		m.store.mu.Lock()
		m.store.record("deliver:" + to)
		m.store.mu.Unlock()
	}
	if err := m.Fail[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *MockSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRenderer echoes the name and email, failing for addresses in Fail.
type MockRenderer struct {
	mu    sync.Mutex
	Fail  map[string]error
	names []string
}

func (m *MockRenderer) Render(_ context.Context, d service.TemplateData) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, d.Name)
	if err := m.Fail[d.Email]; err != nil {
		return "", err
	}
	return "<p>Hi " + d.Name + "</p>" + d.Body, nil
}

func (m *MockRenderer) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

func strPtr(s string) *string { return &s }

var errMailbox = errors.New("550 mailbox unavailable")
