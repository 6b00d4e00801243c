package services_test

import (
	"context"
	"encoding/json"
	"sync"

	"campaign-session/internal/domain"
)

type fakeConn struct {
	userID string
	mu     sync.Mutex
	events []interface{}
}

func (c *fakeConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, message)
	return nil
}

func (c *fakeConn) Close() error   { return nil }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) received() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.events...)
}

func (c *fakeConn) tradeEvents(eventType string) []domain.TradeEvent {
	var out []domain.TradeEvent
	for _, raw := range c.received() {
		if ev, ok := raw.(domain.TradeEvent); ok && ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) statusEvents(status domain.ImpersonationStatus) []domain.ImpersonationStatusEvent {
	var out []domain.ImpersonationStatusEvent
	for _, raw := range c.received() {
		if ev, ok := raw.(domain.ImpersonationStatusEvent); ok && ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) presenceDeltas() []domain.PresenceDeltaEvent {
	var out []domain.PresenceDeltaEvent
	for _, raw := range c.received() {
		if ev, ok := raw.(domain.PresenceDeltaEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) storyUpdates() []domain.StoryUpdateEvent {
	var out []domain.StoryUpdateEvent
	for _, raw := range c.received() {
		if ev, ok := raw.(domain.StoryUpdateEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

// memStore is an in-memory CampaignStore. Reads hand out deep copies so a
// caller mutating a read document cannot leak changes without persisting.
type memStore struct {
	mu           sync.Mutex
	campaigns    map[string]*domain.Campaign
	persistCount int
	lastOpts     domain.PersistOptions
	persistErr   error
}

func newMemStore() *memStore {
	return &memStore{campaigns: make(map[string]*domain.Campaign)}
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	data, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	var out domain.Campaign
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (s *memStore) put(c *domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = cloneCampaign(c)
}

func (s *memStore) get(campaignID string) *domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCampaign(s.campaigns[campaignID])
}

func (s *memStore) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	return cloneCampaign(c), nil
}

func (s *memStore) Persist(ctx context.Context, campaign *domain.Campaign, opts domain.PersistOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.campaigns[campaign.ID] = cloneCampaign(campaign)
	s.persistCount++
	s.lastOpts = opts
	return nil
}

func (s *memStore) DeleteCampaign(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return domain.ErrCampaignNotFound
	}
	delete(s.campaigns, campaignID)
	return nil
}

func (s *memStore) ListCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range s.campaigns {
		out = append(out, cloneCampaign(c))
	}
	return out, nil
}

type fakeChronicle struct {
	mu        sync.Mutex
	status    *domain.ChronicleStatus
	messages  []domain.ChronicleMessage
	syncCalls []string
	syncErr   error
}

func (f *fakeChronicle) Status(ctx context.Context, campaignID string) (*domain.ChronicleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		return &domain.ChronicleStatus{CampaignID: campaignID, Linked: false}, nil
	}
	return f.status, nil
}

func (f *fakeChronicle) Messages(ctx context.Context, campaignID string) ([]domain.ChronicleMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChronicleMessage(nil), f.messages...), nil
}

func (f *fakeChronicle) ForceSync(ctx context.Context, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, campaignID)
	return f.syncErr
}

func (f *fakeChronicle) forceSyncCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.syncCalls...)
}

type narrativePost struct {
	channelID string
	persona   domain.Persona
	content   string
}

type fakeNarrative struct {
	mu    sync.Mutex
	posts []narrativePost
	err   error
}

func (f *fakeNarrative) Post(ctx context.Context, channelID string, persona domain.Persona, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, narrativePost{channelID: channelID, persona: persona, content: content})
	return nil
}

func (f *fakeNarrative) posted() []narrativePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]narrativePost(nil), f.posts...)
}
