package services

import (
	"sort"
	"sync"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
)

// PresenceTracker keeps a reference count of live game-channel subscriptions
// per (campaign, user) and emits online/offline deltas only when a user
// crosses the 0/1 boundary.
type PresenceTracker struct {
	hub    domain.ConnectionManager
	log    logger.Logger
	mu     sync.Mutex
	counts map[string]map[string]int // campaignID -> userID -> refcount
}

func NewPresenceTracker(hub domain.ConnectionManager, log logger.Logger) *PresenceTracker {
	return &PresenceTracker{
		hub:    hub,
		log:    log,
		counts: make(map[string]map[string]int),
	}
}

func (p *PresenceTracker) MarkOnline(campaignID, userID string) {
	p.mu.Lock()
	users := p.counts[campaignID]
	if users == nil {
		users = make(map[string]int)
		p.counts[campaignID] = users
	}
	users[userID]++
	wentOnline := users[userID] == 1
	p.mu.Unlock()

	if wentOnline {
		p.log.Debug("User online", "campaign_id", campaignID, "user_id", userID)
		p.hub.Broadcast(domain.ChannelGame, campaignID, domain.PresenceDeltaEvent{
			Type:       domain.EventPresenceDelta,
			CampaignID: campaignID,
			UserID:     userID,
			Online:     true,
		})
	}
}

func (p *PresenceTracker) MarkOffline(campaignID, userID string) {
	p.mu.Lock()
	users := p.counts[campaignID]
	if users == nil || users[userID] == 0 {
		// Counter never goes negative; stray leaves are ignored.
		p.mu.Unlock()
		return
	}
	users[userID]--
	wentOffline := users[userID] == 0
	if wentOffline {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.counts, campaignID)
		}
	}
	p.mu.Unlock()

	if wentOffline {
		p.log.Debug("User offline", "campaign_id", campaignID, "user_id", userID)
		p.hub.Broadcast(domain.ChannelGame, campaignID, domain.PresenceDeltaEvent{
			Type:       domain.EventPresenceDelta,
			CampaignID: campaignID,
			UserID:     userID,
			Online:     false,
		})
	}
}

// Snapshot returns the ids of all currently-online users for the campaign.
func (p *PresenceTracker) Snapshot(campaignID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	online := make([]string, 0, len(p.counts[campaignID]))
	for userID := range p.counts[campaignID] {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}

func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = make(map[string]map[string]int)
}
