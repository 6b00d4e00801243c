package services

import (
	"context"
	"sync"
	"time"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
)

// StoryBroadcaster debounces bursts of narrative-log change notifications per
// campaign into a single story:update push.
type StoryBroadcaster struct {
	hub       domain.ConnectionManager
	store     domain.CampaignStore
	chronicle domain.ChronicleAdapter
	delay     time.Duration
	log       logger.Logger
	mu        sync.Mutex
	pending   map[string]*time.Timer
}

func NewStoryBroadcaster(
	hub domain.ConnectionManager,
	store domain.CampaignStore,
	chronicle domain.ChronicleAdapter,
	delay time.Duration,
	log logger.Logger,
) *StoryBroadcaster {
	return &StoryBroadcaster{
		hub:       hub,
		store:     store,
		chronicle: chronicle,
		delay:     delay,
		log:       log,
		pending:   make(map[string]*time.Timer),
	}
}

// Queue schedules a story push for the campaign. Repeated calls while a push
// is already queued coalesce into the one pending timer.
func (b *StoryBroadcaster) Queue(campaignID string, immediate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, queued := b.pending[campaignID]; queued {
		return
	}

	delay := b.delay
	if immediate {
		delay = 0
	}
	b.pending[campaignID] = time.AfterFunc(delay, func() {
		b.push(campaignID)
	})
}

func (b *StoryBroadcaster) push(campaignID string) {
	b.mu.Lock()
	delete(b.pending, campaignID)
	b.mu.Unlock()

	ctx := context.Background()

	status, err := b.chronicle.Status(ctx, campaignID)
	if err != nil {
		b.log.Error("Failed to read chronicle status", "campaign_id", campaignID, "error", err)
	}

	messages, err := b.chronicle.Messages(ctx, campaignID)
	if err != nil {
		b.log.Error("Failed to read chronicle messages", "campaign_id", campaignID, "error", err)
	}
	if messages == nil {
		messages = []domain.ChronicleMessage{}
	}

	var config domain.StoryConfig
	if campaign, err := b.store.GetCampaign(ctx, campaignID); err != nil {
		b.log.Error("Failed to read campaign for story push", "campaign_id", campaignID, "error", err)
	} else {
		config = campaign.Story
	}

	b.hub.Broadcast(domain.ChannelStory, campaignID, domain.StoryUpdateEvent{
		Type:       domain.EventStoryUpdate,
		CampaignID: campaignID,
		Status:     status,
		Messages:   messages,
		Config:     config,
		PushedAt:   time.Now(),
	})
}

func (b *StoryBroadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for campaignID, timer := range b.pending {
		timer.Stop()
		delete(b.pending, campaignID)
	}
}
