package services

import (
	"context"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
)

// EventListener bridges the change-notification bus into socket pushes:
// campaign document changes become game events, chronicle changes feed the
// story broadcast queue.
type EventListener struct {
	registry *Registry
	store    domain.CampaignStore
	hub      domain.ConnectionManager
	log      logger.Logger
}

func NewEventListener(registry *Registry, store domain.CampaignStore, hub domain.ConnectionManager, log logger.Logger) *EventListener {
	return &EventListener{
		registry: registry,
		store:    store,
		hub:      hub,
		log:      log,
	}
}

func (l *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	l.log.Info("Starting change-event listener")
	return subscriber.SubscribeToChanges(ctx, l.Handle)
}

func (l *EventListener) Handle(event *domain.ChangeEvent) error {
	switch event.Type {
	case domain.ChangeCampaignUpdated:
		campaign, err := l.store.GetCampaign(context.Background(), event.CampaignID)
		if err != nil {
			l.log.Error("Failed to load campaign for update push", "campaign_id", event.CampaignID, "error", err)
			return err
		}
		l.hub.Broadcast(domain.ChannelGame, event.CampaignID, domain.GameUpdateEvent{
			Type:     domain.EventGameUpdate,
			Campaign: campaign,
			Reason:   event.Reason,
		})

	case domain.ChangeCampaignDeleted:
		l.hub.Broadcast(domain.ChannelGame, event.CampaignID, domain.GameDeletedEvent{
			Type:       domain.EventGameDeleted,
			CampaignID: event.CampaignID,
		})

	case domain.ChangeChronicle:
		l.registry.Story.Queue(event.CampaignID, false)

	case domain.ChangeStorySync:
		l.registry.Story.Queue(event.CampaignID, event.Immediate)

	default:
		l.log.Warn("Unknown change event", "type", event.Type, "campaign_id", event.CampaignID)
	}
	return nil
}
