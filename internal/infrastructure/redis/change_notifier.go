package redis

import (
	"context"
	"encoding/json"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const changeChannel = "campaign_changes"

// ChangePublisher pushes change events onto the shared bus so separately
// deployed workers (chronicle sync, campaign API) can drive socket pushes in
// the realtime service.
type ChangePublisher struct {
	client *redis.Client
}

func NewChangePublisher(client *redis.Client) *ChangePublisher {
	return &ChangePublisher{client: client}
}

func (p *ChangePublisher) PublishChange(ctx context.Context, event *domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, changeChannel, data).Err()
}

type ChangeSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewChangeSubscriber(client *redis.Client, log logger.Logger) *ChangeSubscriber {
	return &ChangeSubscriber{client: client, log: log}
}

func (s *ChangeSubscriber) SubscribeToChanges(ctx context.Context, handler domain.EventHandler) error {
	pubsub := s.client.Subscribe(ctx, changeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	s.log.Info("Subscribed to change events")

	for {
		select {
		case msg := <-ch:
			var event domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.log.Error("Failed to parse change event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(&event); err != nil {
				s.log.Error("Failed to handle change event", "event", event, "error", err)
			}

		case <-ctx.Done():
			s.log.Info("Change subscriber stopped")
			return ctx.Err()
		}
	}
}
