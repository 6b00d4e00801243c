package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"campaign-session/internal/domain"

	"github.com/go-redis/redis/v8"
)

// ChronicleCache stores the cached external narrative log per campaign:
// messages under chronicle:messages:<id>, sync status under
// chronicle:status:<id>.
type ChronicleCache struct {
	client *redis.Client
}

func NewChronicleCache(client *redis.Client) *ChronicleCache {
	return &ChronicleCache{client: client}
}

func messagesKey(campaignID string) string {
	return fmt.Sprintf("chronicle:messages:%s", campaignID)
}

func statusKey(campaignID string) string {
	return fmt.Sprintf("chronicle:status:%s", campaignID)
}

func (c *ChronicleCache) StoreMessages(ctx context.Context, campaignID string, messages []domain.ChronicleMessage) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, messagesKey(campaignID), data, 0).Err()
}

func (c *ChronicleCache) GetMessages(ctx context.Context, campaignID string) ([]domain.ChronicleMessage, error) {
	data, err := c.client.Get(ctx, messagesKey(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []domain.ChronicleMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *ChronicleCache) StoreStatus(ctx context.Context, status *domain.ChronicleStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(status.CampaignID), data, 0).Err()
}

func (c *ChronicleCache) GetStatus(ctx context.Context, campaignID string) (*domain.ChronicleStatus, error) {
	data, err := c.client.Get(ctx, statusKey(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status domain.ChronicleStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
