package domain

import (
	"context"
	"time"
)

// ChannelKind identifies one of the three logical broadcast channels a socket
// can subscribe to, each scoped by campaign id.
type ChannelKind string

const (
	ChannelStory ChannelKind = "story"
	ChannelGame  ChannelKind = "game"
	ChannelTrade ChannelKind = "trade"
)

func (k ChannelKind) Valid() bool {
	return k == ChannelStory || k == ChannelGame || k == ChannelTrade
}

// ChannelRef names one (kind, campaign) subscriber set.
type ChannelRef struct {
	Kind       ChannelKind
	CampaignID string
}

// Store interfaces
type PersistOptions struct {
	Reason string
	// Broadcast controls whether a generic game:update change event is
	// published; callers that push a more specific event pass false.
	Broadcast bool
}

type CampaignStore interface {
	GetCampaign(ctx context.Context, campaignID string) (*Campaign, error)
	Persist(ctx context.Context, campaign *Campaign, opts PersistOptions) error
	DeleteCampaign(ctx context.Context, campaignID string) error
	ListCampaigns(ctx context.Context) ([]*Campaign, error)
}

// WebSocket interfaces
type Conn interface {
	Send(message interface{}) error
	Close() error
	UserID() string
}

type ConnectionManager interface {
	AddConnection(userID string, conn Conn)
	// RemoveConnection drops the socket and returns the channels it was still
	// subscribed to so callers can unwind presence contributions.
	RemoveConnection(userID string, conn Conn) []ChannelRef
	// Join is idempotent; it reports whether the subscription is new.
	Join(conn Conn, kind ChannelKind, campaignID string) bool
	Leave(conn Conn, kind ChannelKind, campaignID string) bool
	Subscribed(conn Conn, kind ChannelKind, campaignID string) bool
	Broadcast(kind ChannelKind, campaignID string, event interface{})
	NotifyUser(userID string, event interface{})
	NotifyUserWhere(userID string, event interface{}, pred func(Conn) bool)
}

// Chronicle interfaces
type ChronicleAdapter interface {
	Status(ctx context.Context, campaignID string) (*ChronicleStatus, error)
	Messages(ctx context.Context, campaignID string) ([]ChronicleMessage, error)
	ForceSync(ctx context.Context, campaignID string) error
}

// ChronicleSource is the external narrative-log endpoint the sync service polls.
type ChronicleSource interface {
	FetchMessages(ctx context.Context, channelID string) ([]ChronicleMessage, error)
}

// ChronicleCache holds the cached view of the external narrative log.
type ChronicleCache interface {
	StoreMessages(ctx context.Context, campaignID string, messages []ChronicleMessage) error
	GetMessages(ctx context.Context, campaignID string) ([]ChronicleMessage, error)
	StoreStatus(ctx context.Context, status *ChronicleStatus) error
	GetStatus(ctx context.Context, campaignID string) (*ChronicleStatus, error)
}

// NarrativeDispatcher posts content to a campaign's narrative destination under
// an arbitrary display identity.
type NarrativeDispatcher interface {
	Post(ctx context.Context, channelID string, persona Persona, content string) error
}

// Change-event bus interfaces
type ChangeEventType string

const (
	ChangeCampaignUpdated ChangeEventType = "campaign_updated"
	ChangeCampaignDeleted ChangeEventType = "campaign_deleted"
	ChangeChronicle       ChangeEventType = "chronicle_changed"
	ChangeStorySync       ChangeEventType = "story_sync"
)

type ChangeEvent struct {
	Type       ChangeEventType `json:"type"`
	CampaignID string          `json:"campaignId"`
	Reason     string          `json:"reason,omitempty"`
	Immediate  bool            `json:"immediate,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type EventPublisher interface {
	PublishChange(ctx context.Context, event *ChangeEvent) error
}

type EventHandler func(event *ChangeEvent) error

type EventSubscriber interface {
	SubscribeToChanges(ctx context.Context, handler EventHandler) error
}
