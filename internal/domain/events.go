package domain

import "time"

// Outbound event types pushed to sockets.
const (
	EventPresenceState = "presence:state"
	EventPresenceDelta = "presence:update"

	EventGameUpdate  = "game:update"
	EventGameDeleted = "game:deleted"

	EventTradeInvite    = "trade:invite"
	EventTradeActive    = "trade:active"
	EventTradeUpdate    = "trade:update"
	EventTradeCancelled = "trade:cancelled"
	EventTradeCompleted = "trade:completed"
	EventTradeError     = "trade:error"

	EventStoryUpdate          = "story:update"
	EventImpersonationStatus  = "story:impersonation_status"
	EventImpersonationPrompt  = "story:impersonation_prompt"

	EventError = "error"
	EventPong  = "pong"
)

// PresenceStateEvent is the full online snapshot a fresh game subscriber receives.
type PresenceStateEvent struct {
	Type       string   `json:"type"`
	CampaignID string   `json:"campaignId"`
	Online     []string `json:"online"`
}

// PresenceDeltaEvent marks one user crossing the online/offline boundary.
type PresenceDeltaEvent struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
	UserID     string `json:"userId"`
	Online     bool   `json:"online"`
}

// GameUpdateEvent carries the fresh campaign document after a persisted change.
type GameUpdateEvent struct {
	Type     string    `json:"type"`
	Campaign *Campaign `json:"campaign"`
	Reason   string    `json:"reason,omitempty"`
}

type GameDeletedEvent struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
}

// TradeEvent carries a trade session snapshot; Reason is set on cancellations.
type TradeEvent struct {
	Type   string        `json:"type"`
	Trade  TradeSnapshot `json:"trade"`
	Reason string        `json:"reason,omitempty"`
}

// TradeErrorEvent is the typed rejection for an invalid trade action.
type TradeErrorEvent struct {
	Type    string `json:"type"`
	TradeID string `json:"tradeId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StoryUpdateEvent is the coalesced story snapshot pushed on the story channel.
type StoryUpdateEvent struct {
	Type       string             `json:"type"`
	CampaignID string             `json:"campaignId"`
	Status     *ChronicleStatus   `json:"status,omitempty"`
	Messages   []ChronicleMessage `json:"messages"`
	Config     StoryConfig        `json:"config"`
	PushedAt   time.Time          `json:"pushedAt"`
}

// ImpersonationStatusEvent reports request lifecycle changes to the scribe
// (and, on terminal resolutions, to the target).
type ImpersonationStatusEvent struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId"`
	Status    ImpersonationStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Nonce     string              `json:"nonce,omitempty"`
}

// ImpersonationPromptEvent asks the target player to approve or deny a pending
// request. Names are the ones cached at request time.
type ImpersonationPromptEvent struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"requestId"`
	CampaignID  string    `json:"campaignId"`
	ScribeName  string    `json:"scribeName"`
	TargetName  string    `json:"targetName"`
	Content     string    `json:"content"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ErrorEvent is the generic rejection for malformed or unroutable messages.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongEvent struct {
	Type string `json:"type"`
}
