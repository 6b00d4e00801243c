package domain

import (
	"time"
)

type MemberRole string

const (
	RoleDM     MemberRole = "dm"
	RolePlayer MemberRole = "player"
)

// Member is one participant of a campaign.
type Member struct {
	UserID        string     `json:"userId"`
	DisplayName   string     `json:"displayName"`
	CharacterName string     `json:"characterName,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	Role          MemberRole `json:"role"`
}

// Persona is the display identity an impersonated post is attributed to.
type Persona struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Persona returns the member's current display identity, preferring the
// character name over the account name.
func (m *Member) Persona() Persona {
	name := m.CharacterName
	if name == "" {
		name = m.DisplayName
	}
	return Persona{DisplayName: name, AvatarURL: m.AvatarURL}
}

// InventoryEntry is one stack of a single item in a member's inventory.
type InventoryEntry struct {
	ID       string `json:"id"`
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// StoryConfig holds the campaign's narrative-log settings. ChannelID is the
// narrative-posting destination on the external chat platform; impersonation
// requires it to be configured.
type StoryConfig struct {
	ChannelID string `json:"channelId,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Campaign is the authoritative campaign document held by the persistent store.
type Campaign struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Members     []Member                    `json:"members"`
	Scribes     []string                    `json:"scribes,omitempty"`
	Inventories map[string][]InventoryEntry `json:"inventories,omitempty"`
	Story       StoryConfig                 `json:"story"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

// Member returns the campaign member with the given user id.
func (c *Campaign) Member(userID string) (*Member, bool) {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return &c.Members[i], true
		}
	}
	return nil, false
}

func (c *Campaign) IsDM(userID string) bool {
	m, ok := c.Member(userID)
	return ok && m.Role == RoleDM
}

func (c *Campaign) IsScribe(userID string) bool {
	if c.IsDM(userID) {
		return true
	}
	for _, id := range c.Scribes {
		if id == userID {
			return true
		}
	}
	return false
}

// Inventory returns the member's inventory. The returned slice aliases the
// campaign document; callers mutating it must persist the campaign.
func (c *Campaign) Inventory(userID string) []InventoryEntry {
	if c.Inventories == nil {
		return nil
	}
	return c.Inventories[userID]
}

type TradeStatus string

const (
	TradeAwaitingPartner TradeStatus = "awaiting-partner"
	TradeActive          TradeStatus = "active"
	TradeCompleted       TradeStatus = "completed"
	TradeCancelled       TradeStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeCompleted || s == TradeCancelled
}

// Cancellation reasons carried on trade:cancelled events.
const (
	TradeReasonDeclined  = "declined"
	TradeReasonCancelled = "cancelled"
	TradeReasonTimeout   = "timeout"
)

// OfferEntry is one line of a participant's trade offer.
type OfferEntry struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// TradeSnapshot is the wire view of a trade session.
type TradeSnapshot struct {
	ID         string                  `json:"id"`
	CampaignID string                  `json:"campaignId"`
	Initiator  string                  `json:"initiatorId"`
	Partner    string                  `json:"partnerId"`
	Status     TradeStatus             `json:"status"`
	Note       string                  `json:"note,omitempty"`
	Offers     map[string][]OfferEntry `json:"offers"`
	Confirmed  map[string]bool         `json:"confirmed"`
	CreatedAt  time.Time               `json:"createdAt"`
	ExpiresAt  time.Time               `json:"expiresAt"`
}

type ImpersonationStatus string

const (
	ImpersonationPending  ImpersonationStatus = "pending"
	ImpersonationApproved ImpersonationStatus = "approved"
	ImpersonationDenied   ImpersonationStatus = "denied"
	ImpersonationExpired  ImpersonationStatus = "expired"
	ImpersonationError    ImpersonationStatus = "error"
)

// ChronicleMessage is one cached entry of the external narrative log.
type ChronicleMessage struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Content   string    `json:"content"`
	PostedAt  time.Time `json:"postedAt"`
}

// ChronicleStatus describes the reconciliation state of a campaign's narrative log.
type ChronicleStatus struct {
	CampaignID   string    `json:"campaignId"`
	Linked       bool      `json:"linked"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	MessageCount int       `json:"messageCount"`
	LastError    string    `json:"lastError,omitempty"`
}
