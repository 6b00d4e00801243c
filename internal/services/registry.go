package services

import (
	"time"

	"campaign-session/internal/config"
	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
)

type RealtimeOptions struct {
	TradeTimeout         time.Duration
	ImpersonationTimeout time.Duration
	StoryDebounce        time.Duration
	MaxOfferEntries      int
	MaxOfferQuantity     int
	MaxNoteLength        int
	MaxContentLength     int
}

func DefaultRealtimeOptions() RealtimeOptions {
	return RealtimeOptions{
		TradeTimeout:         180 * time.Second,
		ImpersonationTimeout: 120 * time.Second,
		StoryDebounce:        2 * time.Second,
		MaxOfferEntries:      20,
		MaxOfferQuantity:     9999,
		MaxNoteLength:        200,
		MaxContentLength:     2000,
	}
}

func OptionsFromConfig(rc config.RealtimeConfig) RealtimeOptions {
	return RealtimeOptions{
		TradeTimeout:         rc.TradeTimeout,
		ImpersonationTimeout: rc.ImpersonationTimeout,
		StoryDebounce:        rc.StoryDebounce,
		MaxOfferEntries:      rc.MaxOfferEntries,
		MaxOfferQuantity:     rc.MaxOfferQuantity,
		MaxNoteLength:        rc.MaxNoteLength,
		MaxContentLength:     rc.MaxContentLength,
	}
}

// Registry owns all live realtime state: channel subscriptions, presence
// counters, the story debounce queue, open trades and pending impersonation
// requests. Tests construct and tear down independent instances.
type Registry struct {
	hub            domain.ConnectionManager
	Presence       *PresenceTracker
	Story          *StoryBroadcaster
	Trades         *TradeEngine
	Impersonations *ImpersonationWorkflow
	log            logger.Logger
}

func NewRegistry(
	hub domain.ConnectionManager,
	store domain.CampaignStore,
	chronicle domain.ChronicleAdapter,
	narrative domain.NarrativeDispatcher,
	opts RealtimeOptions,
	log logger.Logger,
) *Registry {
	presence := NewPresenceTracker(hub, log)
	story := NewStoryBroadcaster(hub, store, chronicle, opts.StoryDebounce, log)
	trades := NewTradeEngine(store, hub, TradeConfig{
		Timeout:         opts.TradeTimeout,
		MaxOfferEntries: opts.MaxOfferEntries,
		MaxQuantity:     opts.MaxOfferQuantity,
		MaxNoteLength:   opts.MaxNoteLength,
	}, log)
	impersonations := NewImpersonationWorkflow(store, hub, narrative, chronicle, story, ImpersonationConfig{
		Timeout:          opts.ImpersonationTimeout,
		MaxContentLength: opts.MaxContentLength,
	}, log)

	return &Registry{
		hub:            hub,
		Presence:       presence,
		Story:          story,
		Trades:         trades,
		Impersonations: impersonations,
		log:            log,
	}
}

// Subscribe joins the socket to a channel. A fresh game subscriber contributes
// to presence and receives the full online snapshot before future deltas.
func (r *Registry) Subscribe(conn domain.Conn, kind domain.ChannelKind, campaignID string) {
	added := r.hub.Join(conn, kind, campaignID)
	if !added || kind != domain.ChannelGame {
		return
	}

	r.Presence.MarkOnline(campaignID, conn.UserID())
	if err := conn.Send(domain.PresenceStateEvent{
		Type:       domain.EventPresenceState,
		CampaignID: campaignID,
		Online:     r.Presence.Snapshot(campaignID),
	}); err != nil {
		r.log.Error("Failed to send presence snapshot", "user_id", conn.UserID(), "error", err)
	}
}

func (r *Registry) Unsubscribe(conn domain.Conn, kind domain.ChannelKind, campaignID string) {
	removed := r.hub.Leave(conn, kind, campaignID)
	if removed && kind == domain.ChannelGame {
		r.Presence.MarkOffline(campaignID, conn.UserID())
	}
}

// HandleDisconnect fully unwinds a dropped socket: every remaining
// subscription is released and its presence contributions decremented.
func (r *Registry) HandleDisconnect(conn domain.Conn) {
	for _, ref := range r.hub.RemoveConnection(conn.UserID(), conn) {
		if ref.Kind == domain.ChannelGame {
			r.Presence.MarkOffline(ref.CampaignID, conn.UserID())
		}
	}
}

// Shutdown clears all timers and drops all in-memory state.
func (r *Registry) Shutdown() {
	r.Trades.Shutdown()
	r.Impersonations.Shutdown()
	r.Story.Shutdown()
	r.Presence.Reset()
}
