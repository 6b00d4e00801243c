package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"campaign-session/internal/domain"
	"campaign-session/pkg/logger"
	"campaign-session/pkg/utils"
)

type TradeConfig struct {
	Timeout         time.Duration
	MaxOfferEntries int
	MaxQuantity     int
	MaxNoteLength   int
}

func DefaultTradeConfig() TradeConfig {
	return TradeConfig{
		Timeout:         180 * time.Second,
		MaxOfferEntries: 20,
		MaxQuantity:     9999,
		MaxNoteLength:   200,
	}
}

// tradeSession is one live two-party negotiation. It owns exactly one timer;
// every transition either reassigns or clears it.
type tradeSession struct {
	id         string
	campaignID string
	initiator  string
	partner    string
	status     domain.TradeStatus
	note       string
	offers     map[string][]domain.OfferEntry
	confirmed  map[string]bool
	createdAt  time.Time
	expiresAt  time.Time
	timer      *time.Timer
	finalizing bool
}

func (s *tradeSession) isParticipant(userID string) bool {
	return userID == s.initiator || userID == s.partner
}

func (s *tradeSession) snapshot() domain.TradeSnapshot {
	offers := make(map[string][]domain.OfferEntry, len(s.offers))
	for userID, entries := range s.offers {
		offers[userID] = append([]domain.OfferEntry(nil), entries...)
	}
	confirmed := make(map[string]bool, len(s.confirmed))
	for userID, ok := range s.confirmed {
		confirmed[userID] = ok
	}
	return domain.TradeSnapshot{
		ID:         s.id,
		CampaignID: s.campaignID,
		Initiator:  s.initiator,
		Partner:    s.partner,
		Status:     s.status,
		Note:       s.note,
		Offers:     offers,
		Confirmed:  confirmed,
		CreatedAt:  s.createdAt,
		ExpiresAt:  s.expiresAt,
	}
}

// TradeEngine coordinates the two-party offer/confirm/finalize protocol and
// performs the atomic inventory transfer against the campaign store.
type TradeEngine struct {
	store domain.CampaignStore
	hub   domain.ConnectionManager
	cfg   TradeConfig
	log   logger.Logger

	mu     sync.Mutex
	trades map[string]*tradeSession

	lockMu        sync.Mutex
	campaignLocks map[string]*sync.Mutex
}

func NewTradeEngine(store domain.CampaignStore, hub domain.ConnectionManager, cfg TradeConfig, log logger.Logger) *TradeEngine {
	return &TradeEngine{
		store:         store,
		hub:           hub,
		cfg:           cfg,
		log:           log,
		trades:        make(map[string]*tradeSession),
		campaignLocks: make(map[string]*sync.Mutex),
	}
}

// Start opens a trade between two non-DM members of the same campaign and
// notifies both parties with a trade:invite. Returns the new trade id.
func (e *TradeEngine) Start(ctx context.Context, initiatorID, campaignID, partnerID, note string) (string, error) {
	if initiatorID == partnerID {
		return "", fmt.Errorf("%w: cannot trade with yourself", domain.ErrInvalidPayload)
	}

	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}

	for _, userID := range []string{initiatorID, partnerID} {
		member, ok := campaign.Member(userID)
		if !ok {
			return "", fmt.Errorf("%w: %s is not a campaign member", domain.ErrInvalidPayload, userID)
		}
		if member.Role == domain.RoleDM {
			return "", fmt.Errorf("%w: the DM cannot trade", domain.ErrForbidden)
		}
	}

	note = strings.TrimSpace(note)
	if len(note) > e.cfg.MaxNoteLength {
		note = note[:e.cfg.MaxNoteLength]
	}

	e.mu.Lock()
	for _, existing := range e.trades {
		if !existing.status.Terminal() && existing.isParticipant(initiatorID) {
			e.mu.Unlock()
			return "", fmt.Errorf("%w: you already have an open trade", domain.ErrInvalidState)
		}
	}

	now := time.Now()
	session := &tradeSession{
		id:         utils.GenerateID("trade"),
		campaignID: campaignID,
		initiator:  initiatorID,
		partner:    partnerID,
		status:     domain.TradeAwaitingPartner,
		note:       note,
		offers:     make(map[string][]domain.OfferEntry),
		confirmed:  map[string]bool{initiatorID: false, partnerID: false},
		createdAt:  now,
	}
	e.trades[session.id] = session
	e.armTimerLocked(session)
	snap := session.snapshot()
	e.mu.Unlock()

	e.log.Info("Trade started", "trade_id", snap.ID, "campaign_id", campaignID,
		"initiator", initiatorID, "partner", partnerID)
	e.notifyBoth(snap, domain.EventTradeInvite, "")
	return snap.ID, nil
}

// Respond accepts or declines an invitation. Only the invited partner may
// respond, and only while the trade is awaiting them.
func (e *TradeEngine) Respond(ctx context.Context, actorID, tradeID string, accept bool) error {
	e.mu.Lock()
	session, ok := e.trades[tradeID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrTradeNotFound
	}
	if !session.isParticipant(actorID) {
		e.mu.Unlock()
		return domain.ErrNotParticipant
	}
	if actorID != session.partner {
		e.mu.Unlock()
		return fmt.Errorf("%w: only the invited partner can respond", domain.ErrForbidden)
	}
	if session.status != domain.TradeAwaitingPartner {
		e.mu.Unlock()
		return fmt.Errorf("%w: trade is %s", domain.ErrInvalidState, session.status)
	}

	if !accept {
		snap := e.terminateLocked(session, domain.TradeReasonDeclined)
		e.mu.Unlock()
		e.notifyBoth(snap, domain.EventTradeCancelled, domain.TradeReasonDeclined)
		return nil
	}

	session.status = domain.TradeActive
	session.confirmed[session.initiator] = false
	session.confirmed[session.partner] = false
	e.armTimerLocked(session)
	snap := session.snapshot()
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeActive, "")
	return nil
}

// UpdateOffer replaces the participant's offer with a normalized copy of the
// submitted entries. Any offer change invalidates prior agreement, so both
// confirmation flags reset.
func (e *TradeEngine) UpdateOffer(ctx context.Context, actorID, tradeID string, items []domain.OfferEntry) error {
	e.mu.Lock()
	session, err := e.activeSessionLocked(actorID, tradeID)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	session.offers[actorID] = e.normalizeOffer(items)
	session.confirmed[session.initiator] = false
	session.confirmed[session.partner] = false
	e.armTimerLocked(session)
	snap := session.snapshot()
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeUpdate, "")
	return nil
}

// Confirm marks the participant's agreement with the current offers. When both
// sides are confirmed the trade finalizes immediately. Confirming twice is a
// silent no-op.
func (e *TradeEngine) Confirm(ctx context.Context, actorID, tradeID string) error {
	e.mu.Lock()
	session, err := e.activeSessionLocked(actorID, tradeID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if session.confirmed[actorID] {
		e.mu.Unlock()
		return nil
	}

	session.confirmed[actorID] = true
	e.armTimerLocked(session)
	both := session.confirmed[session.initiator] && session.confirmed[session.partner]
	if both {
		session.finalizing = true
	}
	snap := session.snapshot()
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeUpdate, "")
	if both {
		e.finalize(ctx, session)
	}
	return nil
}

// Unconfirm clears the participant's confirmation. Clearing an already-clear
// flag is a silent no-op.
func (e *TradeEngine) Unconfirm(ctx context.Context, actorID, tradeID string) error {
	e.mu.Lock()
	session, err := e.activeSessionLocked(actorID, tradeID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !session.confirmed[actorID] {
		e.mu.Unlock()
		return nil
	}

	session.confirmed[actorID] = false
	snap := session.snapshot()
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeUpdate, "")
	return nil
}

// Cancel terminates any non-terminal trade the actor participates in.
func (e *TradeEngine) Cancel(ctx context.Context, actorID, tradeID string) error {
	e.mu.Lock()
	session, ok := e.trades[tradeID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrTradeNotFound
	}
	if !session.isParticipant(actorID) {
		e.mu.Unlock()
		return domain.ErrNotParticipant
	}
	if session.status.Terminal() || session.finalizing {
		e.mu.Unlock()
		return fmt.Errorf("%w: trade is %s", domain.ErrInvalidState, session.status)
	}

	snap := e.terminateLocked(session, domain.TradeReasonCancelled)
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeCancelled, domain.TradeReasonCancelled)
	return nil
}

// Shutdown clears every live timer and drops all sessions.
func (e *TradeEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, session := range e.trades {
		if session.timer != nil {
			session.timer.Stop()
			session.timer = nil
		}
		delete(e.trades, id)
	}
}

// activeSessionLocked resolves a trade the actor may act on in the active
// state. Caller holds e.mu.
func (e *TradeEngine) activeSessionLocked(actorID, tradeID string) (*tradeSession, error) {
	session, ok := e.trades[tradeID]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	if !session.isParticipant(actorID) {
		return nil, domain.ErrNotParticipant
	}
	if session.status != domain.TradeActive || session.finalizing {
		return nil, fmt.Errorf("%w: trade is %s", domain.ErrInvalidState, session.status)
	}
	return session, nil
}

// armTimerLocked replaces the session's inactivity timer. Caller holds e.mu.
func (e *TradeEngine) armTimerLocked(session *tradeSession) {
	if session.timer != nil {
		session.timer.Stop()
	}
	session.expiresAt = time.Now().Add(e.cfg.Timeout)
	tradeID := session.id
	session.timer = time.AfterFunc(e.cfg.Timeout, func() {
		e.expire(tradeID)
	})
}

// terminateLocked moves the session to cancelled, clears its timer and removes
// it from the live set. Caller holds e.mu.
func (e *TradeEngine) terminateLocked(session *tradeSession, reason string) domain.TradeSnapshot {
	session.status = domain.TradeCancelled
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
	delete(e.trades, session.id)
	e.log.Info("Trade cancelled", "trade_id", session.id, "reason", reason)
	return session.snapshot()
}

// expire fires when the inactivity window elapses. A fired timer must never
// act on an already-terminal or finalizing session.
func (e *TradeEngine) expire(tradeID string) {
	e.mu.Lock()
	session, ok := e.trades[tradeID]
	if !ok || session.status.Terminal() || session.finalizing {
		e.mu.Unlock()
		return
	}
	snap := e.terminateLocked(session, domain.TradeReasonTimeout)
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeCancelled, domain.TradeReasonTimeout)
}

// normalizeOffer merges duplicate item ids by summing quantities, drops
// non-positive entries, clamps quantities and caps the entry count.
func (e *TradeEngine) normalizeOffer(items []domain.OfferEntry) []domain.OfferEntry {
	merged := make(map[string]int)
	var order []string
	for _, item := range items {
		if item.ItemID == "" || item.Quantity <= 0 {
			continue
		}
		if _, seen := merged[item.ItemID]; !seen {
			order = append(order, item.ItemID)
		}
		merged[item.ItemID] += item.Quantity
	}

	normalized := make([]domain.OfferEntry, 0, len(order))
	for _, itemID := range order {
		quantity := merged[itemID]
		if quantity > e.cfg.MaxQuantity {
			quantity = e.cfg.MaxQuantity
		}
		normalized = append(normalized, domain.OfferEntry{ItemID: itemID, Quantity: quantity})
		if len(normalized) == e.cfg.MaxOfferEntries {
			break
		}
	}
	return normalized
}

// campaignLock returns the mutex serializing finalize operations per campaign,
// so two trades touching the same document cannot interleave their
// read-modify-write cycles.
func (e *TradeEngine) campaignLock(campaignID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()

	lock, ok := e.campaignLocks[campaignID]
	if !ok {
		lock = &sync.Mutex{}
		e.campaignLocks[campaignID] = lock
	}
	return lock
}

// finalize re-reads the authoritative campaign document, re-validates every
// offered item against current inventories, and performs the transfer in one
// read-modify-persist cycle. Any failed check aborts with no mutation applied.
func (e *TradeEngine) finalize(ctx context.Context, session *tradeSession) {
	lock := e.campaignLock(session.campaignID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	live, ok := e.trades[session.id]
	if !ok || live != session || !session.finalizing || session.status != domain.TradeActive {
		e.mu.Unlock()
		return
	}
	offers := map[string][]domain.OfferEntry{
		session.initiator: append([]domain.OfferEntry(nil), session.offers[session.initiator]...),
		session.partner:   append([]domain.OfferEntry(nil), session.offers[session.partner]...),
	}
	e.mu.Unlock()

	campaign, err := e.store.GetCampaign(ctx, session.campaignID)
	if err != nil {
		e.failFinalize(session, "campaign unavailable")
		return
	}

	// Validate everything before touching anything.
	for giver, entries := range offers {
		for _, entry := range entries {
			if available := countItem(campaign.Inventory(giver), entry.ItemID); available < entry.Quantity {
				e.failFinalize(session, fmt.Sprintf("%s no longer has %dx %s", giver, entry.Quantity, entry.ItemID))
				return
			}
		}
	}

	// Remove from both givers first so received stacks are never consumed by
	// the opposite direction of the same trade.
	type transfer struct {
		receiver string
		itemID   string
		name     string
		quantity int
	}
	var transfers []transfer
	for giver, entries := range offers {
		receiver := session.partner
		if giver == session.partner {
			receiver = session.initiator
		}
		for _, entry := range entries {
			name := removeItem(campaign, giver, entry.ItemID, entry.Quantity)
			transfers = append(transfers, transfer{
				receiver: receiver,
				itemID:   entry.ItemID,
				name:     name,
				quantity: entry.Quantity,
			})
		}
	}

	if campaign.Inventories == nil {
		campaign.Inventories = make(map[string][]domain.InventoryEntry)
	}
	for _, t := range transfers {
		campaign.Inventories[t.receiver] = append(campaign.Inventories[t.receiver], domain.InventoryEntry{
			ID:       utils.GenerateID("entry"),
			ItemID:   t.itemID,
			Name:     t.name,
			Quantity: t.quantity,
		})
	}
	campaign.UpdatedAt = time.Now()

	// One persist covers both directions; trade:completed below replaces the
	// generic update event.
	if err := e.store.Persist(ctx, campaign, domain.PersistOptions{
		Reason:    "trade:" + session.id,
		Broadcast: false,
	}); err != nil {
		e.failFinalize(session, "failed to persist trade")
		return
	}

	e.mu.Lock()
	session.status = domain.TradeCompleted
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
	delete(e.trades, session.id)
	snap := session.snapshot()
	e.mu.Unlock()

	e.log.Info("Trade completed", "trade_id", snap.ID, "campaign_id", snap.CampaignID)

	event := domain.TradeEvent{Type: domain.EventTradeCompleted, Trade: snap}
	for _, userID := range []string{snap.Initiator, snap.Partner} {
		e.hub.NotifyUserWhere(userID, event, func(conn domain.Conn) bool {
			return e.hub.Subscribed(conn, domain.ChannelTrade, snap.CampaignID)
		})
	}
}

func (e *TradeEngine) failFinalize(session *tradeSession, reason string) {
	e.mu.Lock()
	if _, ok := e.trades[session.id]; !ok {
		e.mu.Unlock()
		return
	}
	snap := e.terminateLocked(session, reason)
	e.mu.Unlock()

	e.notifyBoth(snap, domain.EventTradeCancelled, reason)
}

func (e *TradeEngine) notifyBoth(snap domain.TradeSnapshot, eventType, reason string) {
	event := domain.TradeEvent{Type: eventType, Trade: snap, Reason: reason}
	e.hub.NotifyUser(snap.Initiator, event)
	e.hub.NotifyUser(snap.Partner, event)
}

// countItem sums the available quantity of one item across all stacks.
func countItem(inventory []domain.InventoryEntry, itemID string) int {
	total := 0
	for _, entry := range inventory {
		if entry.ItemID == itemID {
			total += entry.Quantity
		}
	}
	return total
}

// removeItem consumes quantity of the item across the giver's stacks, removing
// fully-consumed stacks and preserving the remainder of a split stack. Returns
// the item's display name. Callers have already validated availability.
func removeItem(campaign *domain.Campaign, giver, itemID string, quantity int) string {
	inventory := campaign.Inventory(giver)
	name := itemID
	remaining := quantity

	kept := inventory[:0]
	for _, entry := range inventory {
		if entry.ItemID != itemID || remaining == 0 {
			kept = append(kept, entry)
			continue
		}
		if entry.Name != "" {
			name = entry.Name
		}
		if entry.Quantity > remaining {
			entry.Quantity -= remaining
			remaining = 0
			kept = append(kept, entry)
		} else {
			remaining -= entry.Quantity
			// Stack fully consumed; dropped.
		}
	}
	campaign.Inventories[giver] = kept
	return name
}
