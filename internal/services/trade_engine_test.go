package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"campaign-session/internal/domain"
	wsocket "campaign-session/internal/infrastructure/websocket"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:   "c1",
		Name: "Moonlit Vale",
		Members: []domain.Member{
			{UserID: "dm", DisplayName: "The DM", Role: domain.RoleDM},
			{UserID: "alice", DisplayName: "Alice", CharacterName: "Seren", Role: domain.RolePlayer},
			{UserID: "bob", DisplayName: "Bob", CharacterName: "Kael", Role: domain.RolePlayer},
		},
		Inventories: map[string][]domain.InventoryEntry{
			"alice": {{ID: "inv-1", ItemID: "potion", Name: "Potion", Quantity: 5}},
			"bob":   {{ID: "inv-2", ItemID: "ether", Name: "Ether", Quantity: 1}},
		},
		Story: domain.StoryConfig{ChannelID: "chan-1", Title: "Moonlit Vale"},
	}
}

type tradeFixture struct {
	engine *services.TradeEngine
	store  *memStore
	hub    *wsocket.ConnectionManager
	alice  *fakeConn
	bob    *fakeConn
}

func newTradeFixture(t *testing.T, cfg services.TradeConfig) *tradeFixture {
	t.Helper()

	store := newMemStore()
	store.put(testCampaign())

	hub := wsocket.NewConnectionManager(logger.NewNop())
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob"}
	hub.AddConnection("alice", alice)
	hub.AddConnection("bob", bob)
	hub.Join(alice, domain.ChannelTrade, "c1")
	hub.Join(bob, domain.ChannelTrade, "c1")

	engine := services.NewTradeEngine(store, hub, cfg, logger.NewNop())
	t.Cleanup(engine.Shutdown)

	return &tradeFixture{engine: engine, store: store, hub: hub, alice: alice, bob: bob}
}

// startActive opens a trade between alice and bob and accepts it.
func (f *tradeFixture) startActive(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	tradeID, err := f.engine.Start(ctx, "alice", "c1", "bob", "swap?")
	require.NoError(t, err)
	require.NoError(t, f.engine.Respond(ctx, "bob", tradeID, true))
	return tradeID
}

func TestTradeConservation(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.UpdateOffer(ctx, "alice", tradeID, []domain.OfferEntry{{ItemID: "potion", Quantity: 2}}))
	require.NoError(t, f.engine.UpdateOffer(ctx, "bob", tradeID, []domain.OfferEntry{{ItemID: "ether", Quantity: 1}}))
	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	require.NoError(t, f.engine.Confirm(ctx, "bob", tradeID))

	campaign := f.store.get("c1")

	// Alice keeps a split Potion stack and gains a fresh Ether entry.
	aliceInv := campaign.Inventory("alice")
	require.Len(t, aliceInv, 2)
	assert.Equal(t, "inv-1", aliceInv[0].ID)
	assert.Equal(t, "potion", aliceInv[0].ItemID)
	assert.Equal(t, 3, aliceInv[0].Quantity)
	assert.Equal(t, "ether", aliceInv[1].ItemID)
	assert.Equal(t, "Ether", aliceInv[1].Name)
	assert.Equal(t, 1, aliceInv[1].Quantity)
	assert.NotEqual(t, "inv-2", aliceInv[1].ID)

	// Bob's Ether stack is fully consumed; he gains a fresh Potion entry.
	bobInv := campaign.Inventory("bob")
	require.Len(t, bobInv, 1)
	assert.Equal(t, "potion", bobInv[0].ItemID)
	assert.Equal(t, "Potion", bobInv[0].Name)
	assert.Equal(t, 2, bobInv[0].Quantity)
	assert.NotEqual(t, "inv-1", bobInv[0].ID)

	// Both directions persisted in a single cycle.
	assert.Equal(t, 1, f.store.persistCount)
	assert.False(t, f.store.lastOpts.Broadcast)

	require.Len(t, f.alice.tradeEvents(domain.EventTradeCompleted), 1)
	require.Len(t, f.bob.tradeEvents(domain.EventTradeCompleted), 1)
	assert.Equal(t, domain.TradeCompleted, f.alice.tradeEvents(domain.EventTradeCompleted)[0].Trade.Status)
}

func TestTradeCompletedOnlyReachesTradeSubscribers(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	// Second socket of alice, not subscribed to the trade channel.
	lobby := &fakeConn{userID: "alice"}
	f.hub.AddConnection("alice", lobby)

	tradeID := f.startActive(t)
	require.NoError(t, f.engine.UpdateOffer(ctx, "alice", tradeID, []domain.OfferEntry{{ItemID: "potion", Quantity: 1}}))
	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	require.NoError(t, f.engine.Confirm(ctx, "bob", tradeID))

	assert.Len(t, f.alice.tradeEvents(domain.EventTradeCompleted), 1)
	assert.Empty(t, lobby.tradeEvents(domain.EventTradeCompleted))
}

func TestFinalizeAbortsWithoutMutationWhenInventoryShrank(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.UpdateOffer(ctx, "alice", tradeID, []domain.OfferEntry{{ItemID: "potion", Quantity: 4}}))
	require.NoError(t, f.engine.UpdateOffer(ctx, "bob", tradeID, []domain.OfferEntry{{ItemID: "ether", Quantity: 1}}))

	// Alice's stack shrinks behind the negotiation's back.
	campaign := f.store.get("c1")
	campaign.Inventories["alice"][0].Quantity = 1
	f.store.put(campaign)
	before := f.store.persistCount

	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	require.NoError(t, f.engine.Confirm(ctx, "bob", tradeID))

	cancelled := f.alice.tradeEvents(domain.EventTradeCancelled)
	require.Len(t, cancelled, 1)
	assert.Contains(t, cancelled[0].Reason, "potion")

	// No inventory on either side moved.
	after := f.store.get("c1")
	assert.Equal(t, 1, after.Inventory("alice")[0].Quantity)
	assert.Equal(t, 1, after.Inventory("bob")[0].Quantity)
	assert.Equal(t, before, f.store.persistCount)

	// The session is gone.
	err := f.engine.Confirm(ctx, "alice", tradeID)
	assert.True(t, errors.Is(err, domain.ErrTradeNotFound))
}

func TestUpdateOfferResetsBothConfirmations(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	updates := f.bob.tradeEvents(domain.EventTradeUpdate)
	require.NotEmpty(t, updates)
	assert.True(t, updates[len(updates)-1].Trade.Confirmed["alice"])

	require.NoError(t, f.engine.UpdateOffer(ctx, "bob", tradeID, []domain.OfferEntry{{ItemID: "ether", Quantity: 1}}))

	updates = f.bob.tradeEvents(domain.EventTradeUpdate)
	last := updates[len(updates)-1].Trade
	assert.False(t, last.Confirmed["alice"])
	assert.False(t, last.Confirmed["bob"])
}

func TestTradeTimeout(t *testing.T) {
	cfg := services.DefaultTradeConfig()
	cfg.Timeout = 30 * time.Millisecond
	f := newTradeFixture(t, cfg)

	_, err := f.engine.Start(context.Background(), "alice", "c1", "bob", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.alice.tradeEvents(domain.EventTradeCancelled)) == 1 &&
			len(f.bob.tradeEvents(domain.EventTradeCancelled)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.TradeReasonTimeout, f.alice.tradeEvents(domain.EventTradeCancelled)[0].Reason)
	assert.Equal(t, 0, f.store.persistCount)
}

func TestRespondDecline(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	tradeID, err := f.engine.Start(ctx, "alice", "c1", "bob", "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Respond(ctx, "bob", tradeID, false))

	cancelled := f.alice.tradeEvents(domain.EventTradeCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, domain.TradeReasonDeclined, cancelled[0].Reason)
}

func TestStartValidation(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	_, err := f.engine.Start(ctx, "alice", "c1", "alice", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))

	_, err = f.engine.Start(ctx, "alice", "c1", "dm", "")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.engine.Start(ctx, "alice", "c1", "stranger", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))

	_, err = f.engine.Start(ctx, "alice", "missing", "bob", "")
	assert.True(t, errors.Is(err, domain.ErrCampaignNotFound))
}

func TestStartRejectedWhileTradeOpen(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	_, err := f.engine.Start(ctx, "alice", "c1", "bob", "")
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, "alice", "c1", "bob", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestUnknownTradeRejected(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	assert.True(t, errors.Is(f.engine.Respond(ctx, "bob", "trade-missing", true), domain.ErrTradeNotFound))
	assert.True(t, errors.Is(f.engine.Confirm(ctx, "bob", "trade-missing"), domain.ErrTradeNotFound))
	assert.True(t, errors.Is(f.engine.Cancel(ctx, "bob", "trade-missing"), domain.ErrTradeNotFound))
}

func TestNonParticipantRejected(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	err := f.engine.Confirm(ctx, "dm", tradeID)
	assert.True(t, errors.Is(err, domain.ErrNotParticipant))
}

func TestOnlyInvitedPartnerMayRespond(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()

	tradeID, err := f.engine.Start(ctx, "alice", "c1", "bob", "")
	require.NoError(t, err)

	assert.True(t, errors.Is(f.engine.Respond(ctx, "alice", tradeID, true), domain.ErrForbidden))
}

func TestRespondAfterActiveRejected(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	tradeID := f.startActive(t)

	err := f.engine.Respond(context.Background(), "bob", tradeID, true)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestRedundantConfirmIsSilent(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	events := len(f.bob.tradeEvents(domain.EventTradeUpdate))

	require.NoError(t, f.engine.Confirm(ctx, "alice", tradeID))
	assert.Equal(t, events, len(f.bob.tradeEvents(domain.EventTradeUpdate)))
}

func TestOfferNormalizationMergesAndClamps(t *testing.T) {
	cfg := services.DefaultTradeConfig()
	cfg.MaxQuantity = 10
	cfg.MaxOfferEntries = 2
	f := newTradeFixture(t, cfg)
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.UpdateOffer(ctx, "alice", tradeID, []domain.OfferEntry{
		{ItemID: "potion", Quantity: 6},
		{ItemID: "potion", Quantity: 9},
		{ItemID: "bomb", Quantity: 0},
		{ItemID: "", Quantity: 3},
		{ItemID: "rope", Quantity: 1},
		{ItemID: "torch", Quantity: 1},
	}))

	updates := f.bob.tradeEvents(domain.EventTradeUpdate)
	offer := updates[len(updates)-1].Trade.Offers["alice"]
	require.Len(t, offer, 2)
	assert.Equal(t, domain.OfferEntry{ItemID: "potion", Quantity: 10}, offer[0])
	assert.Equal(t, domain.OfferEntry{ItemID: "rope", Quantity: 1}, offer[1])
}

func TestCancelRemovesSession(t *testing.T) {
	f := newTradeFixture(t, services.DefaultTradeConfig())
	ctx := context.Background()
	tradeID := f.startActive(t)

	require.NoError(t, f.engine.Cancel(ctx, "alice", tradeID))

	cancelled := f.bob.tradeEvents(domain.EventTradeCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, domain.TradeReasonCancelled, cancelled[0].Reason)

	err := f.engine.Cancel(ctx, "alice", tradeID)
	assert.True(t, errors.Is(err, domain.ErrTradeNotFound))
}
