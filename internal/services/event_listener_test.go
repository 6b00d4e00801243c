package services_test

import (
	"testing"
	"time"

	"campaign-session/internal/domain"
	wsocket "campaign-session/internal/infrastructure/websocket"
	"campaign-session/internal/services"
	"campaign-session/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newListenerFixture(t *testing.T) (*services.EventListener, *memStore, *fakeConn) {
	t.Helper()

	store := newMemStore()
	store.put(testCampaign())

	hub := wsocket.NewConnectionManager(logger.NewNop())
	conn := &fakeConn{userID: "alice"}
	hub.AddConnection("alice", conn)
	hub.Join(conn, domain.ChannelGame, "c1")
	hub.Join(conn, domain.ChannelStory, "c1")

	opts := services.DefaultRealtimeOptions()
	opts.StoryDebounce = 10 * time.Millisecond
	registry := services.NewRegistry(hub, store, &fakeChronicle{}, &fakeNarrative{}, opts, logger.NewNop())
	t.Cleanup(registry.Shutdown)

	return services.NewEventListener(registry, store, hub, logger.NewNop()), store, conn
}

func TestCampaignUpdatePushedToGameChannel(t *testing.T) {
	listener, _, conn := newListenerFixture(t)

	require.NoError(t, listener.Handle(&domain.ChangeEvent{
		Type:       domain.ChangeCampaignUpdated,
		CampaignID: "c1",
		Reason:     "trade:trade-1",
	}))

	updates := gameUpdates(conn)
	require.Len(t, updates, 1)
	assert.Equal(t, "c1", updates[0].Campaign.ID)
	assert.Equal(t, "trade:trade-1", updates[0].Reason)
}

func TestCampaignUpdateForMissingCampaignFails(t *testing.T) {
	listener, _, conn := newListenerFixture(t)

	err := listener.Handle(&domain.ChangeEvent{
		Type:       domain.ChangeCampaignUpdated,
		CampaignID: "missing",
	})
	assert.Error(t, err)
	assert.Empty(t, gameUpdates(conn))
}

func TestCampaignDeletedBroadcast(t *testing.T) {
	listener, _, conn := newListenerFixture(t)

	require.NoError(t, listener.Handle(&domain.ChangeEvent{
		Type:       domain.ChangeCampaignDeleted,
		CampaignID: "c1",
	}))

	var deleted []domain.GameDeletedEvent
	for _, raw := range conn.received() {
		if ev, ok := raw.(domain.GameDeletedEvent); ok {
			deleted = append(deleted, ev)
		}
	}
	require.Len(t, deleted, 1)
	assert.Equal(t, "c1", deleted[0].CampaignID)
}

func TestChronicleChangeQueuesStoryPush(t *testing.T) {
	listener, _, conn := newListenerFixture(t)

	require.NoError(t, listener.Handle(&domain.ChangeEvent{
		Type:       domain.ChangeChronicle,
		CampaignID: "c1",
	}))

	require.Eventually(t, func() bool {
		return len(conn.storyUpdates()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownChangeEventIgnored(t *testing.T) {
	listener, _, conn := newListenerFixture(t)

	require.NoError(t, listener.Handle(&domain.ChangeEvent{Type: "mystery", CampaignID: "c1"}))
	assert.Empty(t, conn.received())
}

func gameUpdates(c *fakeConn) []domain.GameUpdateEvent {
	var out []domain.GameUpdateEvent
	for _, raw := range c.received() {
		if ev, ok := raw.(domain.GameUpdateEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}
