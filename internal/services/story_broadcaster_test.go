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

func newStoryFixture(t *testing.T, chronicle *fakeChronicle, delay time.Duration) (*services.StoryBroadcaster, *fakeConn) {
	t.Helper()

	store := newMemStore()
	store.put(testCampaign())

	hub := wsocket.NewConnectionManager(logger.NewNop())
	reader := &fakeConn{userID: "alice"}
	hub.AddConnection("alice", reader)
	hub.Join(reader, domain.ChannelStory, "c1")

	broadcaster := services.NewStoryBroadcaster(hub, store, chronicle, delay, logger.NewNop())
	t.Cleanup(broadcaster.Shutdown)
	return broadcaster, reader
}

func TestQueueCoalescesBursts(t *testing.T) {
	chronicle := &fakeChronicle{
		status:   &domain.ChronicleStatus{CampaignID: "c1", Linked: true},
		messages: []domain.ChronicleMessage{{ID: "m1", Content: "the gate opens"}},
	}
	broadcaster, reader := newStoryFixture(t, chronicle, 30*time.Millisecond)

	broadcaster.Queue("c1", false)
	broadcaster.Queue("c1", false)
	broadcaster.Queue("c1", false)

	require.Eventually(t, func() bool {
		return len(reader.storyUpdates()) == 1
	}, time.Second, 5*time.Millisecond)

	// Nothing else arrives; the burst collapsed into one push.
	time.Sleep(60 * time.Millisecond)
	updates := reader.storyUpdates()
	require.Len(t, updates, 1)

	assert.Equal(t, "c1", updates[0].CampaignID)
	assert.True(t, updates[0].Status.Linked)
	require.Len(t, updates[0].Messages, 1)
	assert.Equal(t, "m1", updates[0].Messages[0].ID)
	assert.Equal(t, "chan-1", updates[0].Config.ChannelID)
	assert.Equal(t, "Moonlit Vale", updates[0].Config.Title)
}

func TestQueueImmediateSkipsDebounce(t *testing.T) {
	broadcaster, reader := newStoryFixture(t, &fakeChronicle{}, time.Hour)

	broadcaster.Queue("c1", true)

	require.Eventually(t, func() bool {
		return len(reader.storyUpdates()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPushWithoutChronicleData(t *testing.T) {
	broadcaster, reader := newStoryFixture(t, &fakeChronicle{}, 10*time.Millisecond)

	broadcaster.Queue("c1", false)

	require.Eventually(t, func() bool {
		return len(reader.storyUpdates()) == 1
	}, time.Second, 5*time.Millisecond)

	update := reader.storyUpdates()[0]
	assert.NotNil(t, update.Messages)
	assert.Empty(t, update.Messages)
	require.NotNil(t, update.Status)
	assert.False(t, update.Status.Linked)
}

func TestShutdownStopsPendingPush(t *testing.T) {
	broadcaster, reader := newStoryFixture(t, &fakeChronicle{}, 20*time.Millisecond)

	broadcaster.Queue("c1", false)
	broadcaster.Shutdown()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, reader.storyUpdates())
}
