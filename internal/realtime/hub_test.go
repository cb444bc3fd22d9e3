package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID uuid.UUID, username string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		send:     make(chan WSMessage, 16),
		rooms:    make(map[uuid.UUID]struct{}),
	}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestJoinAndBroadcast(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()

	alice := newTestClient(uuid.New(), "alice")
	bob := newTestClient(uuid.New(), "bob")
	carol := newTestClient(uuid.New(), "carol")

	hub.JoinRoom(channelID, alice)
	hub.JoinRoom(channelID, bob)
	// carol never joins

	hub.BroadcastToChannel(channelID, "new-message", map[string]string{"content": "hi"})

	aliceMsgs := drain(alice)
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, "new-message", aliceMsgs[0].Event)
	assert.Empty(t, aliceMsgs[0].Ref)
	assert.Len(t, drain(bob), 1)
	assert.Empty(t, drain(carol))
}

func TestBroadcastExcept(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()

	alice := newTestClient(uuid.New(), "alice")
	bob := newTestClient(uuid.New(), "bob")
	hub.JoinRoom(channelID, alice)
	hub.JoinRoom(channelID, bob)

	hub.BroadcastToChannelExcept(channelID, alice.ID, "user-typing", nil)

	assert.Empty(t, drain(alice))
	assert.Len(t, drain(bob), 1)
}

func TestLeaveRoom(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()
	alice := newTestClient(uuid.New(), "alice")

	assert.False(t, hub.LeaveRoom(channelID, alice), "leaving a room never joined")

	hub.JoinRoom(channelID, alice)
	assert.True(t, hub.InRoom(channelID, alice))
	assert.True(t, hub.LeaveRoom(channelID, alice))
	assert.False(t, hub.InRoom(channelID, alice))
	assert.False(t, hub.LeaveRoom(channelID, alice), "second leave is a no-op")
	assert.Zero(t, hub.RoomCount(channelID))
}

func TestUnregisterConnIdempotent(t *testing.T) {
	hub := NewHub(nil)
	ch1 := uuid.New()
	ch2 := uuid.New()
	alice := newTestClient(uuid.New(), "alice")

	hub.RegisterConn(alice)
	hub.JoinRoom(ch1, alice)
	hub.JoinRoom(ch2, alice)

	left := hub.UnregisterConn(alice)
	assert.ElementsMatch(t, []uuid.UUID{ch1, ch2}, left)
	assert.Zero(t, hub.RoomCount(ch1))
	assert.Zero(t, hub.RoomCount(ch2))

	// second disconnect for the same connection mutates nothing
	assert.Empty(t, hub.UnregisterConn(alice))
}

func TestUnregisterLeavesOtherConnsAlone(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()
	userID := uuid.New()

	// same user on two devices
	laptop := newTestClient(userID, "alice")
	phone := newTestClient(userID, "alice")
	hub.RegisterConn(laptop)
	hub.RegisterConn(phone)
	hub.JoinRoom(channelID, laptop)
	hub.JoinRoom(channelID, phone)

	hub.UnregisterConn(laptop)

	assert.Equal(t, 1, hub.RoomCount(channelID))
	hub.SendToUser(userID, "notification", nil)
	assert.Empty(t, drain(laptop))
	assert.Len(t, drain(phone), 1)
}

func TestPresence(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()

	alice := newTestClient(uuid.New(), "alice")
	bob := newTestClient(uuid.New(), "bob")
	hub.JoinRoom(channelID, alice)
	hub.JoinRoom(channelID, bob)

	entries := hub.Presence(channelID)
	require.Len(t, entries, 2)
	names := []string{entries[0].Username, entries[1].Username}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
	for _, e := range entries {
		assert.NotEmpty(t, e.ConnID)
	}

	assert.Empty(t, hub.Presence(uuid.New()), "empty room has empty presence")
}

func TestSendToUserAllConnections(t *testing.T) {
	hub := NewHub(nil)
	userID := uuid.New()

	laptop := newTestClient(userID, "alice")
	phone := newTestClient(userID, "alice")
	hub.RegisterConn(laptop)
	hub.RegisterConn(phone)

	hub.SendToUser(userID, "notification", map[string]string{"event": "member-added"})

	assert.Len(t, drain(laptop), 1)
	assert.Len(t, drain(phone), 1)
	assert.Empty(t, drain(newTestClient(uuid.New(), "eve")))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	hub := NewHub(nil)
	channelID := uuid.New()

	slow := newTestClient(uuid.New(), "slow")
	slow.send = make(chan WSMessage, 1)
	hub.JoinRoom(channelID, slow)

	hub.BroadcastToChannel(channelID, "new-message", nil)
	hub.BroadcastToChannel(channelID, "new-message", nil)

	assert.Len(t, drain(slow), 1, "overflow is dropped, not blocked on")
}
