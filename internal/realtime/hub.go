package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// WSMessage is the WebSocket message envelope. Ref correlates a client
// request with its ack; broadcasts carry no Ref.
type WSMessage struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceEntry is one live connection's presence in a channel room.
type PresenceEntry struct {
	ConnID   string    `json:"conn_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// Hub is the room/presence registry: channel id -> set of live connections,
// plus a private per-user room for out-of-band notifications. It is
// constructed once per process and injected; mutation from any connection
// goroutine is safe.
type Hub struct {
	mu sync.RWMutex
	// channelID -> connID -> client
	rooms map[uuid.UUID]map[string]*Client
	// userID -> connID -> client (auto-subscribed on connect)
	users  map[uuid.UUID]map[string]*Client
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		users:  make(map[uuid.UUID]map[string]*Client),
		logger: logger,
	}
}

// RegisterConn subscribes an authenticated connection to its per-user room.
func (h *Hub) RegisterConn(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// UnregisterConn removes a connection from its per-user room and from every
// channel room it joined, returning the channel ids it was removed from.
// Idempotent: a second call returns nothing and mutates nothing.
func (h *Hub) UnregisterConn(c *Client) []uuid.UUID {
	h.mu.Lock()
	var left []uuid.UUID
	for channelID := range c.rooms {
		if m, ok := h.rooms[channelID]; ok {
			if _, in := m[c.ID]; in {
				delete(m, c.ID)
				if len(m) == 0 {
					delete(h.rooms, channelID)
				}
				left = append(left, channelID)
			}
		}
	}
	c.rooms = make(map[uuid.UUID]struct{})
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()
	if len(left) > 0 {
		h.logger.Debug("connection left rooms", zap.String("conn_id", c.ID), zap.Int("rooms", len(left)))
	}
	return left
}

// JoinRoom adds a connection to a channel room.
func (h *Hub) JoinRoom(channelID uuid.UUID, c *Client) {
	h.mu.Lock()
	if h.rooms[channelID] == nil {
		h.rooms[channelID] = make(map[string]*Client)
	}
	h.rooms[channelID][c.ID] = c
	c.rooms[channelID] = struct{}{}
	h.mu.Unlock()
}

// LeaveRoom removes a connection from a channel room. Returns false if the
// connection was not in the room.
func (h *Hub) LeaveRoom(channelID uuid.UUID, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.rooms[channelID]
	if !ok {
		return false
	}
	if _, in := m[c.ID]; !in {
		return false
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.rooms, channelID)
	}
	delete(c.rooms, channelID)
	return true
}

// InRoom reports whether a connection is currently in a channel room.
func (h *Hub) InRoom(channelID uuid.UUID, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, in := h.rooms[channelID][c.ID]
	return in
}

// BroadcastToChannel sends an event to all connections in a channel room.
func (h *Hub) BroadcastToChannel(channelID uuid.UUID, event string, payload interface{}) {
	h.broadcast(channelID, "", event, payload)
}

// BroadcastToChannelExcept sends an event to all connections in a channel
// room except the given connection.
func (h *Hub) BroadcastToChannelExcept(channelID uuid.UUID, exceptConnID, event string, payload interface{}) {
	h.broadcast(channelID, exceptConnID, event, payload)
}

func (h *Hub) broadcast(channelID uuid.UUID, exceptConnID, event string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		h.logger.Warn("marshal broadcast payload", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[channelID]))
	for _, c := range h.rooms[channelID] {
		if c.ID != exceptConnID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// SendToUser sends an event to every live connection of a user, independent
// of channel rooms. Used for out-of-band notifications.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		h.logger.Warn("marshal user payload", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Presence returns the live presence set of a channel room.
func (h *Hub) Presence(channelID uuid.UUID) []PresenceEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := make([]PresenceEntry, 0, len(h.rooms[channelID]))
	for _, c := range h.rooms[channelID] {
		entries = append(entries, PresenceEntry{ConnID: c.ID, UserID: c.UserID, Username: c.Username})
	}
	return entries
}

// RoomCount returns the number of connections in a channel room.
func (h *Hub) RoomCount(channelID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelID])
}

// Shutdown closes every live connection. Best-effort, used on process exit.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var clients []*Client
	for _, m := range h.users {
		for _, c := range m {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
