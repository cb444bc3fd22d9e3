package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/access"
	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Authenticator resolves a bearer token to a user. A non-nil error is fatal
// to the handshake: the connection is rejected before any event is processed.
type Authenticator func(ctx context.Context, token string) (userID uuid.UUID, username string, err error)

// Authorizer is the slice of the access engine the session layer uses on join.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, userID, channelID uuid.UUID) (*access.ChannelView, error)
}

// MessageSender persists and broadcasts a message. Implemented by the channel
// service, which re-authorizes on every send; room membership is never
// treated as proof of authorization.
type MessageSender interface {
	CreateMessage(ctx context.Context, channelID, userID uuid.UUID, content, attachmentRef string) (*models.Message, error)
}

// Client represents a single authenticated WebSocket connection.
type Client struct {
	ID       string
	UserID   uuid.UUID
	Username string

	hub    *Hub
	engine Authorizer
	sender MessageSender
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger

	// rooms is the set of channel rooms this connection joined.
	// Guarded by hub.mu.
	rooms map[uuid.UUID]struct{}

	closeOnce sync.Once
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The bearer
// token comes from the Authorization header, the token query parameter, or
// the auth_token cookie; a missing or invalid token rejects the connection.
func ServeWs(hub *Hub, engine Authorizer, sender MessageSender, authenticate Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		userID, username, err := authenticate(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			UserID:   userID,
			Username: username,
			hub:      hub,
			engine:   engine,
			sender:   sender,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
			rooms:    make(map[uuid.UUID]struct{}),
		}
		hub.RegisterConn(client)
		go client.writePump()
		client.readPump()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	if t, err := c.Cookie("auth_token"); err == nil {
		return t
	}
	return ""
}

type channelRef struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

type sendPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Content   string    `json:"content"`
}

// readPump processes inbound events sequentially: one event per connection at
// a time, while other connections progress on their own goroutines.
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(16384)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleEvent(msg)
	}
}

func (c *Client) handleEvent(msg WSMessage) {
	ctx := context.Background()
	switch msg.Event {
	case "join-channel":
		var p channelRef
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.ChannelID == uuid.Nil {
			c.nack(msg.Ref, "channel_id required")
			return
		}
		view, err := c.engine.AuthorizeChannel(ctx, c.UserID, p.ChannelID)
		if err != nil {
			c.nack(msg.Ref, declineMessage(err))
			return
		}
		c.hub.JoinRoom(p.ChannelID, c)
		c.hub.BroadcastToChannelExcept(p.ChannelID, c.ID, "user-joined", gin.H{
			"channel_id": p.ChannelID, "user_id": c.UserID, "username": c.Username,
		})
		c.ack(msg.Ref, gin.H{"success": true, "channel": view.Channel})

	case "leave-channel":
		var p channelRef
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.ChannelID == uuid.Nil {
			c.nack(msg.Ref, "channel_id required")
			return
		}
		if c.hub.LeaveRoom(p.ChannelID, c) {
			c.hub.BroadcastToChannel(p.ChannelID, "user-left", gin.H{
				"channel_id": p.ChannelID, "user_id": c.UserID, "username": c.Username,
			})
		}
		c.ack(msg.Ref, gin.H{"success": true})

	case "send-message":
		var p sendPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.ChannelID == uuid.Nil {
			c.nack(msg.Ref, "channel_id required")
			return
		}
		// The service broadcasts new-message to the room (sender included)
		// once the store confirms the write.
		created, err := c.sender.CreateMessage(ctx, p.ChannelID, c.UserID, p.Content, "")
		if err != nil {
			c.nack(msg.Ref, declineMessage(err))
			return
		}
		c.ack(msg.Ref, gin.H{"success": true, "message": created})

	case "typing-start", "typing-stop":
		var p channelRef
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.ChannelID == uuid.Nil {
			return
		}
		if !c.hub.InRoom(p.ChannelID, c) {
			return
		}
		event := "user-typing"
		if msg.Event == "typing-stop" {
			event = "user-stopped-typing"
		}
		c.hub.BroadcastToChannelExcept(p.ChannelID, c.ID, event, gin.H{
			"channel_id": p.ChannelID, "user_id": c.UserID, "username": c.Username,
		})

	default:
		// ignore
	}
}

// disconnect removes the connection from every room it joined, broadcasting
// user-left once per room. Safe to call repeatedly.
func (c *Client) disconnect() {
	left := c.hub.UnregisterConn(c)
	for _, channelID := range left {
		c.hub.BroadcastToChannel(channelID, "user-left", gin.H{
			"channel_id": channelID, "user_id": c.UserID, "username": c.Username,
		})
	}
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// ack sends the single deterministic reply for a client request.
func (c *Client) ack(ref string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	c.enqueue(WSMessage{Event: "ack", Ref: ref, Data: raw})
}

func (c *Client) nack(ref, errMsg string) {
	c.ack(ref, gin.H{"success": false, "error": errMsg})
}

// declineMessage collapses not-found and access-denied into one message so
// channel existence is never confirmed to unauthorized callers.
func declineMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrAccessDenied):
		return "channel not found or access denied"
	case errors.Is(err, apperr.ErrValidation):
		return err.Error()
	default:
		return "internal error"
	}
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		// buffer full, drop; live delivery is at-most-once
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
