package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/events/bus"
	ws "github.com/kandev/acpchat/pkg/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	sendBuffer = 256
)

// Client represents a single WebSocket connection
type Client struct {
	ID     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *logger.Logger

	mu            sync.Mutex
	subscriptions map[string]bus.Subscription
	closed        bool
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bus.Subscription),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump reads request frames until the connection fails.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Error("Failed to parse message", zap.Error(err))
			c.sendError("", "", ws.ErrorCodeBadRequest, "Invalid message format")
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("Received message",
		zap.String("action", msg.Action),
		zap.String("id", msg.ID))

	// Subscriptions need the client, everything else goes to the dispatcher.
	switch msg.Action {
	case ws.ActionRoomSubscribe, ws.ActionRoomUnsubscribe,
		ws.ActionSessionSubscribe, ws.ActionSessionUnsubscribe:
		c.handleSubscription(msg)
		return
	}

	response, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Error("Handler error",
			zap.String("action", msg.Action),
			zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error())
		return
	}
	if response != nil {
		c.sendMessage(response)
	}
}

// SubscribeRequest is the payload of the subscribe and unsubscribe actions.
type SubscribeRequest struct {
	RoomID    string `json:"room_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (c *Client) handleSubscription(msg *ws.Message) {
	var req SubscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error())
		return
	}

	var subject string
	switch msg.Action {
	case ws.ActionRoomSubscribe, ws.ActionRoomUnsubscribe:
		if req.RoomID == "" {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "room_id is required")
			return
		}
		subject = events.RoomWildcard(req.RoomID)
	default:
		if req.SessionID == "" {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required")
			return
		}
		subject = events.SessionWildcard(req.SessionID)
	}

	if msg.Action == ws.ActionRoomUnsubscribe || msg.Action == ws.ActionSessionUnsubscribe {
		c.hub.Unsubscribe(c, subject)
	} else if err := c.hub.Subscribe(c, subject); err != nil {
		c.logger.Error("Failed to subscribe", zap.String("subject", subject), zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to subscribe")
		return
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"success": true,
		"subject": subject,
	})
	c.sendMessage(resp)
}

func (c *Client) hasSubscription(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[subject]
	return ok
}

// addSubscription stores sub unless the client is gone or already has one.
func (c *Client) addSubscription(subject string, sub bus.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.subscriptions[subject]; dup || c.closed {
		return false
	}
	c.subscriptions[subject] = sub
	return true
}

func (c *Client) removeSubscription(subject string) {
	c.mu.Lock()
	sub, ok := c.subscriptions[subject]
	delete(c.subscriptions, subject)
	c.mu.Unlock()
	if ok {
		_ = sub.Unsubscribe()
	}
}

// close drops every subscription and ends WritePump. Safe to call twice.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subscriptions
	c.subscriptions = make(map[string]bus.Subscription)
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// enqueue hands a frame to WritePump, dropping it if the buffer is full.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

func (c *Client) sendMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(id, action, code, message string) {
	msg, err := ws.NewError(id, action, code, message, nil)
	if err != nil {
		c.logger.Error("Failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump writes queued frames, one per WebSocket message, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
