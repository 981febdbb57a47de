// Package websocket is the acpchat realtime gateway: clients send request
// frames that are dispatched by action, and subscribe to rooms or ACP
// sessions to receive their bus events.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/events/bus"
	ws "github.com/kandev/acpchat/pkg/websocket"
)

// Hub manages all WebSocket client connections and their bus subscriptions.
type Hub struct {
	bus        bus.EventBus
	dispatcher *ws.Dispatcher

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(eventBus bus.EventBus, dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		bus:        eventBus,
		dispatcher: dispatcher,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes registrations until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		client.close()
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// Register adds a client to the hub. After Run returns the client is
// closed straight away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client and drops its subscriptions.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

// Subscribe forwards every bus event matching subject to the client.
// Subscribing twice to the same subject is a no-op.
func (h *Hub) Subscribe(client *Client, subject string) error {
	if client.hasSubscription(subject) {
		return nil
	}
	sub, err := h.bus.Subscribe(subject, func(_ context.Context, event *bus.Event) error {
		h.push(client, subject, event)
		return nil
	})
	if err != nil {
		return err
	}
	if !client.addSubscription(subject, sub) {
		_ = sub.Unsubscribe()
	}
	h.logger.Debug("Client subscribed",
		zap.String("client_id", client.ID),
		zap.String("subject", subject))
	return nil
}

// Unsubscribe stops forwarding subject to the client.
func (h *Hub) Unsubscribe(client *Client, subject string) {
	client.removeSubscription(subject)
}

func (h *Hub) push(client *Client, subject string, event *bus.Event) {
	msg, err := ws.NewNotification(ws.ActionEvent, ws.EventPayload{Subject: subject, Event: event})
	if err != nil {
		h.logger.Error("Failed to build event notification", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal event notification", zap.Error(err))
		return
	}
	client.enqueue(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
