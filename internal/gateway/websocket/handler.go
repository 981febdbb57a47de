package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/events/bus"
	ws "github.com/kandev/acpchat/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// acpchat listens on loopback by default; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket clients.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades the request and serves the client until it
// disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// Gateway bundles the hub, the action dispatcher and the upgrade handler.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
}

// NewGateway creates a gateway whose subscriptions read from eventBus.
func NewGateway(eventBus bus.EventBus, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(eventBus, dispatcher, log)

	dispatcher.RegisterFunc(ws.ActionHealthCheck, func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]any{
			"status":  "ok",
			"service": "acpchat",
			"clients": hub.ClientCount(),
		})
	})

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, log),
	}
}

// SetupRoutes adds the WebSocket route to the router.
func (g *Gateway) SetupRoutes(router gin.IRoutes) {
	router.GET("/ws", g.Handler.HandleConnection)
}
