// Package gateway assembles the acpchat HTTP server: middleware, health,
// metrics, the WebSocket endpoint and the chat API.
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/acpchat/internal/common/httpmw"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/events/bus"
	"github.com/kandev/acpchat/internal/gateway/handlers"
	"github.com/kandev/acpchat/internal/gateway/websocket"
	"github.com/kandev/acpchat/internal/metrics"
)

const serverName = "acpchat"

// Options wires the router to the rest of the service. Metrics may be nil.
type Options struct {
	Bus        bus.EventBus
	Controller *handlers.Controller
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// New builds the router and the WebSocket gateway. The caller runs
// gateway.Hub.Run for the lifetime of the server.
func New(opts Options) (*gin.Engine, *websocket.Gateway) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.OtelTracing(serverName))
	router.Use(httpmw.RequestLogger(opts.Logger, serverName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serverName,
			"bus":     opts.Bus.IsConnected(),
		})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	gw := websocket.NewGateway(opts.Bus, opts.Logger)
	gw.SetupRoutes(router)
	handlers.RegisterRoutes(router, gw.Dispatcher, opts.Controller, opts.Logger)
	return router, gw
}
