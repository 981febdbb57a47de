package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
	ws "github.com/kandev/acpchat/pkg/websocket"
)

// Handlers adapts the Controller to gin and to the WebSocket dispatcher.
type Handlers struct {
	ctrl   *Controller
	logger *logger.Logger
}

func NewHandlers(ctrl *Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		ctrl:   ctrl,
		logger: log.WithFields(zap.String("component", "chat-handlers")),
	}
}

// RegisterRoutes registers the HTTP routes under /api/v1 and the matching
// WebSocket actions.
func RegisterRoutes(router gin.IRouter, dispatcher *ws.Dispatcher, ctrl *Controller, log *logger.Logger) {
	h := NewHandlers(ctrl, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *Handlers) registerHTTP(router gin.IRouter) {
	api := router.Group("/api/v1")
	api.GET("/rooms/:room/messages", h.httpListMessages)
	api.POST("/rooms/:room/messages", h.httpPostMessage)
	api.POST("/rooms/:room/attachments", h.httpAddAttachment)
	api.GET("/rooms/:room/personas", h.httpListPersonas)
	api.GET("/rooms/:room/slash-commands", h.httpSlashCommands)
	api.POST("/permissions/resolve", h.httpResolvePermission)
	api.GET("/sessions/:session/tool-calls", h.httpToolCalls)
}

func (h *Handlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionMessageSend, h.wsSendMessage)
	dispatcher.RegisterFunc(ws.ActionMessageList, h.wsListMessages)
	dispatcher.RegisterFunc(ws.ActionPersonaList, h.wsListPersonas)
	dispatcher.RegisterFunc(ws.ActionSlashCommandsList, h.wsSlashCommands)
	dispatcher.RegisterFunc(ws.ActionPermissionResolve, h.wsResolvePermission)
}

// httpError writes err with the status its kind maps to.
func (h *Handlers) httpError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("failed to "+op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}

func wsError(msg *ws.Message, op string, err error) (*ws.Message, error) {
	switch {
	case errors.Is(err, ErrValidation):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	default:
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to "+op, nil)
	}
}

// HTTP handlers

func (h *Handlers) httpListMessages(c *gin.Context) {
	msgs, err := h.ctrl.ListMessages(c.Request.Context(), c.Param("room"))
	if err != nil {
		h.httpError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handlers) httpPostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.ctrl.PostMessage(c.Request.Context(), c.Param("room"), req)
	if err != nil {
		h.httpError(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) httpAddAttachment(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.ctrl.AddAttachment(c.Request.Context(), c.Param("room"), raw)
	if err != nil {
		h.httpError(c, "add attachment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) httpListPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": h.ctrl.Personas(c.Param("room"))})
}

func (h *Handlers) httpSlashCommands(c *gin.Context) {
	cmds, err := h.ctrl.SlashCommands(c.Param("room"), c.Query("mention"))
	if err != nil {
		h.httpError(c, "list slash commands", err)
		return
	}
	c.JSON(http.StatusOK, SlashCommandsResponse{Commands: cmds})
}

func (h *Handlers) httpResolvePermission(c *gin.Context) {
	var req ResolvePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.ctrl.ResolvePermission(req); err != nil {
		h.httpError(c, "resolve permission", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (h *Handlers) httpToolCalls(c *gin.Context) {
	calls, err := h.ctrl.ToolCalls(c.Param("session"))
	if err != nil {
		h.httpError(c, "list tool calls", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_calls": calls})
}

// WS handlers

func parseRoomRequest(msg *ws.Message) (wsRoomRequest, *ws.Message, error) {
	var req wsRoomRequest
	if err := msg.ParsePayload(&req); err != nil {
		resp, rerr := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return req, resp, rerr
	}
	if req.RoomID == "" {
		resp, rerr := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "room_id is required", nil)
		return req, resp, rerr
	}
	return req, nil, nil
}

func (h *Handlers) wsSendMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp, err := parseRoomRequest(msg)
	if errResp != nil || err != nil {
		return errResp, err
	}
	resp, err := h.ctrl.PostMessage(ctx, req.RoomID, req.PostMessageRequest)
	if err != nil {
		return wsError(msg, "post message", err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp, err := parseRoomRequest(msg)
	if errResp != nil || err != nil {
		return errResp, err
	}
	msgs, err := h.ctrl.ListMessages(ctx, req.RoomID)
	if err != nil {
		return wsError(msg, "list messages", err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"messages": msgs})
}

func (h *Handlers) wsListPersonas(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp, err := parseRoomRequest(msg)
	if errResp != nil || err != nil {
		return errResp, err
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"personas": h.ctrl.Personas(req.RoomID)})
}

func (h *Handlers) wsSlashCommands(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp, err := parseRoomRequest(msg)
	if errResp != nil || err != nil {
		return errResp, err
	}
	cmds, err := h.ctrl.SlashCommands(req.RoomID, req.Mention)
	if err != nil {
		return wsError(msg, "list slash commands", err)
	}
	return ws.NewResponse(msg.ID, msg.Action, SlashCommandsResponse{Commands: cmds})
}

func (h *Handlers) wsResolvePermission(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req ResolvePermissionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.ctrl.ResolvePermission(req); err != nil {
		return wsError(msg, "resolve permission", err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"resolved": true})
}
