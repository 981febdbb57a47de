package handlers

import "github.com/kandev/acpchat/internal/chat"

// DefaultSender is used for messages posted without a sender.
const DefaultSender = "user"

type PostMessageRequest struct {
	Body        string   `json:"body"`
	Sender      string   `json:"sender,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type PostMessageResponse struct {
	Message  chat.Message `json:"message"`
	RoutedTo []string     `json:"routed_to"`
}

type ResolvePermissionRequest struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	OptionID   string `json:"option_id"`
}

type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SlashCommandsResponse struct {
	Commands []SlashCommand `json:"commands"`
}

type PersonaInfo struct {
	AgentType   string `json:"agent_type"`
	DisplayName string `json:"display_name"`
	MentionName string `json:"mention_name"`
	SessionID   string `json:"session_id,omitempty"`
	Composing   bool   `json:"composing"`
	Default     bool   `json:"default"`
}

// wsRoomRequest is the payload of room-scoped WebSocket actions.
type wsRoomRequest struct {
	RoomID  string `json:"room_id"`
	Mention string `json:"mention,omitempty"`
	PostMessageRequest
}
