// Package events names the events acpchat publishes and builds their subjects.
package events

import "strings"

// Turn lifecycle
const (
	TurnStarted   = "turn.started"
	TurnCompleted = "turn.completed"
	TurnFailed    = "turn.failed"
)

// Session lifecycle
const (
	SessionCreated          = "session.created"
	SessionClosed           = "session.closed"
	SessionCommandsUpdated  = "session.commands_updated"
	SessionToolCallsUpdated = "session.tool_calls_updated"
)

// Permissions
const (
	PermissionRequested    = "permission.requested"
	PermissionResolved     = "permission.resolved"
	PermissionAutoRejected = "permission.auto_rejected"
)

// Agent subprocesses
const (
	AgentStarted = "agent.started"
	AgentStopped = "agent.stopped"
)

// Chat messages
const (
	MessageAdded   = "message.added"
	MessageUpdated = "message.updated"
)

func subjectToken(id string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

// SessionSubject returns the subject for an event of one ACP session.
func SessionSubject(sessionID, eventType string) string {
	return "acp.session." + subjectToken(sessionID) + "." + eventType
}

// SessionWildcard matches every event of one ACP session.
func SessionWildcard(sessionID string) string {
	return "acp.session." + subjectToken(sessionID) + ".>"
}

// AgentSubject returns the subject for an agent subprocess event.
func AgentSubject(agentType, eventType string) string {
	return "acp.agent." + subjectToken(agentType) + "." + eventType
}

// RoomSubject returns the subject for a chat event of one room.
func RoomSubject(roomID, eventType string) string {
	return "chat.room." + subjectToken(roomID) + "." + eventType
}

// RoomWildcard matches every chat event of one room.
func RoomWildcard(roomID string) string {
	return "chat.room." + subjectToken(roomID) + ".>"
}
