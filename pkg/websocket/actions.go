package websocket

// Request actions (client -> server)
const (
	ActionHealthCheck = "health.check"

	ActionRoomSubscribe      = "room.subscribe"
	ActionRoomUnsubscribe    = "room.unsubscribe"
	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"

	ActionMessageSend = "message.send"
	ActionMessageList = "message.list"

	ActionPermissionResolve = "permission.resolve"
	ActionSlashCommandsList = "slash_commands.list"
	ActionPersonaList       = "persona.list"
)

// ActionEvent carries a bus event to subscribed clients (server -> client).
const ActionEvent = "event"

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
