package runtime

import (
	"context"
	"os/exec"

	acp "github.com/coder/acp-go-sdk"

	"github.com/kandev/acpchat/internal/chat"
)

// AgentAdapter describes how to run one type of ACP agent. Optional
// behaviour is added by also implementing Authenticator, AuthWaiter,
// NoAuthHandler, SubprocessHook or MCPServerProvider.
type AgentAdapter interface {
	// AgentType is the registry key, e.g. "claude".
	AgentType() string
	// Command returns the executable and its arguments.
	Command() (name string, args []string)
	// Env returns extra KEY=VALUE pairs for the subprocess.
	Env() []string
}

// Authenticator checks credentials before a prompt is sent. It returns an
// *AuthRequiredError when the user must sign in.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// AuthWaiter blocks until the user has signed in or ctx ends.
type AuthWaiter interface {
	WaitForAuth(ctx context.Context) error
}

// NoAuthHandler tells the participant how to sign in.
type NoAuthHandler interface {
	OnNoAuth(ctx context.Context, p Participant) error
}

// SubprocessHook adjusts the agent command before it starts.
type SubprocessHook interface {
	BeforeSubprocessStart(ctx context.Context, cmd *exec.Cmd) error
}

// MCPServerProvider supplies the MCP servers passed to session/new in place
// of Options.MCPServers.
type MCPServerProvider interface {
	MCPServers() []acp.McpServer
}

// Participant is the chat member a session writes its output for.
type Participant interface {
	// ID is used as the sender of agent messages.
	ID() string
	RoomID() string
	Chat() chat.Store
	SetComposing(composing bool)
	// SetAvailableCommands replaces the slash commands the agent advertised.
	SetAvailableCommands(cmds []acp.AvailableCommand)
}
