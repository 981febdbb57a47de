package runtime

import (
	"errors"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
)

var (
	// ErrSessionNotFound is returned for a session id with no participant.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRuntimeClosed is returned once Close has been called.
	ErrRuntimeClosed = errors.New("runtime closed")
)

// AuthRequiredError reports that the agent refused to work until the user
// signs in. Match it with errors.As.
type AuthRequiredError struct {
	AgentType string
	Message   string
	cause     error
}

func (e *AuthRequiredError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: authentication required", e.AgentType)
	}
	return fmt.Sprintf("%s: authentication required: %s", e.AgentType, e.Message)
}

func (e *AuthRequiredError) Unwrap() error { return e.cause }

// NewAuthRequiredError builds an AuthRequiredError for adapters.
func NewAuthRequiredError(agentType, message string) *AuthRequiredError {
	return &AuthRequiredError{AgentType: agentType, Message: message}
}

// classifyAgentError converts an agent's "auth required" JSON-RPC error into
// an AuthRequiredError. The decision is made on the error code only.
func classifyAgentError(agentType string, err error) error {
	var re *acp.RequestError
	if errors.As(err, &re) && re.Code == rpcerr.CodeAuthRequired {
		return &AuthRequiredError{AgentType: agentType, Message: re.Message, cause: err}
	}
	return err
}
