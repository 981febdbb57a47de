package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
)

var errNotConnected = errors.New("mock-agent: no client connection")

// commands are announced through available_commands_update after each
// session/new.
var commands = []acp.AvailableCommand{
	{Name: "error", Description: "Fail the turn with an internal error"},
	{Name: "auth", Description: "Fail the turn with auth_required"},
	{Name: "slow", Description: "Slow response; takes an optional duration, e.g. /slow 30s"},
	{Name: "thinking", Description: "Stream reasoning before answering"},
	{Name: "plan", Description: "Publish a plan"},
	{Name: "tool:read", Description: "Read a workspace file through the client"},
	{Name: "tool:edit", Description: "Write a file through the client (asks permission)"},
	{Name: "tool:exec", Description: "Run a command in a client terminal (asks permission)"},
}

type session struct {
	cwd string
}

// agent implements acp.Agent. Session cancellation is handled by the
// connection, which cancels the context of the prompt in flight.
type agent struct {
	model string

	mu       sync.Mutex
	conn     *acp.AgentSideConnection
	sessions map[string]*session
	nextSID  int

	nextToolID atomic.Int64
}

var _ acp.Agent = (*agent)(nil)

func newAgent(model string) *agent {
	return &agent{
		model:    model,
		sessions: make(map[string]*session),
	}
}

// SetAgentConnection binds the connection used for updates and client calls.
func (a *agent) SetAgentConnection(conn *acp.AgentSideConnection) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *agent) client() (*acp.AgentSideConnection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, errNotConnected
	}
	return a.conn, nil
}

func (a *agent) Initialize(ctx context.Context, _ acp.InitializeRequest) (acp.InitializeResponse, error) {
	return acp.InitializeResponse{
		ProtocolVersion: acp.ProtocolVersionNumber,
		AgentCapabilities: acp.AgentCapabilities{
			PromptCapabilities: acp.PromptCapabilities{EmbeddedContext: true},
		},
		AgentInfo:   &acp.Implementation{Name: "mock-agent", Version: a.model},
		AuthMethods: []acp.AuthMethod{},
	}, nil
}

func (a *agent) Authenticate(ctx context.Context, _ acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, nil
}

// NewSession registers the session and announces the slash commands once
// the response is on its way.
func (a *agent) NewSession(ctx context.Context, p acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	a.mu.Lock()
	a.nextSID++
	id := fmt.Sprintf("mock-session-%d-%d", os.Getpid(), a.nextSID)
	a.sessions[id] = &session{cwd: p.Cwd}
	a.mu.Unlock()

	go func() {
		conn, err := a.client()
		if err != nil {
			return
		}
		_ = conn.SessionUpdate(context.Background(), acp.SessionNotification{
			SessionId: acp.SessionId(id),
			Update: acp.SessionUpdate{AvailableCommandsUpdate: &acp.SessionAvailableCommandsUpdate{
				AvailableCommands: commands,
			}},
		})
	}()
	return acp.NewSessionResponse{SessionId: acp.SessionId(id)}, nil
}

func (a *agent) Cancel(ctx context.Context, _ acp.CancelNotification) error {
	return nil
}

func (a *agent) SetSessionMode(ctx context.Context, _ acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	return acp.SetSessionModeResponse{}, nil
}

func (a *agent) SetSessionConfigOption(ctx context.Context, _ acp.SetSessionConfigOptionRequest) (acp.SetSessionConfigOptionResponse, error) {
	return acp.SetSessionConfigOptionResponse{ConfigOptions: []acp.SessionConfigOption{}}, nil
}

func (a *agent) session(id string) (*session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// turn is one prompt being answered.
type turn struct {
	sessionID   acp.SessionId
	cwd         string
	text        string
	attachments []string
}

// Prompt answers one turn. A cancelled turn ends with stop reason
// cancelled rather than an error.
func (a *agent) Prompt(ctx context.Context, p acp.PromptRequest) (acp.PromptResponse, error) {
	s, ok := a.session(string(p.SessionId))
	if !ok {
		return acp.PromptResponse{}, acp.NewInvalidParams(map[string]any{"sessionId": p.SessionId, "error": "unknown session"})
	}

	t := &turn{sessionID: p.SessionId, cwd: s.cwd}
	var texts []string
	for _, block := range p.Prompt {
		switch {
		case block.Text != nil:
			texts = append(texts, block.Text.Text)
		case block.ResourceLink != nil:
			t.attachments = append(t.attachments, block.ResourceLink.Uri)
		case block.Resource != nil:
			if uri := resourceURI(block.Resource.Resource); uri != "" {
				t.attachments = append(t.attachments, uri)
			}
		}
	}
	t.text = strings.TrimSpace(strings.Join(texts, "\n"))

	err := a.run(ctx, t)
	if ctx.Err() != nil {
		return acp.PromptResponse{StopReason: acp.StopReasonCancelled}, nil
	}
	if err != nil {
		return acp.PromptResponse{}, err
	}
	return acp.PromptResponse{StopReason: acp.StopReasonEndTurn}, nil
}

func resourceURI(r acp.EmbeddedResourceResource) string {
	switch {
	case r.TextResourceContents != nil:
		return r.TextResourceContents.Uri
	case r.BlobResourceContents != nil:
		return r.BlobResourceContents.Uri
	}
	return ""
}
