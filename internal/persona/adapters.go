package persona

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"golang.org/x/mod/semver"

	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/config"
)

// Adapter kinds accepted in agents.<type>.kind.
const (
	KindClaude  = "claude"
	KindKiro    = "kiro"
	KindGeneric = "generic"
)

// Adapter is an agent adapter that chat personas can be built from.
type Adapter interface {
	runtime.AgentAdapter
	DisplayName() string
	// MentionName is the @name that routes chat messages to this agent.
	MentionName() string
	// CheckRequirements returns a *RequirementsUnmetError when the agent
	// cannot run on this machine.
	CheckRequirements(ctx context.Context) error
}

// RequirementsUnmetError explains why an agent cannot be used.
type RequirementsUnmetError struct {
	AgentType string
	Reason    string
}

func (e *RequirementsUnmetError) Error() string {
	return fmt.Sprintf("%s: requirements unmet: %s", e.AgentType, e.Reason)
}

// IsRequirementsUnmet reports whether err carries a RequirementsUnmetError.
func IsRequirementsUnmet(err error) bool {
	var target *RequirementsUnmetError
	return errors.As(err, &target)
}

// commandRunner runs a short-lived helper command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// base holds what every adapter reads from its config entry.
type base struct {
	agentType   string
	displayName string
	mentionName string
	command     string
	args        []string
	env         []string
	mcpServers  []acp.McpServer
	lookPath    func(string) (string, error)
}

func newBase(agentType string, cfg config.AgentConfig) base {
	b := base{
		agentType:   agentType,
		displayName: cfg.DisplayName,
		mentionName: cfg.MentionName,
		command:     cfg.Command,
		args:        append([]string(nil), cfg.Args...),
		env:         envPairs(cfg.Env),
		mcpServers:  mcpServers(cfg.MCPServers),
		lookPath:    exec.LookPath,
	}
	if b.displayName == "" {
		b.displayName = agentType
	}
	if b.mentionName == "" {
		b.mentionName = agentType
	}
	return b
}

func (b *base) AgentType() string           { return b.agentType }
func (b *base) Command() (string, []string) { return b.command, append([]string(nil), b.args...) }
func (b *base) Env() []string               { return b.env }
func (b *base) DisplayName() string         { return b.displayName }
func (b *base) MentionName() string         { return b.mentionName }
func (b *base) MCPServers() []acp.McpServer { return b.mcpServers }

func (b *base) unmet(format string, args ...any) error {
	return &RequirementsUnmetError{AgentType: b.agentType, Reason: fmt.Sprintf(format, args...)}
}

func (b *base) requireCommand(hint string) error {
	if _, err := b.lookPath(b.command); err != nil {
		return b.unmet("%q is not installed. %s", b.command, hint)
	}
	return nil
}

// GenericAdapter runs any configured ACP agent command.
type GenericAdapter struct {
	base
}

// CheckRequirements verifies the command is on PATH.
func (a *GenericAdapter) CheckRequirements(context.Context) error {
	return a.requireCommand("Check agents." + a.agentType + ".command.")
}

// ClaudeAdapter runs Claude Code through the claude-code-acp bridge.
type ClaudeAdapter struct {
	base
}

// CheckRequirements verifies claude-code-acp is on PATH.
func (a *ClaudeAdapter) CheckRequirements(context.Context) error {
	return a.requireCommand("Install it via `npm install -g @zed-industries/claude-code-acp` then restart.")
}

const (
	kiroMinVersion       = "v1.25.0"
	kiroNextMajor        = "v2.0.0"
	kiroVersionTimeout   = 5 * time.Second
	kiroAuthPollInterval = 2 * time.Second
	kiroSignInMessage    = "Please sign in via `kiro-cli login`."
)

var versionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)`)

// KiroAdapter runs kiro-cli in ACP mode and gates prompts on its login state.
type KiroAdapter struct {
	base
	run          commandRunner
	pollInterval time.Duration
}

// CheckRequirements verifies kiro-cli is installed at a version in
// [1.25.0, 2.0.0).
func (a *KiroAdapter) CheckRequirements(ctx context.Context) error {
	if err := a.requireCommand("See https://kiro.dev for installation instructions."); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, kiroVersionTimeout)
	defer cancel()

	out, err := a.run(ctx, a.command, "--version")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return a.unmet("%s --version timed out", a.command)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := fmt.Sprintf("%s --version returned non-zero exit code %d", a.command, exitErr.ExitCode())
			if stderr := strings.TrimSpace(string(exitErr.Stderr)); stderr != "" {
				msg += ": " + stderr
			}
			return a.unmet("%s", msg)
		}
		return a.unmet("%s --version failed: %v", a.command, err)
	}
	return a.checkVersion(string(out))
}

func (a *KiroAdapter) checkVersion(output string) error {
	m := versionPattern.FindString(output)
	if m == "" {
		return a.unmet("could not find a version number in %q", strings.TrimSpace(output))
	}
	v := "v" + m
	if semver.Compare(v, kiroMinVersion) < 0 || semver.Compare(v, kiroNextMajor) >= 0 {
		return a.unmet("version %s is installed, but >=1.25.0,<2 is required. See https://kiro.dev to upgrade", m)
	}
	return nil
}

// EnsureAuthenticated runs `kiro-cli whoami`; a non-zero exit means the
// user is signed out.
func (a *KiroAdapter) EnsureAuthenticated(ctx context.Context) error {
	if a.signedIn(ctx) {
		return nil
	}
	return runtime.NewAuthRequiredError(a.agentType, "not signed in to kiro-cli")
}

// WaitForAuth polls whoami until it succeeds or ctx ends.
func (a *KiroAdapter) WaitForAuth(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		if a.signedIn(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// OnNoAuth posts the sign-in instructions to the participant's room.
func (a *KiroAdapter) OnNoAuth(ctx context.Context, p runtime.Participant) error {
	_, err := p.Chat().AddMessage(ctx, p.RoomID(), chat.NewMessage{Body: kiroSignInMessage, Sender: p.ID()})
	return err
}

func (a *KiroAdapter) signedIn(ctx context.Context) bool {
	_, err := a.run(ctx, a.command, "whoami")
	return err == nil
}

var (
	_ runtime.Authenticator     = (*KiroAdapter)(nil)
	_ runtime.AuthWaiter        = (*KiroAdapter)(nil)
	_ runtime.NoAuthHandler     = (*KiroAdapter)(nil)
	_ runtime.MCPServerProvider = (*GenericAdapter)(nil)
)

// NewAdapter builds the adapter for one agents.<type> entry. An empty kind
// falls back to the agent type when it names a built-in, generic otherwise.
func NewAdapter(agentType string, cfg config.AgentConfig) (Adapter, error) {
	kind := cfg.Kind
	if kind == "" {
		switch agentType {
		case KindClaude, KindKiro:
			kind = agentType
		default:
			kind = KindGeneric
		}
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("agent %q: command is required", agentType)
	}
	b := newBase(agentType, cfg)
	switch kind {
	case KindClaude:
		return &ClaudeAdapter{base: b}, nil
	case KindKiro:
		return &KiroAdapter{base: b, run: runCommand, pollInterval: kiroAuthPollInterval}, nil
	case KindGeneric:
		return &GenericAdapter{base: b}, nil
	default:
		return nil, fmt.Errorf("agent %q: unknown kind %q", agentType, kind)
	}
}

// NewAdapters builds an adapter for every configured agent type.
func NewAdapters(agents map[string]config.AgentConfig) (map[string]Adapter, error) {
	out := make(map[string]Adapter, len(agents))
	for agentType, cfg := range agents {
		a, err := NewAdapter(agentType, cfg)
		if err != nil {
			return nil, err
		}
		out[agentType] = a
	}
	return out, nil
}

// Available splits adapters into those whose requirements are met and the
// reasons the others cannot run.
func Available(ctx context.Context, adapters map[string]Adapter) ([]Adapter, map[string]error) {
	var ok []Adapter
	unmet := make(map[string]error)
	for agentType, a := range adapters {
		if err := a.CheckRequirements(ctx); err != nil {
			unmet[agentType] = err
			continue
		}
		ok = append(ok, a)
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].AgentType() < ok[j].AgentType() })
	return ok, unmet
}

func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func mcpServers(servers []config.MCPServerConfig) []acp.McpServer {
	if len(servers) == 0 {
		return nil
	}
	out := make([]acp.McpServer, 0, len(servers))
	for _, s := range servers {
		env := make([]acp.EnvVariable, 0, len(s.Env))
		for _, pair := range envPairs(s.Env) {
			name, value, _ := strings.Cut(pair, "=")
			env = append(env, acp.EnvVariable{Name: name, Value: value})
		}
		out = append(out, acp.McpServer{
			Stdio: &acp.McpServerStdio{
				Name:    s.Name,
				Command: s.Command,
				Args:    append([]string{}, s.Args...),
				Env:     env,
			},
		})
	}
	return out
}
