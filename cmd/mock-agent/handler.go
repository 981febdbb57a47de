package main

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
)

// delayRange returns min/max delay in milliseconds based on model name.
func delayRange(model string) (int, int) {
	switch model {
	case "mock-instant":
		return 0, 0
	case "mock-fast":
		return 10, 50
	case "mock-slow":
		return 500, 3000
	default:
		return 100, 500
	}
}

// pause sleeps for a random duration within the model's delay range.
func (a *agent) pause(ctx context.Context) error {
	lo, hi := delayRange(a.model)
	return sleep(ctx, time.Duration(lo+rand.Intn(hi-lo+1))*time.Millisecond)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run routes a prompt to its scenario.
func (a *agent) run(ctx context.Context, t *turn) error {
	cmd, args, _ := strings.Cut(t.text, " ")
	switch strings.ToLower(cmd) {
	case "/error":
		return acp.NewInternalError(map[string]any{"details": "mock error: something went wrong during processing"})
	case "/auth":
		return acp.NewAuthRequired(nil)
	case "/slow":
		return a.slowResponse(ctx, t, args)
	case "/thinking":
		return a.thinking(ctx, t)
	case "/plan":
		return a.plan(ctx, t)
	case "/tool:read":
		return a.toolRead(ctx, t)
	case "/tool:edit":
		return a.toolEdit(ctx, t)
	case "/tool:exec":
		return a.toolExec(ctx, t)
	}
	if strings.HasPrefix(cmd, "/") {
		return a.say(ctx, t, "Unknown command: "+cmd+". Try /"+commands[0].Name+" or /tool:read.")
	}
	return a.answer(ctx, t)
}

func (a *agent) update(ctx context.Context, t *turn, u acp.SessionUpdate) error {
	conn, err := a.client()
	if err != nil {
		return err
	}
	return conn.SessionUpdate(ctx, acp.SessionNotification{SessionId: t.sessionID, Update: u})
}

func (a *agent) say(ctx context.Context, t *turn, text string) error {
	return a.update(ctx, t, acp.UpdateAgentMessageText(text))
}

func (a *agent) think(ctx context.Context, t *turn, text string) error {
	return a.update(ctx, t, acp.UpdateAgentThoughtText(text))
}

// answer streams a short reply in a few chunks.
func (a *agent) answer(ctx context.Context, t *turn) error {
	if err := a.think(ctx, t, "Reading the request..."); err != nil {
		return err
	}
	chunks := []string{"I looked at your request", fmt.Sprintf(": %q.", t.text)}
	for _, uri := range t.attachments {
		chunks = append(chunks, "\nAttached: "+uri)
	}
	chunks = append(chunks, "\nEverything looks good!")
	for _, c := range chunks {
		if err := a.pause(ctx); err != nil {
			return err
		}
		if err := a.say(ctx, t, c); err != nil {
			return err
		}
	}
	return nil
}

// slowResponse spreads five chunks over the requested duration (default 5s).
func (a *agent) slowResponse(ctx context.Context, t *turn, args string) error {
	total := 5 * time.Second
	if d, err := time.ParseDuration(strings.TrimSpace(args)); err == nil && d > 0 {
		total = d
	}
	const steps = 5
	for i := 1; i <= steps; i++ {
		if err := sleep(ctx, total/steps); err != nil {
			return err
		}
		if err := a.say(ctx, t, fmt.Sprintf("Step %d of %d done.\n", i, steps)); err != nil {
			return err
		}
	}
	return a.say(ctx, t, fmt.Sprintf("Slow response complete after %s.", total))
}

func (a *agent) thinking(ctx context.Context, t *turn) error {
	thoughts := []string{
		"Let me analyze this problem step by step...",
		"The key question is which component owns the state.",
		"Edge cases: empty input, concurrent access, cancellation.",
	}
	for _, thought := range thoughts {
		if err := a.pause(ctx); err != nil {
			return err
		}
		if err := a.think(ctx, t, thought); err != nil {
			return err
		}
	}
	return a.say(ctx, t, "After careful reasoning: the design holds up.")
}

func (a *agent) plan(ctx context.Context, t *turn) error {
	if err := a.update(ctx, t, acp.UpdatePlan(
		acp.PlanEntry{Content: "Read the relevant files", Priority: acp.PlanEntryPriorityHigh, Status: acp.PlanEntryStatusCompleted},
		acp.PlanEntry{Content: "Make the change", Priority: acp.PlanEntryPriorityHigh, Status: acp.PlanEntryStatusInProgress},
		acp.PlanEntry{Content: "Run the tests", Priority: acp.PlanEntryPriorityMedium, Status: acp.PlanEntryStatusPending},
	)); err != nil {
		return err
	}
	if err := a.pause(ctx); err != nil {
		return err
	}
	return a.say(ctx, t, "Plan published.")
}

func (a *agent) toolCallID(kind acp.ToolKind) acp.ToolCallId {
	return acp.ToolCallId(fmt.Sprintf("mock-%s-%d", kind, a.nextToolID.Add(1)))
}

func (a *agent) startTool(ctx context.Context, t *turn, id acp.ToolCallId, title string, kind acp.ToolKind, locations ...string) error {
	opts := []acp.ToolCallStartOpt{
		acp.WithStartKind(kind),
		acp.WithStartStatus(acp.ToolCallStatusPending),
	}
	if len(locations) > 0 {
		locs := make([]acp.ToolCallLocation, 0, len(locations))
		for _, l := range locations {
			locs = append(locs, acp.ToolCallLocation{Path: l})
		}
		opts = append(opts, acp.WithStartLocations(locs))
	}
	return a.update(ctx, t, acp.StartToolCall(id, title, opts...))
}

func (a *agent) finishTool(ctx context.Context, t *turn, id acp.ToolCallId, status acp.ToolCallStatus, opts ...acp.ToolCallUpdateOpt) error {
	opts = append([]acp.ToolCallUpdateOpt{acp.WithUpdateStatus(status)}, opts...)
	return a.update(ctx, t, acp.UpdateToolCall(id, opts...))
}

// toolRead reads the start of a workspace file through fs/read_text_file.
func (a *agent) toolRead(ctx context.Context, t *turn) error {
	path := randomFile(t.cwd)
	if path == "" {
		return a.say(ctx, t, "There are no text files to read in "+t.cwd+".")
	}
	id := a.toolCallID(acp.ToolKindRead)
	if err := a.startTool(ctx, t, id, "Read "+filepath.Base(path), acp.ToolKindRead, path); err != nil {
		return err
	}
	conn, err := a.client()
	if err != nil {
		return err
	}
	resp, err := conn.ReadTextFile(ctx, acp.ReadTextFileRequest{
		SessionId: t.sessionID,
		Path:      path,
		Line:      acp.Ptr(1),
		Limit:     acp.Ptr(10),
	})
	if err != nil {
		_ = a.finishTool(ctx, t, id, acp.ToolCallStatusFailed, acp.WithUpdateRawOutput(map[string]any{"error": err.Error()}))
		return a.say(ctx, t, "I could not read "+path+": "+err.Error())
	}
	snippet := firstLines(resp.Content, 10)
	if err := a.finishTool(ctx, t, id, acp.ToolCallStatusCompleted,
		acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolContent(acp.TextBlock(snippet))})); err != nil {
		return err
	}
	return a.say(ctx, t, fmt.Sprintf("%s starts with %d lines I can see.", filepath.Base(path), strings.Count(snippet, "\n")))
}

// toolEdit writes a notes file in the session directory once the user
// allows it.
func (a *agent) toolEdit(ctx context.Context, t *turn) error {
	path := filepath.Join(t.cwd, notesFile)
	id := a.toolCallID(acp.ToolKindEdit)
	title := "Write " + notesFile
	if err := a.startTool(ctx, t, id, title, acp.ToolKindEdit, path); err != nil {
		return err
	}
	allowed, err := a.requestPermission(ctx, t, id, title, acp.ToolKindEdit)
	if err != nil {
		return err
	}
	if !allowed {
		_ = a.finishTool(ctx, t, id, acp.ToolCallStatusFailed)
		return a.say(ctx, t, "Okay, I left the workspace untouched.")
	}
	conn, err := a.client()
	if err != nil {
		return err
	}
	content := fmt.Sprintf("# Notes\n\nWritten by mock-agent at %s.\n", time.Now().UTC().Format(time.RFC3339))
	if _, err := conn.WriteTextFile(ctx, acp.WriteTextFileRequest{
		SessionId: t.sessionID,
		Path:      path,
		Content:   content,
	}); err != nil {
		_ = a.finishTool(ctx, t, id, acp.ToolCallStatusFailed)
		return a.say(ctx, t, "Writing failed: "+err.Error())
	}
	if err := a.finishTool(ctx, t, id, acp.ToolCallStatusCompleted,
		acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolDiffContent(path, content)})); err != nil {
		return err
	}
	return a.say(ctx, t, "Wrote "+notesFile+".")
}

// toolExec runs a command in a client terminal once the user allows it.
func (a *agent) toolExec(ctx context.Context, t *turn) error {
	id := a.toolCallID(acp.ToolKindExecute)
	title := "echo hello from mock-agent"
	if err := a.startTool(ctx, t, id, title, acp.ToolKindExecute); err != nil {
		return err
	}
	allowed, err := a.requestPermission(ctx, t, id, title, acp.ToolKindExecute)
	if err != nil {
		return err
	}
	if !allowed {
		_ = a.finishTool(ctx, t, id, acp.ToolCallStatusFailed)
		return a.say(ctx, t, "Okay, I did not run anything.")
	}

	conn, err := a.client()
	if err != nil {
		return err
	}
	term, err := conn.CreateTerminal(ctx, acp.CreateTerminalRequest{
		SessionId:       t.sessionID,
		Command:         "echo",
		Args:            []string{"hello from mock-agent"},
		Cwd:             acp.Ptr(t.cwd),
		OutputByteLimit: acp.Ptr(4096),
	})
	if err != nil {
		_ = a.finishTool(ctx, t, id, acp.ToolCallStatusFailed)
		return a.say(ctx, t, "Could not start a terminal: "+err.Error())
	}
	defer func() {
		_, _ = conn.ReleaseTerminal(context.WithoutCancel(ctx), acp.ReleaseTerminalRequest{
			SessionId:  t.sessionID,
			TerminalId: term.TerminalId,
		})
	}()

	if err := a.finishTool(ctx, t, id, acp.ToolCallStatusInProgress,
		acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolTerminalRef(term.TerminalId)})); err != nil {
		return err
	}
	exit, err := conn.WaitForTerminalExit(ctx, acp.WaitForTerminalExitRequest{SessionId: t.sessionID, TerminalId: term.TerminalId})
	if err != nil {
		return err
	}
	out, err := conn.TerminalOutput(ctx, acp.TerminalOutputRequest{SessionId: t.sessionID, TerminalId: term.TerminalId})
	if err != nil {
		return err
	}

	code := -1
	if exit.ExitCode != nil {
		code = *exit.ExitCode
	}
	status := acp.ToolCallStatusCompleted
	if code != 0 {
		status = acp.ToolCallStatusFailed
	}
	if err := a.finishTool(ctx, t, id, status,
		acp.WithUpdateRawOutput(map[string]any{"output": out.Output, "exit_code": code})); err != nil {
		return err
	}
	return a.say(ctx, t, fmt.Sprintf("The command exited with %d and printed: %s", code, strings.TrimSpace(out.Output)))
}
