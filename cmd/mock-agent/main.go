// Package main implements a mock agent that speaks the Agent Client
// Protocol over stdin/stdout. Slash-command prompts pick scripted
// scenarios (tool calls, permissions, terminals, failures); anything else
// gets a short simulated answer. It is meant for local development and
// end-to-end tests of acpchat without a real agent installed.
package main

import (
	"log/slog"
	"os"
	"strings"

	acp "github.com/coder/acp-go-sdk"
)

func main() {
	a := newAgent(parseModelFromArgs(os.Args))
	conn := acp.NewAgentSideConnection(a, os.Stdout, os.Stdin)
	conn.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "mock-agent"))
	a.SetAgentConnection(conn)
	<-conn.Done()
}

// parseModelFromArgs extracts --model value from the given args slice.
// The model only selects response delays.
func parseModelFromArgs(args []string) string {
	for i, arg := range args[1:] {
		if arg == "--model" && i+1 < len(args)-1 {
			return args[i+2]
		}
		if strings.HasPrefix(arg, "--model=") {
			return strings.TrimPrefix(arg, "--model=")
		}
	}
	return "mock-default"
}
