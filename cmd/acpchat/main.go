// Package main is the acpchat entry point. "serve" runs the chat server
// with its HTTP and WebSocket endpoints; "prompt" and "agents" talk to the
// configured agents directly from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "acpchat",
		Short:         "Chat rooms backed by Agent Client Protocol agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newPromptCmd(opts))
	cmd.AddCommand(newAgentsCmd(opts))
	return cmd
}
