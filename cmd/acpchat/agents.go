package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kandev/acpchat/internal/persona"
)

func newAgentsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents and whether they can run here",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			adapters, err := persona.NewAdapters(a.cfg.Agents)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requirementsTimeout)
			defer cancel()
			return listAgents(ctx, adapters, a.cfg.Runtime.DefaultAgent, cmd.OutOrStdout())
		},
	}
}

func listAgents(ctx context.Context, adapters map[string]persona.Adapter, defaultAgent string, out io.Writer) error {
	usable, unmet := persona.Available(ctx, adapters)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tMENTION\tSTATUS")
	for _, a := range usable {
		status := "ready"
		if a.AgentType() == defaultAgent {
			status += " (default)"
		}
		fmt.Fprintf(w, "%s\t@%s\t%s\n", a.AgentType(), a.MentionName(), status)
	}
	missing := make([]string, 0, len(unmet))
	for agentType := range unmet {
		missing = append(missing, agentType)
	}
	sort.Strings(missing)
	for _, agentType := range missing {
		fmt.Fprintf(w, "%s\t@%s\tunavailable: %v\n", agentType, adapters[agentType].MentionName(), unmet[agentType])
	}
	return w.Flush()
}
