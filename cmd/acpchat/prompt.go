package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/persona"
)

const promptRoom = "cli"

type promptOptions struct {
	agent   string
	attach  []string
	verbose bool
}

func newPromptCmd(root *rootOptions) *cobra.Command {
	opts := &promptOptions{}
	cmd := &cobra.Command{
		Use:   "prompt [flags] <message>",
		Short: "Send one message to an agent and print its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPrompt(ctx, a, opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.agent, "agent", "", "agent type to ask (default runtime.defaultAgent)")
	cmd.Flags().StringSliceVar(&opts.attach, "attach", nil, "file to attach; repeatable")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print tool calls")
	return cmd
}

func runPrompt(ctx context.Context, a *app, opts *promptOptions, body string, out io.Writer) error {
	agentType := opts.agent
	if agentType == "" {
		agentType = a.cfg.Runtime.DefaultAgent
	}
	agentCfg, ok := a.cfg.Agents[agentType]
	if !ok {
		return fmt.Errorf("unknown agent %q (configured: %s)", agentType, strings.Join(a.cfg.AgentTypes(), ", "))
	}
	adapter, err := persona.NewAdapter(agentType, agentCfg)
	if err != nil {
		return err
	}
	if err := adapter.CheckRequirements(ctx); err != nil {
		return err
	}

	provided, closeBus, err := events.Provide(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()

	store := chat.NewMemoryStore(chat.NewTriggers())
	registry := newRegistry(a.cfg, provided.Bus, nil, a.log)
	defer func() {
		if err := registry.Close(context.WithoutCancel(ctx)); err != nil {
			a.log.Debug("agent shutdown", zap.Error(err))
		}
	}()
	rooms := persona.NewRooms([]persona.Adapter{adapter}, agentType, store, registry, a.log)

	ids, err := addAttachments(ctx, store, opts.attach)
	if err != nil {
		return err
	}
	id, err := store.AddMessage(ctx, promptRoom, chat.NewMessage{
		Body:        body,
		Sender:      "user",
		Attachments: ids,
	}, chat.TriggerFindMentions)
	if err != nil {
		return err
	}
	msg, err := store.GetMessage(ctx, promptRoom, id)
	if err != nil || msg == nil {
		return fmt.Errorf("load message: %w", err)
	}

	m := rooms.Get(promptRoom)
	m.Route(ctx, *msg)
	m.Wait()
	_ = rooms.Shutdown(context.WithoutCancel(ctx))

	return printReplies(ctx, store, id, opts.verbose, out)
}

func addAttachments(ctx context.Context, store chat.Store, paths []string) ([]string, error) {
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(chat.Attachment{Type: chat.AttachmentFile, Value: abs})
		if err != nil {
			return nil, err
		}
		id, err := store.AddAttachment(ctx, promptRoom, raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printReplies writes every message posted after the prompt, optionally
// followed by the tool calls recorded on it.
func printReplies(ctx context.Context, store chat.Store, promptID string, verbose bool, out io.Writer) error {
	msgs, err := store.ListMessages(ctx, promptRoom)
	if err != nil {
		return err
	}
	after := false
	for _, msg := range msgs {
		if !after {
			after = msg.ID == promptID
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", msg.Sender, msg.Body)
		if !verbose {
			continue
		}
		for _, call := range toolCalls(msg) {
			fmt.Fprintf(out, "  [%v] %v\n", call["status"], call["title"])
		}
	}
	return nil
}

// toolCalls reads the tool-call metadata in either its in-memory or its
// JSON-decoded shape.
func toolCalls(msg chat.Message) []map[string]any {
	switch v := msg.Metadata[runtime.MetadataToolCalls].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
