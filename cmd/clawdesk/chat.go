package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caam1406/clawdesk/pkg/agent"
	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/stream"
)

var (
	chatInteractive bool
	chatNoPersist   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id> [message]",
	Short: "Send a message to a conversation and stream the reply",
	Long: `Sends a message to a conversation and prints the status and message
events as they arrive. With -i, or when no message is given, reads messages
from an interactive prompt until EOF.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runChat,
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print the stored events of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var editCmd = &cobra.Command{
	Use:   "edit <agent-id> <instruction>",
	Short: "Stream the response to an agent edit instruction",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runEdit,
}

func init() {
	chatCmd.Flags().BoolVarP(&chatInteractive, "interactive", "i", false, "read messages from a prompt")
	chatCmd.Flags().BoolVar(&chatNoPersist, "no-persist", false, "do not record stream events in storage")
	editCmd.Flags().BoolVar(&chatNoPersist, "no-persist", false, "do not record stream events in storage")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "number of most recent events to show (0 for all)")
}

// newCLILoop builds an agent loop against the configured API. The returned close
// func releases the storage it opened, if any.
func newCLILoop(ctx context.Context) (*agent.Loop, func(), error) {
	client := stream.NewClientFromConfig(ctx, cfg)
	if chatNoPersist {
		return agent.NewLoop(client, nil, nil, cfg.DefaultAgentID()), func() {}, nil
	}

	store, err := openStorage(ctx, cfg.Clone().Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return agent.NewLoop(client, store.Conversations(), nil, cfg.DefaultAgentID()), func() { store.Close() }, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	loop, closeLoop, err := newCLILoop(ctx)
	if err != nil {
		return err
	}
	defer closeLoop()

	conversationID := args[0]
	out := cmd.OutOrStdout()

	if len(args) == 2 && !chatInteractive {
		return sendOnce(ctx, loop, out, bus.InboundMessage{
			Kind:           bus.KindMessage,
			ConversationID: conversationID,
			Content:        args[1],
			Source:         "cli",
		})
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.Clone().Storage.FilePath), ".chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("open prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "Conversation %s. Ctrl-D to quit.\n", conversationID)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sendOnce(ctx, loop, rl.Stdout(), bus.InboundMessage{
			Kind:           bus.KindMessage,
			ConversationID: conversationID,
			Content:        line,
			Source:         "cli",
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	loop, closeLoop, err := newCLILoop(ctx)
	if err != nil {
		return err
	}
	defer closeLoop()

	return sendOnce(ctx, loop, cmd.OutOrStdout(), bus.InboundMessage{
		Kind:    bus.KindEdit,
		AgentID: args[0],
		Content: strings.Join(args[1:], " "),
		Source:  "cli",
	})
}

// sendOnce streams one message and prints its events to out.
func sendOnce(ctx context.Context, loop *agent.Loop, out io.Writer, msg bus.InboundMessage) error {
	acc := stream.NewAccumulator()
	return acc.Run(printer(out, acc), func(h stream.Handlers) error {
		return loop.Process(ctx, msg, h)
	})
}

// printer writes events as they arrive. A reply that only arrives with the complete
// event is printed from acc.
func printer(out io.Writer, acc *stream.Accumulator) stream.Handlers {
	chunked := false
	return stream.Handlers{
		OnStatus: func(ev stream.StatusEvent) {
			fmt.Fprintf(out, "[%s]\n", ev.Status)
		},
		OnMessage: func(ev stream.MessageEvent) {
			if ev.Role == stream.RoleUser {
				return
			}
			fmt.Fprintf(out, "%s> %s\n", ev.Role, ev.Content)
		},
		OnChunk: func(ev stream.ChunkEvent) {
			chunked = true
			fmt.Fprint(out, ev.Content)
		},
		OnComplete: func(full string) {
			switch {
			case chunked:
				fmt.Fprintln(out)
			case full != "" && !answered(acc.Messages()):
				fmt.Fprintln(out, full)
			}
		},
	}
}

func answered(msgs []stream.MessageEvent) bool {
	for _, m := range msgs {
		if m.Role != stream.RoleUser {
			return true
		}
	}
	return false
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStorage(ctx, cfg.Clone().Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	repo := store.Conversations()
	events, err := repo.ListEvents(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}
	status, err := repo.LatestStatus(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ev := range events {
		fmt.Fprintln(out, eventLine(ev))
	}
	if status != "" {
		fmt.Fprintf(out, "status: %s\n", status)
	}
	return nil
}

// eventLine renders a stored event for the history command.
func eventLine(ev repository.ConversationEvent) string {
	ts := ev.CreatedAt.Local().Format("15:04:05")
	switch ev.Kind {
	case repository.EventStatus:
		return fmt.Sprintf("%s [%s]", ts, ev.Status)
	case repository.EventMessage:
		return fmt.Sprintf("%s %s> %s", ts, ev.Role, ev.Content)
	case repository.EventError:
		return fmt.Sprintf("%s [error] %s", ts, ev.Content)
	default:
		return fmt.Sprintf("%s [%s] %s", ts, ev.Kind, ev.Content)
	}
}
