package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/bridge"
	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/streaming"
)

const consoleChatID = "console"

// consoleAdapter renders bridge output on a terminal. Streaming updates are
// suppressed; only finished turns are printed.
type consoleAdapter struct {
	out io.Writer
}

func (a *consoleAdapter) NewTransport(string) streaming.Transport {
	return &consoleTransport{out: a.out}
}

func (a *consoleAdapter) SendText(_ context.Context, _, text string) error {
	_, err := fmt.Fprintln(a.out, text)
	return err
}

func (a *consoleAdapter) PromptPermission(_ context.Context, _ string, perm core.Permission) error {
	_, err := fmt.Fprintf(a.out, "[permission] %s (reply with /approve or /deny)\n", perm.Title)
	return err
}

type consoleTransport struct {
	out io.Writer
}

func (t *consoleTransport) Begin(context.Context) error          { return nil }
func (t *consoleTransport) Update(context.Context, string) error { return nil }

func (t *consoleTransport) Finalize(_ context.Context, text string) error {
	_, err := fmt.Fprintln(t.out, text)
	return err
}

func (t *consoleTransport) SendNew(_ context.Context, text string) error {
	_, err := fmt.Fprintln(t.out, text)
	return err
}

func newChatCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long:  "chat opens an interactive console conversation backed by the configured runtime. Lines starting with / are commands: /interrupt, /project <dir>, /approve, /deny, /history [n], /quit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(*cfgPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			b := bridge.New(a.relay.Manager(), &consoleAdapter{out: out}, func(o *bridge.Options) {
				o.Store = a.store
				o.StreamInterval = a.cfg.Streaming.MinInterval
				o.MaxDisplay = a.cfg.Streaming.MaxDisplay
				o.Metrics = a.streamM
				o.Logger = a.logger
			})
			defer func() {
				b.Shutdown(context.Background())
				a.close(context.Background())
			}()

			ctx := cmd.Context()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			fmt.Fprintln(out, "connected, /quit to exit")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "/") {
					if quit := runChatCommand(ctx, b, out, line); quit {
						return nil
					}
					continue
				}
				if err := b.HandleMessage(ctx, consoleChatID, true, line); err != nil {
					switch {
					case errors.Is(err, core.ErrSessionBusy):
						fmt.Fprintln(out, "agent is busy, /interrupt to abort the current turn")
					default:
						fmt.Fprintln(out, "error:", err)
					}
				}
			}
			return scanner.Err()
		},
	}
}

func runChatCommand(ctx context.Context, b *bridge.Bridge, out io.Writer, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/interrupt":
		err = b.Interrupt(ctx, consoleChatID)
	case "/project":
		if arg == "" {
			fmt.Fprintln(out, "usage: /project <dir>")
			return false
		}
		err = b.SwitchProject(ctx, consoleChatID, arg)
	case "/approve":
		err = b.ResolvePermission(ctx, consoleChatID, core.PermissionOnce)
	case "/deny":
		err = b.ResolvePermission(ctx, consoleChatID, core.PermissionReject)
	case "/history":
		n := 20
		if arg != "" {
			if parsed, perr := strconv.Atoi(arg); perr == nil {
				n = parsed
			}
		}
		var turns []historyTurn
		turns, err = chatHistory(ctx, b, n)
		for _, turn := range turns {
			fmt.Fprintf(out, "%s %s: %s\n", turn.When, turn.Role, turn.Text)
		}
	default:
		fmt.Fprintln(out, "unknown command:", cmd)
	}
	if err != nil {
		fmt.Fprintln(out, "error:", err)
	}
	return false
}

type historyTurn struct {
	When string
	Role string
	Text string
}

func chatHistory(ctx context.Context, b *bridge.Bridge, n int) ([]historyTurn, error) {
	turns, err := b.History(ctx, consoleChatID, n)
	if err != nil {
		return nil, err
	}
	out := make([]historyTurn, 0, len(turns))
	for _, turn := range turns {
		out = append(out, historyTurn{
			When: turn.CreatedAt.Format("15:04:05"),
			Role: turn.Role,
			Text: turn.Text,
		})
	}
	return out, nil
}
