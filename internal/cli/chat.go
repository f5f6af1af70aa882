package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/connector-chat/server/internal/agent/graph/observers"
	"github.com/connector-chat/server/internal/agent/session"
	"github.com/connector-chat/server/internal/server"
)

const chatBanner = `Connector chat. Ask about your Gong, HubSpot or Linear data.
Commands: /reset clears the conversation, /exit quits.`

func newChatCmd(rt runtime) *cobra.Command {
	var (
		sessionID string
		newID     bool
		plain     bool
		width     int
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if newID {
				sessionID = session.NewID()
				fmt.Fprintf(out, "Session: %s\n", sessionID)
			}

			chat, closeChat, err := rt.chat(ctx, observers.NewTerminalLogger(out))
			if err != nil {
				return err
			}
			defer closeChat()

			render := plainRenderer
			if !plain {
				render, err = markdownRenderer(width)
				if err != nil {
					return err
				}
			}

			return chatLoop(ctx, chat, sessionID, cmd.InOrStdin(), out, render)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", session.DefaultSessionID, "conversation session id")
	cmd.Flags().BoolVar(&newID, "new", false, "start a fresh session with a generated id")
	cmd.Flags().BoolVar(&plain, "plain", false, "print replies without markdown rendering")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width for rendered replies")
	return cmd
}

func chatLoop(ctx context.Context, chat server.ChatService, sessionID string, in io.Reader, out io.Writer, render func(string) string) error {
	fmt.Fprintln(out, chatBanner)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit":
			fmt.Fprintln(out, "Bye.")
			return nil
		case "/reset":
			if err := chat.Reset(ctx, sessionID); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			} else {
				fmt.Fprintln(out, "Conversation cleared.")
			}
			continue
		}

		res, err := chat.Run(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\nAgent: %s\n", render(res.Reply))
	}
}

func plainRenderer(s string) string { return s }

func markdownRenderer(width int) (func(string) string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return func(s string) string {
		rendered, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimSpace(rendered)
	}, nil
}
