package chatcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
	"github.com/papercomputeco/chatbroker/pkg/idgen"
	"github.com/papercomputeco/chatbroker/pkg/llm"
)

const chatLongDesc string = `Chat interactively through the broker.

Each message goes through the inbound queue to a running worker, so the
conversation is stored in the session like any other client's. Without
--session a new session token is minted and printed on exit so the
conversation can be resumed later.

Examples:
  chatbroker chat
  chatbroker chat --session 0193f7a2-5c1e-7cc3-9a55-0d2a8b1f6e44`

const chatShortDesc string = "Interactive terminal chat"

type chatCommander struct {
	session string
	timeout time.Duration
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.session, "session", "s", "", "Session token to resume")
	cmd.Flags().DurationVarP(&cmder.timeout, "timeout", "t", 0, "How long to wait for each reply (default from config)")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal; use submit instead")
	}

	// Log lines would tear the alternate screen.
	env, err := wiring.Load(cmd, io.Discard)
	if err != nil {
		return err
	}

	b, err := env.OpenBus(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	session := c.session
	if session == "" {
		session = idgen.SessionToken()
	}

	timeout := c.timeout
	if timeout <= 0 {
		timeout = env.Config.Gateway.Timeout
	}

	client := env.Client(b)
	ask := func(ctx context.Context, message string) (*llm.OutboundResponse, error) {
		return client.Ask(ctx, session, message, timeout)
	}

	program := tea.NewProgram(newModel(ctx, ask, session, styles.DarkStyle), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", session)
	return nil
}
