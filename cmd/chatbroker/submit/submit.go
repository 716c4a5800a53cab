package submitcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
)

const submitLongDesc string = `Submit one message and wait for the reply.

The message is pushed onto the inbound queue like any other producer's
request, and the reply is read back from its response slot.

Examples:
  chatbroker submit "I have had a headache since yesterday"
  chatbroker submit --session 0193f7a2 "Is it serious?"
  chatbroker submit --json --timeout 2m "hello"`

const submitShortDesc string = "Submit a message and wait for the reply"

type submitCommander struct {
	session string
	id      string
	timeout time.Duration
	json    bool
}

func NewSubmitCmd() *cobra.Command {
	cmder := &submitCommander{}

	cmd := &cobra.Command{
		Use:   "submit <message>",
		Short: submitShortDesc,
		Long:  submitLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.session, "session", "s", "", "Session token (empty for a one-off request)")
	cmd.Flags().StringVar(&cmder.id, "id", "", "Request id (generated when empty)")
	cmd.Flags().DurationVarP(&cmder.timeout, "timeout", "t", 0, "How long to wait for the reply (default from config)")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print the raw response as JSON")

	return cmd
}

func (c *submitCommander) run(ctx context.Context, cmd *cobra.Command, message string) error {
	env, err := wiring.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Logger.Sync()

	b, err := env.OpenBus(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	timeout := c.timeout
	if timeout <= 0 {
		timeout = env.Config.Gateway.Timeout
	}

	client := env.Client(b)
	id, err := client.Submit(ctx, c.id, c.session, message)
	if err != nil {
		return err
	}

	awaitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Await(awaitCtx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no response to %s within %s", id, timeout)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Failed() {
		return fmt.Errorf("request %s failed: %s", id, resp.Error)
	}
	fmt.Fprintln(out, strings.TrimSpace(resp.Response))
	return nil
}
