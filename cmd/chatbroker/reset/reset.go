package resetcmder

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
)

const resetLongDesc string = `Clear all queues, sessions and stored responses.

Deletes the inbound and outbound queues, the extra queues listed in the
config, and every conversation:* and response:* key. Stop all workers
first; a running worker may recreate keys while the reset is in progress.

Examples:
  chatbroker reset --yes
  chatbroker reset --bus sqlite --yes`

const resetShortDesc string = "Clear all queues and sessions"

type resetCommander struct {
	yes bool
}

func NewResetCmd() *cobra.Command {
	cmder := &resetCommander{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: resetShortDesc,
		Long:  resetLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVarP(&cmder.yes, "yes", "y", false, "Confirm the reset")

	return cmd
}

func (c *resetCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if !c.yes {
		return fmt.Errorf("refusing to reset without --yes")
	}

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

	report, err := broker.Reset(ctx, b, env.WorkerConfig(), env.Logger)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	queues := make([]string, 0, len(report.Queues))
	for q := range report.Queues {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	out := cmd.OutOrStdout()
	for _, q := range queues {
		fmt.Fprintf(out, "Cleared queue %s (%d items)\n", q, report.Queues[q])
	}
	fmt.Fprintf(out, "Cleared %d sessions and %d responses\n", report.Sessions, report.Responses)

	return nil
}
