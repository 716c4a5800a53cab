package backendcmder

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
)

const backendLongDesc string = `Show what the text generation backend is running.

Queries the backend's model, version, context and performance endpoints.
With --abort the generation currently in progress is stopped instead.

Examples:
  chatbroker backend
  KOBOLT_API_URL=http://gpu:5001 chatbroker backend
  chatbroker backend --abort`

const backendShortDesc string = "Show backend information"

type backendCommander struct {
	abort bool
}

func NewBackendCmd() *cobra.Command {
	cmder := &backendCommander{}

	cmd := &cobra.Command{
		Use:   "backend",
		Short: backendShortDesc,
		Long:  backendLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.abort, "abort", false, "Abort the running generation")

	return cmd
}

func (c *backendCommander) run(ctx context.Context, cmd *cobra.Command) error {
	env, err := wiring.Load(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Logger.Sync()

	backend := env.Backend()
	out := cmd.OutOrStdout()

	if c.abort {
		if err := backend.Abort(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Generation aborted.")
		return nil
	}

	model, err := backend.Model(ctx)
	if err != nil {
		return fmt.Errorf("could not reach backend at %s: %w", env.Config.Backend.URL, err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL:\t%s\n", env.Config.Backend.URL)
	fmt.Fprintf(w, "Model:\t%s\n", model)

	if v, err := backend.APIVersion(ctx); err == nil {
		fmt.Fprintf(w, "API version:\t%s\n", v)
	}
	if v, err := backend.Version(ctx); err == nil {
		fmt.Fprintf(w, "Backend:\t%s %s\n", v.Result, v.Version)
	}
	if n, err := backend.MaxContextLength(ctx); err == nil {
		fmt.Fprintf(w, "Context length:\t%d\n", n)
	}
	if n, err := backend.TrueMaxContextLength(ctx); err == nil {
		fmt.Fprintf(w, "Max context length:\t%d\n", n)
	}
	if p, err := backend.Perf(ctx); err == nil {
		fmt.Fprintf(w, "Generations:\t%d\n", p.TotalGens)
		fmt.Fprintf(w, "Last eval:\t%.2fs (%d tokens)\n", p.LastEval, p.LastTokenCnt)
		fmt.Fprintf(w, "Queue:\t%d\n", p.Queue)
		fmt.Fprintf(w, "Uptime:\t%.0fs\n", p.Uptime)
	}

	return w.Flush()
}
