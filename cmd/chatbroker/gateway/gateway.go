package gatewaycmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
	"github.com/papercomputeco/chatbroker/gateway"
)

const gatewayLongDesc string = `Run the HTTP gateway without a worker.

Requests are enqueued on the shared bus and answered by whichever worker
picks them up, so this needs the redis or sqlite bus.

Examples:
  chatbroker gateway --listen :8080
  curl -d '{"sessionToken":"abc","userMessage":"hello"}' localhost:8080/chat`

const gatewayShortDesc string = "Run the HTTP gateway"

type gatewayCommander struct {
	listen string
}

func NewGatewayCmd() *cobra.Command {
	cmder := &gatewayCommander{}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: gatewayShortDesc,
		Long:  gatewayLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Listen address (default from config)")

	return cmd
}

func (c *gatewayCommander) run(ctx context.Context, cmd *cobra.Command) error {
	env, err := wiring.Load(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer env.Logger.Sync()

	b, err := env.OpenBus(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	pruner, err := env.Pruner(env.Backend())
	if err != nil {
		return err
	}

	listen := c.listen
	if listen == "" {
		listen = env.Config.Gateway.Listen
	}

	gw := gateway.New(gateway.Config{
		ListenAddr: listen,
		Timeout:    env.Config.Gateway.Timeout,
	}, b, env.Client(b), env.Sessions(b, pruner), env.Logger)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}
