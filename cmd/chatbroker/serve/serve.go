package servecmder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/cmd/chatbroker/wiring"
	"github.com/papercomputeco/chatbroker/gateway"
	"github.com/papercomputeco/chatbroker/pkg/config"
)

const serveLongDesc string = `Run the queue worker.

Pops chat requests off the inbound queue, generates replies against the
backend, and publishes them to the response slot and the outbound queue.
With --http the HTTP gateway runs in the same process, which is the only
way to use the in-memory bus.

Persona settings are reloaded when the config file changes.

Examples:
  chatbroker serve
  chatbroker serve --bus memory --http --listen :8080
  REDIS_HOST=redis KOBOLT_API_URL=http://gpu:5001 chatbroker serve`

const serveShortDesc string = "Run the queue worker"

type serveCommander struct {
	http   bool
	listen string
	watch  bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.http, "http", false, "Also run the HTTP gateway")
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Gateway listen address (default from config)")
	cmd.Flags().BoolVar(&cmder.watch, "watch", true, "Reload persona settings when the config file changes")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
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

	backend := env.Backend()
	pruner, err := env.Pruner(backend)
	if err != nil {
		return err
	}

	personas := config.NewLivePersona(env.Config.Persona.Persona())
	if c.watch {
		c.watchConfig(ctx, env, personas)
	}

	sessions := env.Sessions(b, pruner)
	worker := broker.NewWorker(env.WorkerConfig(), b, sessions, env.Generator(backend, pruner, personas), env.Logger)

	if c.http {
		listen := c.listen
		if listen == "" {
			listen = env.Config.Gateway.Listen
		}

		gw := gateway.New(gateway.Config{
			ListenAddr: listen,
			Timeout:    env.Config.Gateway.Timeout,
		}, b, env.Client(b), sessions, env.Logger, gateway.WithWorkerStats(worker.Stats))

		go func() {
			if err := gw.Run(); err != nil {
				env.Logger.Error("gateway stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gw.Shutdown(shutdownCtx); err != nil {
				env.Logger.Warn("gateway shutdown", zap.Error(err))
			}
		}()
	}

	if err := worker.Run(ctx); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return nil
}

// watchConfig keeps personas in sync with the config file, if there is one.
func (c *serveCommander) watchConfig(ctx context.Context, env *wiring.Env, personas *config.LivePersona) {
	if _, err := os.Stat(env.ConfigPath); err != nil {
		env.Logger.Debug("no config file to watch", zap.String("path", env.ConfigPath))
		return
	}

	go func() {
		err := config.Watch(ctx, env.ConfigPath, func(cfg *config.Config) {
			p := cfg.Persona.Persona()
			personas.Store(p)
			env.Logger.Info("persona updated", zap.Stringer("persona", p))
		}, env.Logger)
		if err != nil {
			env.Logger.Warn("config watch stopped", zap.Error(err))
		}
	}()
}
