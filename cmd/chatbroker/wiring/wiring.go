// Package wiring builds the broker's components from the loaded
// configuration. Every subcommand goes through it so they agree on flags,
// logging and bus selection.
package wiring

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/bus/inmemory"
	"github.com/papercomputeco/chatbroker/pkg/bus/redis"
	"github.com/papercomputeco/chatbroker/pkg/bus/sqlite"
	"github.com/papercomputeco/chatbroker/pkg/config"
	"github.com/papercomputeco/chatbroker/pkg/generation"
	"github.com/papercomputeco/chatbroker/pkg/kobold"
	"github.com/papercomputeco/chatbroker/pkg/logger"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/session"
	"github.com/papercomputeco/chatbroker/pkg/tokenizer"
)

// Persistent flag names registered on the root command.
const (
	FlagConfig    = "config"
	FlagDebug     = "debug"
	FlagLogFormat = "log-format"
	FlagBus       = "bus"
)

// AddPersistentFlags registers the flags every subcommand understands.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(FlagConfig, "c", config.DefaultPath, "Path to the TOML config file")
	cmd.PersistentFlags().Bool(FlagDebug, false, "Enable debug logging")
	cmd.PersistentFlags().String(FlagLogFormat, "", "Log format: console or json")
	cmd.PersistentFlags().String(FlagBus, "", "Bus driver: redis, sqlite or memory")
}

// Env is the loaded configuration and logger for one command invocation.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger
}

// Load reads configuration with flag overrides applied last and builds the
// logger. Logs go to logOut.
func Load(cmd *cobra.Command, logOut io.Writer) (*Env, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString(FlagConfig)
	cfg, err := config.Load(path, flags.Changed(FlagConfig))
	if err != nil {
		return nil, err
	}

	if debug, _ := flags.GetBool(FlagDebug); debug {
		cfg.Log.Debug = true
	}
	if format, _ := flags.GetString(FlagLogFormat); format != "" {
		cfg.Log.Format = format
	}
	if b, _ := flags.GetString(FlagBus); b != "" {
		cfg.Bus = b
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(logger.Options{
		Debug:  cfg.Log.Debug,
		Format: cfg.Log.Format,
		Output: logOut,
	})

	return &Env{Config: cfg, ConfigPath: path, Logger: log}, nil
}

// OpenBus connects to the configured bus. When requireReachable is false a
// failed ping is only logged; the redis driver reconnects on the next command
// and the worker loop backs off until it does.
func (e *Env) OpenBus(ctx context.Context, requireReachable bool) (bus.Bus, error) {
	var b bus.Bus

	switch e.Config.Bus {
	case config.BusRedis:
		b = redis.NewDriver(redis.Config{
			Addr:     e.Config.Redis.Addr(),
			Password: e.Config.Redis.Password,
			DB:       e.Config.Redis.DB,
		}, e.Logger)
		e.Logger.Info("using redis bus", zap.String("addr", e.Config.Redis.Addr()))
	case config.BusSQLite:
		driver, err := sqlite.NewDriver(ctx, e.Config.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("could not open sqlite bus %s: %w", e.Config.SQLite.Path, err)
		}
		b = driver
		e.Logger.Info("using sqlite bus", zap.String("path", e.Config.SQLite.Path))
	case config.BusInMemory:
		b = inmemory.NewDriver()
		e.Logger.Info("using in-memory bus")
	default:
		return nil, fmt.Errorf("unknown bus %q", e.Config.Bus)
	}

	if err := b.Ping(ctx); err != nil {
		if !requireReachable {
			e.Logger.Warn("bus unreachable at startup, will keep retrying",
				zap.String("bus", e.Config.Bus),
				zap.Error(err),
			)
			return b, nil
		}
		b.Close()
		return nil, fmt.Errorf("could not reach %s bus: %w", e.Config.Bus, err)
	}
	return b, nil
}

// Backend returns a client for the text generation backend.
func (e *Env) Backend() *kobold.Client {
	return kobold.New(kobold.Config{
		BaseURL: e.Config.Backend.URL,
		Timeout: e.Config.Backend.Timeout,
	}, e.Logger)
}

// Pruner returns the conversation pruner using the configured token counter.
func (e *Env) Pruner(backend *kobold.Client) (*prune.Pruner, error) {
	counter, err := tokenizer.New(e.Config.Backend.Tokenizer, backend)
	if err != nil {
		return nil, fmt.Errorf("could not create token counter: %w", err)
	}
	return prune.New(counter, e.Logger), nil
}

// Sessions returns the session store over b.
func (e *Env) Sessions(b bus.Bus, pruner *prune.Pruner) *session.Store {
	return session.NewStore(b, pruner, session.Config{
		TTL:    e.Config.Session.TTL,
		Budget: e.Config.Session.Budget,
	}, e.Logger)
}

// Generator returns the generation client. personas may be nil to use the
// configured persona as is.
func (e *Env) Generator(backend *kobold.Client, pruner *prune.Pruner, personas generation.PersonaSource) *generation.Client {
	if personas == nil {
		personas = generation.StaticPersona(e.Config.Persona.Persona())
	}
	return generation.New(backend, pruner, personas, generation.Config{
		ContextCeiling: generation.DefaultContextCeiling,
		RefreshEvery:   e.Config.Persona.RefreshEvery,
	}, e.Logger)
}

// WorkerConfig maps the queue settings onto the worker configuration.
func (e *Env) WorkerConfig() broker.Config {
	wc := broker.DefaultConfig()
	wc.InboundQueue = e.Config.Queues.Inbound
	wc.OutboundQueue = e.Config.Queues.Outbound
	wc.ExtraQueues = e.Config.Queues.Extra
	wc.ResponseTTL = e.Config.Queues.ResponseTTL
	return wc
}

// Client returns a queue client for producers.
func (e *Env) Client(b bus.Bus) *broker.Client {
	return broker.NewClient(b, e.Config.Queues.Inbound, e.Config.Gateway.PollInterval)
}
