// Package config loads the broker configuration from a TOML file, applies
// environment overrides, and watches the file for persona changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/chatbroker/pkg/persona"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "chatbroker.toml"

// Bus drivers.
const (
	BusRedis    = "redis"
	BusSQLite   = "sqlite"
	BusInMemory = "memory"
)

// Environment variables consulted after the file.
const (
	EnvRedisHost  = "REDIS_HOST"
	EnvRedisPort  = "REDIS_PORT"
	EnvBackendURL = "KOBOLT_API_URL"
	EnvBus        = "CHATBROKER_BUS"
)

// Config is the full broker configuration.
type Config struct {
	Bus     string        `toml:"bus"`
	Redis   RedisConfig   `toml:"redis"`
	SQLite  SQLiteConfig  `toml:"sqlite"`
	Backend BackendConfig `toml:"backend"`
	Queues  QueueConfig   `toml:"queues"`
	Session SessionConfig `toml:"session"`
	Persona PersonaConfig `toml:"persona"`
	Gateway GatewayConfig `toml:"gateway"`
	Log     LogConfig     `toml:"log"`
}

type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type BackendConfig struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`

	// Tokenizer selects the token counter: backend, tiktoken or heuristic.
	Tokenizer string `toml:"tokenizer"`
}

type QueueConfig struct {
	Inbound     string        `toml:"inbound"`
	Outbound    string        `toml:"outbound"`
	Extra       []string      `toml:"extra"`
	ResponseTTL time.Duration `toml:"response_ttl"`
}

type SessionConfig struct {
	TTL    time.Duration `toml:"ttl"`
	Budget int           `toml:"budget"`
}

// PersonaConfig is the persona seeded into new sessions.
type PersonaConfig struct {
	EmotionalDepth int `toml:"emotional_depth"`
	TrustBaseline  int `toml:"trust_baseline"`

	// RefreshEvery regenerates the preamble every N turns; zero disables it.
	RefreshEvery int `toml:"refresh_every"`
}

// Persona returns the configured persona.
func (p PersonaConfig) Persona() persona.Persona {
	return persona.Persona{EmotionalDepth: p.EmotionalDepth, TrustBaseline: p.TrustBaseline}
}

type GatewayConfig struct {
	Listen       string        `toml:"listen"`
	Timeout      time.Duration `toml:"timeout"`
	PollInterval time.Duration `toml:"poll_interval"`
}

type LogConfig struct {
	Debug  bool   `toml:"debug"`
	Format string `toml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Bus: BusRedis,
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		SQLite: SQLiteConfig{
			Path: "chatbroker.db",
		},
		Backend: BackendConfig{
			URL:       "http://localhost:5001",
			Timeout:   5 * time.Minute,
			Tokenizer: "backend",
		},
		Queues: QueueConfig{
			Inbound:     "emotika_incoming",
			Outbound:    "emotika_response",
			Extra:       []string{"llama_queue", "llama_response_queue"},
			ResponseTTL: 12 * time.Hour,
		},
		Session: SessionConfig{
			TTL:    12 * time.Hour,
			Budget: 2000,
		},
		Persona: PersonaConfig{
			EmotionalDepth: persona.Default.EmotionalDepth,
			TrustBaseline:  persona.Default.TrustBaseline,
		},
		Gateway: GatewayConfig{
			Listen:       ":8080",
			Timeout:      60 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Format: "console",
		},
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path over the defaults and applies environment overrides. A
// missing file is only an error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.Decode(string(data)); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays TOML data onto cfg. Keys absent from data keep their
// current values.
func (c *Config) Decode(data string) error {
	md, err := toml.Decode(data, c)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvRedisHost); ok && v != "" {
		c.Redis.Host = v
	}
	if v, ok := lookup(EnvRedisPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRedisPort, err)
		}
		c.Redis.Port = port
	}
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		c.Backend.URL = v
	}
	if v, ok := lookup(EnvBus); ok && v != "" {
		c.Bus = v
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Bus {
	case BusRedis, BusSQLite, BusInMemory:
	default:
		return fmt.Errorf("unknown bus %q", c.Bus)
	}

	if c.Queues.Inbound == "" || c.Queues.Outbound == "" {
		return fmt.Errorf("queue names must not be empty")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Session.Budget <= 0 {
		return fmt.Errorf("session budget must be positive")
	}
	if c.Persona.RefreshEvery < 0 {
		return fmt.Errorf("persona refresh_every must not be negative")
	}
	return nil
}
