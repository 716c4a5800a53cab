// Package session keeps per-session transcripts on the bus with a sliding
// expiry: every access pushes the expiry out by the full TTL.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

const (
	// KeyPrefix namespaces session keys on the bus.
	KeyPrefix = "conversation:"

	// DefaultTTL is how long an idle session survives.
	DefaultTTL = 12 * time.Hour

	// DefaultBudget is the token budget transcripts are pruned to on update.
	DefaultBudget = 2000
)

// Key returns the bus key of a session.
func Key(token string) string {
	return KeyPrefix + token
}

// Config tunes the store.
type Config struct {
	TTL    time.Duration
	Budget int
}

// Store reads and writes session transcripts.
//
// A read-modify-write cycle is not atomic across processes: two workers
// handling the same token concurrently can lose one another's turns.
type Store struct {
	bus    bus.Bus
	pruner *prune.Pruner
	config Config
	logger *zap.Logger
}

// NewStore creates a Store.
func NewStore(b bus.Bus, pruner *prune.Pruner, config Config, logger *zap.Logger) *Store {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Budget <= 0 {
		config.Budget = DefaultBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{bus: b, pruner: pruner, config: config, logger: logger}
}

// TTL returns the sliding expiry applied on every access.
func (s *Store) TTL() time.Duration {
	return s.config.TTL
}

// GetOrCreate returns the session's transcript, creating an empty session if
// none exists. Either way the session's expiry is reset to the full TTL.
func (s *Store) GetOrCreate(ctx context.Context, token string) (transcript.Transcript, error) {
	key := Key(token)

	value, err := s.bus.Get(ctx, key)
	if bus.IsNotFound(err) {
		if err := s.bus.Set(ctx, key, "", s.config.TTL); err != nil {
			return transcript.Transcript{}, fmt.Errorf("create session: %w", err)
		}
		s.logger.Debug("created session", zap.String("session", token))
		return transcript.Transcript{}, nil
	}
	if err != nil {
		return transcript.Transcript{}, fmt.Errorf("get session: %w", err)
	}

	if _, err := s.bus.Expire(ctx, key, s.config.TTL); err != nil {
		return transcript.Transcript{}, fmt.Errorf("refresh session: %w", err)
	}

	t, err := transcript.Decode(value)
	if err != nil {
		return transcript.Transcript{}, fmt.Errorf("read session %s: %w", token, err)
	}
	return t, nil
}

// Update prunes t to the configured budget and stores it with a fresh TTL.
func (s *Store) Update(ctx context.Context, token string, t transcript.Transcript) error {
	pruned := s.pruner.Prune(ctx, t, s.config.Budget)

	value, err := transcript.Encode(pruned)
	if err != nil {
		return err
	}

	if err := s.bus.Set(ctx, Key(token), value, s.config.TTL); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	s.logger.Debug("updated session",
		zap.String("session", token),
		zap.Int("turns", len(pruned.Turns)),
		zap.Int("turn_index", pruned.TurnIndex),
	)
	return nil
}

// Peek returns the session's transcript without touching its expiry.
// Returns bus.ErrNotFound if the session doesn't exist.
func (s *Store) Peek(ctx context.Context, token string) (transcript.Transcript, error) {
	value, err := s.bus.Get(ctx, Key(token))
	if err != nil {
		return transcript.Transcript{}, err
	}
	return transcript.Decode(value)
}

// Clear deletes the session. Reports whether it existed.
func (s *Store) Clear(ctx context.Context, token string) (bool, error) {
	n, err := s.bus.Delete(ctx, Key(token))
	if err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	return n > 0, nil
}
