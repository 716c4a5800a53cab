// Package tokenizer provides token counters used to keep transcripts within a
// budget. The backend counter is authoritative; the local counters exist for
// running without a reachable tokencount endpoint.
package tokenizer

import (
	"context"
	"fmt"
)

// Counter returns the number of tokens a text fragment occupies.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// CounterFunc adapts a plain function to a Counter.
type CounterFunc func(ctx context.Context, text string) (int, error)

// CountTokens calls f.
func (f CounterFunc) CountTokens(ctx context.Context, text string) (int, error) {
	return f(ctx, text)
}

// Kinds accepted by New.
const (
	KindBackend   = "backend"
	KindTiktoken  = "tiktoken"
	KindHeuristic = "heuristic"
)

// New selects a counter by kind. The backend counter is used for KindBackend
// and for the empty kind.
func New(kind string, backend Counter) (Counter, error) {
	switch kind {
	case "", KindBackend:
		if backend == nil {
			return nil, fmt.Errorf("backend token counter not configured")
		}
		return backend, nil
	case KindTiktoken:
		return NewTiktoken(DefaultEncoding)
	case KindHeuristic:
		return Heuristic{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
