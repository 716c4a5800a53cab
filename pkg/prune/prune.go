// Package prune keeps a transcript within a token budget by dropping the
// oldest turns while always retaining the preamble.
package prune

import (
	"context"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/tokenizer"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

// Pruner trims transcripts to a token budget.
type Pruner struct {
	counter tokenizer.Counter
	logger  *zap.Logger
}

// New creates a Pruner counting tokens with counter.
func New(counter tokenizer.Counter, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{counter: counter, logger: logger}
}

// Prune returns the largest preamble-anchored suffix of t whose turns fit in
// budget tokens.
//
// A transcript that already fits is returned unchanged. If the preamble alone
// uses up the budget, only the preamble is returned, even when it exceeds the
// budget. A turn whose token count cannot be obtained is left out and the walk
// continues with older turns.
func (p *Pruner) Prune(ctx context.Context, t transcript.Transcript, budget int) transcript.Transcript {
	if t.IsEmpty() {
		return t
	}

	if total, err := p.counter.CountTokens(ctx, t.Render()); err == nil && total <= budget {
		return t
	} else if err != nil {
		p.logger.Warn("could not count transcript tokens, pruning turn by turn", zap.Error(err))
	}

	preambleTokens, err := p.counter.CountTokens(ctx, t.Preamble)
	if err != nil {
		p.logger.Warn("could not count preamble tokens, leaving transcript unpruned", zap.Error(err))
		return t
	}

	remaining := budget - preambleTokens
	if remaining <= 0 {
		p.logger.Debug("preamble exhausts token budget",
			zap.Int("preamble_tokens", preambleTokens),
			zap.Int("budget", budget),
			zap.Int("dropped_turns", len(t.Turns)),
		)
		return t.WithTurns(nil)
	}

	kept := make([]llm.Turn, 0, len(t.Turns))
	used := 0
	skipped := 0
	for i := len(t.Turns) - 1; i >= 0; i-- {
		n, err := p.counter.CountTokens(ctx, t.Turns[i].Line())
		if err != nil {
			skipped++
			p.logger.Debug("skipping turn with unknown token count", zap.Int("turn", i), zap.Error(err))
			continue
		}

		if used+n > remaining {
			break
		}
		kept = append(kept, t.Turns[i])
		used += n
	}

	reverse(kept)

	p.logger.Debug("pruned transcript",
		zap.Int("budget", budget),
		zap.Int("preamble_tokens", preambleTokens),
		zap.Int("turn_tokens", used),
		zap.Int("kept_turns", len(kept)),
		zap.Int("original_turns", len(t.Turns)),
		zap.Int("skipped_turns", skipped),
	)

	if len(kept) == 0 {
		kept = nil
	}
	return t.WithTurns(kept)
}

func reverse(turns []llm.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
