package prune_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/tokenizer"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

// wordCounter counts one token per whitespace-separated word and fails for
// any fragment containing "UNCOUNTABLE".
type wordCounter struct {
	calls []string
}

func (w *wordCounter) CountTokens(_ context.Context, text string) (int, error) {
	w.calls = append(w.calls, text)
	if strings.Contains(text, "UNCOUNTABLE") {
		return 0, errors.New("tokencount unavailable")
	}
	return len(strings.Fields(text)), nil
}

func conversation(turns int) transcript.Transcript {
	t := transcript.Transcript{Preamble: "SYS", TurnIndex: turns / 2}
	for i := 0; i < turns; i++ {
		if i%2 == 0 {
			t.Turns = append(t.Turns, llm.UserTurn(fmt.Sprintf("question %d", i)))
		} else {
			t.Turns = append(t.Turns, llm.AssistantTurn(fmt.Sprintf("answer %d", i)))
		}
	}
	return t
}

var _ = Describe("Pruner", func() {
	var (
		ctx     context.Context
		counter *wordCounter
		pruner  *prune.Pruner
	)

	BeforeEach(func() {
		ctx = context.Background()
		counter = &wordCounter{}
		pruner = prune.New(counter, nil)
	})

	Context("when the transcript fits", func() {
		It("returns it unchanged after a single count", func() {
			t := conversation(4)

			pruned := pruner.Prune(ctx, t, 1000)

			Expect(pruned).To(Equal(t))
			Expect(counter.calls).To(HaveLen(1))
		})

		It("is idempotent", func() {
			t := conversation(6)

			once := pruner.Prune(ctx, t, 1000)
			twice := pruner.Prune(ctx, once, 1000)

			Expect(twice).To(Equal(once))
		})
	})

	Context("when the budget only covers the preamble", func() {
		It("returns the preamble alone", func() {
			t := transcript.Transcript{
				Preamble: "SYS",
				Turns:    []llm.Turn{llm.UserTurn("hi"), llm.AssistantTurn("hello")},
			}

			pruned := pruner.Prune(ctx, t, 1)

			Expect(pruned.Render()).To(Equal("SYS"))
			Expect(pruned.Turns).To(BeEmpty())
		})
	})

	Context("when the preamble alone exceeds the budget", func() {
		It("still keeps the preamble", func() {
			t := transcript.Transcript{
				Preamble: "a very long system preamble",
				Turns:    []llm.Turn{llm.UserTurn("hi")},
			}

			pruned := pruner.Prune(ctx, t, 2)

			Expect(pruned.Preamble).To(Equal(t.Preamble))
			Expect(pruned.Turns).To(BeEmpty())
		})
	})

	Context("when some turns must be dropped", func() {
		It("keeps the most recent turns that fit", func() {
			// SYS=1, each turn "User: question N" = 3 words
			t := conversation(6)

			pruned := pruner.Prune(ctx, t, 1+3+3)

			Expect(pruned.Turns).To(Equal(t.Turns[4:]))
		})

		It("never splits a turn", func() {
			t := conversation(6)

			pruned := pruner.Prune(ctx, t, 1+3+2)

			Expect(pruned.Turns).To(Equal(t.Turns[5:]))
		})

		It("stops at the first turn that would overflow", func() {
			t := transcript.Transcript{
				Preamble: "SYS",
				Turns: []llm.Turn{
					llm.UserTurn("x"),
					llm.AssistantTurn("one two three four five six"),
					llm.UserTurn("latest"),
				},
			}

			// remaining 4: "User: latest" (2) fits, the long turn (7) does not,
			// and the short oldest turn is not considered after the break.
			pruned := pruner.Prune(ctx, t, 5)

			Expect(pruned.Turns).To(Equal([]llm.Turn{llm.UserTurn("latest")}))
		})

		It("preserves the turn index", func() {
			t := conversation(6)

			Expect(pruner.Prune(ctx, t, 4).TurnIndex).To(Equal(t.TurnIndex))
		})
	})

	Context("when a turn cannot be counted", func() {
		It("leaves that turn out and keeps walking", func() {
			t := transcript.Transcript{
				Preamble: "SYS",
				Turns: []llm.Turn{
					llm.UserTurn("older"),
					llm.AssistantTurn("UNCOUNTABLE"),
					llm.UserTurn("newest"),
				},
			}

			pruned := pruner.Prune(ctx, t, 5)

			Expect(pruned.Turns).To(Equal([]llm.Turn{llm.UserTurn("older"), llm.UserTurn("newest")}))
		})
	})

	Context("when the preamble cannot be counted", func() {
		It("returns the transcript unchanged", func() {
			t := transcript.Transcript{
				Preamble: "UNCOUNTABLE",
				Turns:    []llm.Turn{llm.UserTurn("hi")},
			}

			Expect(pruner.Prune(ctx, t, 1)).To(Equal(t))
		})
	})

	It("leaves an empty transcript alone without counting", func() {
		Expect(pruner.Prune(ctx, transcript.Transcript{}, 0)).To(Equal(transcript.Transcript{}))
		Expect(counter.calls).To(BeEmpty())
	})

	Describe("invariants across budgets", func() {
		It("keeps the first line and a contiguous suffix of turns", func() {
			t := conversation(10)

			for budget := 0; budget <= 40; budget++ {
				pruned := pruner.Prune(ctx, t, budget)

				Expect(pruned.Lines()[0]).To(Equal(t.Lines()[0]), "budget %d", budget)
				Expect(len(pruned.Turns)).To(BeNumerically("<=", len(t.Turns)))
				suffix := t.Turns[len(t.Turns)-len(pruned.Turns):]
				for i := range pruned.Turns {
					Expect(pruned.Turns[i]).To(Equal(suffix[i]), "budget %d", budget)
				}
			}
		})
	})

	It("works with the heuristic counter", func() {
		p := prune.New(tokenizer.Heuristic{}, nil)
		t := conversation(20)

		pruned := p.Prune(ctx, t, 20)

		Expect(pruned.Preamble).To(Equal("SYS"))
		Expect(len(pruned.Turns)).To(BeNumerically("<", len(t.Turns)))
	})
})
