// Package transcript holds a session's conversation as structured turn records.
// It is only flattened to text when building prompts or counting tokens, and
// only serialized at the session store boundary.
package transcript

import (
	"strings"

	"github.com/papercomputeco/chatbroker/pkg/llm"
)

// Transcript is the conversation state of a session.
type Transcript struct {
	// Preamble is the system prompt. It is never dropped by pruning.
	Preamble string `json:"preamble"`

	// Turns in chronological order (oldest first).
	Turns []llm.Turn `json:"turns"`

	// TurnIndex counts completed exchanges for this session.
	TurnIndex int `json:"turnIndex"`
}

// Fresh reports whether the session has not been seeded with a preamble yet.
func (t Transcript) Fresh() bool {
	return t.TurnIndex == 0 || t.Preamble == ""
}

// IsEmpty reports whether the transcript carries no content at all.
func (t Transcript) IsEmpty() bool {
	return t.Preamble == "" && len(t.Turns) == 0
}

// Lines returns the preamble followed by one rendered line per turn.
func (t Transcript) Lines() []string {
	lines := make([]string, 0, len(t.Turns)+1)
	lines = append(lines, t.Preamble)
	for _, turn := range t.Turns {
		lines = append(lines, turn.Line())
	}
	return lines
}

// Render flattens the transcript into the text the backend sees.
func (t Transcript) Render() string {
	return strings.Join(t.Lines(), "\n")
}

// Prompt renders the transcript followed by the new user message and an open
// assistant slot for the backend to complete.
func (t Transcript) Prompt(userMessage string) string {
	return t.Render() + "\n" + llm.UserTurn(userMessage).Line() + "\n" + llm.RoleAssistant.Label() + ":"
}

// Clone returns a deep copy so callers can mutate turns freely.
func (t Transcript) Clone() Transcript {
	c := t
	if t.Turns != nil {
		c.Turns = make([]llm.Turn, len(t.Turns))
		copy(c.Turns, t.Turns)
	}
	return c
}

// Append returns a copy with the given turns added at the end.
func (t Transcript) Append(turns ...llm.Turn) Transcript {
	c := t.Clone()
	c.Turns = append(c.Turns, turns...)
	return c
}

// WithTurns returns a copy whose turns are replaced by the given slice.
func (t Transcript) WithTurns(turns []llm.Turn) Transcript {
	c := t
	c.Turns = turns
	return c
}
