package generation

import (
	"math"
	"strings"

	"github.com/papercomputeco/chatbroker/pkg/llm"
)

const (
	baseMaxLength    = 50
	perWordMaxLength = 0.5
	maxLengthCeiling = 1000

	maxContextLength = 1000
)

// StopSequences keep the backend from writing further turns after the
// assistant's single reply. Every speaker label that can start a new line of
// the transcript must be listed here.
var StopSequences = []string{
	"</s>",
	"<|endoftext|>",
	"###",
	"Stop.",
	"[END]",
	"User:",
	"Assistant:",
	"\nUser:",
	"\nAssistant:",
	"\nMan:",
	"Man:",
	"Vue:",
}

// MaxLength bounds the reply length by the size of the user message:
// min(50 + 0.5 × words, 1000).
func MaxLength(userMessage string) int {
	words := len(strings.Fields(userMessage))
	return int(math.Min(baseMaxLength+perWordMaxLength*float64(words), maxLengthCeiling))
}

// Params returns the fixed sampling configuration for a user message.
func Params(userMessage string, seed int) llm.Options {
	stops := make([]string, len(StopSequences))
	copy(stops, StopSequences)

	return llm.Options{
		MaxLength:        MaxLength(userMessage),
		MaxContextLength: maxContextLength,
		Temperature:      0.1,
		TopP:             0.4,
		TopK:             30,
		Typical:          0.1,
		TFS:              0.97,
		RepPen:           2,
		Seed:             seed,
		TrimIncomplete:   true,
		RemoveBlankLines: true,
		SingleLine:       true,
		StopSequence:     stops,
	}
}
