package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/chatbroker/pkg/llm"
)

// Encode serializes a transcript for the session store.
func Encode(t Transcript) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	return string(data), nil
}

// Decode parses a stored session value. An empty value is an empty
// transcript. Values that are not JSON objects are read as legacy
// newline-delimited transcripts.
func Decode(value string) (Transcript, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Transcript{}, nil
	}

	if !strings.HasPrefix(trimmed, "{") {
		return decodeLegacy(value), nil
	}

	var t Transcript
	if err := json.Unmarshal([]byte(trimmed), &t); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	return t, nil
}

var legacyPrefixes = []llm.Role{llm.RoleUser, llm.RoleAssistant}

// decodeLegacy reads "preamble\nUser: ...\nAssistant: ..." text. Lines that
// carry no speaker prefix continue the previous record.
func decodeLegacy(value string) Transcript {
	lines := strings.Split(value, "\n")

	t := Transcript{Preamble: lines[0]}
	for _, line := range lines[1:] {
		if turn, ok := parseLegacyLine(line); ok {
			t.Turns = append(t.Turns, turn)
			if turn.Role == llm.RoleUser {
				t.TurnIndex++
			}
			continue
		}

		if n := len(t.Turns); n > 0 {
			t.Turns[n-1].Content += "\n" + line
		} else {
			t.Preamble += "\n" + line
		}
	}

	// A legacy preamble counts as seeded.
	if t.Preamble != "" && t.TurnIndex == 0 {
		t.TurnIndex = 1
	}

	return t
}

func parseLegacyLine(line string) (llm.Turn, bool) {
	for _, role := range legacyPrefixes {
		label := role.Label() + ":"
		if !strings.HasPrefix(line, label) {
			continue
		}
		return llm.Turn{Role: role, Content: strings.TrimPrefix(line[len(label):], " ")}, true
	}
	return llm.Turn{}, false
}
