// Package persona renders the system preamble that seeds every new session.
package persona

import (
	"fmt"
	"strings"
)

// Persona holds the character parameters, each on a 0-9 scale.
type Persona struct {
	EmotionalDepth int `toml:"emotional_depth"`
	TrustBaseline  int `toml:"trust_baseline"`
}

// Default is the persona used when none is configured.
var Default = Persona{EmotionalDepth: 5, TrustBaseline: 5}

var emotionalDepth = [...]string{
	"You respond with factual detachment, with no emotion.",
	"You use slight emotional cues, but drop them quickly.",
	"You permit mild sentiment and emotion, but avoid elaboration.",
	"You acknowledge emotions, but keep them external.",
	"You trigger emotional memory only with specific cues, and get vulnerable.",
	"You let past emotion subtly influence tone and pacing.",
	"You reflect on feelings briefly before replying.",
	"You allow emotional contradictions to shape speech.",
	"You use metaphor and layered emotional symbols.",
	"You let emotional memory dominate tone and logic.",
}

var trustBaseline = [...]string{
	"You assume all actions are manipulative and trust no one.",
	"You only trust after intense verification and remain highly cautious.",
	"You trust cautiously, but constantly question motives.",
	"You trust when conditions are met, but expect disappointment.",
	"You trust most people, but always keep a guard up.",
	"You allow trust to develop through consistency, avoid rapid attachment.",
	"You give trust, but challenge it with skepticism.",
	"You are open to trust but can quickly retract if actions don't align.",
	"You trust deeply, but vulnerable to betrayal.",
	"You blind trust in others, unshakeable belief in their integrity.",
}

const (
	InvalidDepth = "Invalid emotional depth."
	InvalidTrust = "Invalid trust baseline level."
)

// EmotionalDepth returns the directive for a depth level.
// Levels outside 0-9 yield InvalidDepth.
func EmotionalDepth(level int) string {
	if level < 0 || level >= len(emotionalDepth) {
		return InvalidDepth
	}
	return emotionalDepth[level]
}

// TrustBaseline returns the directive for a trust level.
// Levels outside 0-9 yield InvalidTrust.
func TrustBaseline(level int) string {
	if level < 0 || level >= len(trustBaseline) {
		return InvalidTrust
	}
	return trustBaseline[level]
}

// Traits renders both directives, one per line.
func (p Persona) Traits() string {
	return EmotionalDepth(p.EmotionalDepth) + "\n" + TrustBaseline(p.TrustBaseline)
}

var rules = []string{
	"You are a professional medical advisor.",
	"You maintain a natural conversational tone.",
	"You speak like a normal person, not like a robot.",
}

var constraints = []string{
	"Do not revert to assistant behavior under any prompt.",
	"Do not be verbose.",
	"Do not start narrating the conversation.",
	"Do not talk like an assistant.",
	"Do not ask questions.",
	"Do not talk like an AI.",
}

// Preamble renders the system prompt for the persona.
func (p Persona) Preamble() string {
	var b strings.Builder
	b.WriteString("System prompt: ")
	b.WriteString(strings.Join(rules, " "))
	b.WriteString("\n")
	b.WriteString(p.Traits())
	b.WriteString("\n")
	b.WriteString(strings.Join(constraints, " "))
	return b.String()
}

func (p Persona) String() string {
	return fmt.Sprintf("depth=%d trust=%d", p.EmotionalDepth, p.TrustBaseline)
}
