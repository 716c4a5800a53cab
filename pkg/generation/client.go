// Package generation turns a user message and a session transcript into a
// backend generation call and folds the reply back into the transcript.
package generation

import (
	"context"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/persona"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

// DefaultContextCeiling is the token budget applied after each exchange.
const DefaultContextCeiling = 2000

// Backend is the generation endpoint of the text generation service.
type Backend interface {
	Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error)
}

// PersonaSource supplies the persona used to seed new sessions.
type PersonaSource interface {
	Persona() persona.Persona
}

// StaticPersona is a PersonaSource that never changes.
type StaticPersona persona.Persona

func (p StaticPersona) Persona() persona.Persona { return persona.Persona(p) }

// Config tunes the client.
type Config struct {
	// ContextCeiling is the token budget the transcript is pruned to after
	// each exchange.
	ContextCeiling int

	// RefreshEvery regenerates the preamble every N turns so persona changes
	// reach long-running sessions. Zero disables refresh.
	RefreshEvery int
}

// Result is the outcome of a generation.
type Result struct {
	// Transcript to store for the session.
	Transcript transcript.Transcript

	// Text is the raw generated reply, or an "Error: ..." description when
	// the backend failed.
	Text string
}

// BackendError is returned when the backend could not produce a reply.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return "Error: " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Client formats prompts, calls the backend and maintains the transcript.
type Client struct {
	backend Backend
	pruner  *prune.Pruner
	persona PersonaSource
	config  Config
	logger  *zap.Logger
	seed    func() int
}

// New creates a Client.
func New(backend Backend, pruner *prune.Pruner, personas PersonaSource, config Config, logger *zap.Logger) *Client {
	if config.ContextCeiling <= 0 {
		config.ContextCeiling = DefaultContextCeiling
	}
	if personas == nil {
		personas = StaticPersona(persona.Default)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		backend: backend,
		pruner:  pruner,
		persona: personas,
		config:  config,
		logger:  logger,
		seed:    func() int { return rand.IntN(1000000) + 1 },
	}
}

// Generate asks the backend to reply to userMessage in the context of t.
//
// On success the returned transcript holds the new exchange and has been
// pruned to the context ceiling, while Text is the unpruned reply. On backend
// failure t is returned untouched, Text describes the failure and the error
// is a *BackendError.
func (c *Client) Generate(ctx context.Context, userMessage string, t transcript.Transcript) (Result, error) {
	conversation := c.seedPreamble(t)

	req := &llm.GenerateRequest{
		Prompt:  conversation.Prompt(userMessage),
		Options: Params(userMessage, c.seed()),
	}

	c.logger.Debug("requesting generation",
		zap.Int("turn_index", conversation.TurnIndex),
		zap.Int("turns", len(conversation.Turns)),
		zap.Int("max_length", req.MaxLength),
	)

	resp, err := c.backend.Generate(ctx, req)
	if err != nil {
		backendErr := &BackendError{Err: err}
		c.logger.Warn("generation failed", zap.Error(err))
		return Result{Transcript: t, Text: backendErr.Error()}, backendErr
	}

	reply := resp.Text()

	updated := conversation.Append(llm.UserTurn(userMessage), llm.AssistantTurn(strings.TrimSpace(reply)))
	updated.TurnIndex++

	return Result{
		Transcript: c.pruner.Prune(ctx, updated, c.config.ContextCeiling),
		Text:       reply,
	}, nil
}

// seedPreamble installs the persona preamble on fresh sessions, and on every
// RefreshEvery-th turn when refresh is enabled.
func (c *Client) seedPreamble(t transcript.Transcript) transcript.Transcript {
	refresh := c.config.RefreshEvery > 0 && t.TurnIndex > 0 && t.TurnIndex%c.config.RefreshEvery == 0
	if !t.Fresh() && !refresh {
		return t
	}

	p := c.persona.Persona()
	seeded := t.Clone()
	seeded.Preamble = p.Preamble()

	c.logger.Debug("seeding preamble",
		zap.Stringer("persona", p),
		zap.Int("turn_index", t.TurnIndex),
		zap.Bool("refresh", refresh),
	)

	return seeded
}
