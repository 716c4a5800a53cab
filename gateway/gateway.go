// Package gateway exposes the broker over HTTP. Chat requests are pushed onto
// the inbound queue like any other producer's and answered from the response
// slot the worker writes, so the gateway holds no conversation state itself.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/idgen"
	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

// Sessions is the part of the session store the gateway uses.
type Sessions interface {
	GetOrCreate(ctx context.Context, token string) (transcript.Transcript, error)
	Peek(ctx context.Context, token string) (transcript.Transcript, error)
	Clear(ctx context.Context, token string) (bool, error)
}

// Gateway is the HTTP front end of the broker.
type Gateway struct {
	config   Config
	bus      bus.Bus
	client   *broker.Client
	sessions Sessions
	stats    func() broker.Stats
	logger   *zap.Logger
	server   *fiber.App
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWorkerStats reports an in-process worker's counters on /health.
func WithWorkerStats(stats func() broker.Stats) Option {
	return func(g *Gateway) {
		g.stats = stats
	}
}

type chatRequest struct {
	ID           string `json:"id"`
	SessionToken string `json:"sessionToken"`
	UserMessage  string `json:"userMessage"`
}

type timeoutResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type sessionResponse struct {
	SessionToken string                 `json:"sessionToken"`
	Transcript   *transcript.Transcript `json:"transcript,omitempty"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Worker *broker.Stats `json:"worker,omitempty"`
}

// New creates a Gateway.
func New(config Config, b bus.Bus, client *broker.Client, sessions Sessions, logger *zap.Logger, opts ...Option) *Gateway {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	g := &Gateway{
		config:   config,
		bus:      b,
		client:   client,
		sessions: sessions,
		logger:   logger,
		server:   app,
	}
	for _, opt := range opts {
		opt(g)
	}

	app.Post("/chat", g.handleChat)
	app.Get("/chat/:id", g.handleGetResponse)

	app.Post("/sessions", g.handleCreateSession)
	app.Get("/sessions/:token", g.handleGetSession)
	app.Delete("/sessions/:token", g.handleDeleteSession)

	app.Get("/health", g.handleHealth)

	return g
}

// Run starts the gateway on the configured listening address.
func (g *Gateway) Run() error {
	g.logger.Info("starting gateway",
		zap.String("listen", g.config.ListenAddr),
		zap.Duration("timeout", g.config.Timeout),
	)

	return g.server.Listen(g.config.ListenAddr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.ShutdownWithContext(ctx)
}

// handleChat enqueues a chat request and holds the connection until the
// worker publishes the response or the timeout passes.
func (g *Gateway) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()

	var req chatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		g.logger.Debug("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "userMessage is required"})
	}

	if req.ID != "" {
		_, err := g.client.Result(c.UserContext(), req.ID)
		switch {
		case err == nil:
			return c.Status(fiber.StatusConflict).JSON(llm.ErrorResponse{Error: "response already exists for id"})
		case !bus.IsNotFound(err):
			g.logger.Error("failed to check response slot", zap.String("id", req.ID), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "queue unavailable"})
		}
	}

	id, err := g.client.Submit(c.UserContext(), req.ID, req.SessionToken, req.UserMessage)
	if err != nil {
		g.logger.Error("failed to enqueue request", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "queue unavailable"})
	}

	g.logger.Debug("enqueued chat request",
		zap.String("id", id),
		zap.String("session", req.SessionToken),
		zap.String("message_preview", truncate(req.UserMessage, 50)),
	)

	ctx, cancel := context.WithTimeout(c.UserContext(), g.config.Timeout)
	defer cancel()

	resp, err := g.client.Await(ctx, id)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		g.logger.Warn("timed out waiting for response", zap.String("id", id), zap.Duration("timeout", g.config.Timeout))
		return c.Status(fiber.StatusRequestTimeout).JSON(timeoutResponse{ID: id, Error: "timed out waiting for response"})
	case err != nil:
		g.logger.Error("failed to read response", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "queue unavailable"})
	}

	g.logger.Info("chat answered",
		zap.String("id", id),
		zap.Bool("failed", resp.Failed()),
		zap.Duration("duration", time.Since(startTime)),
	)
	return c.JSON(resp)
}

// handleGetResponse returns a published response by request id.
func (g *Gateway) handleGetResponse(c *fiber.Ctx) error {
	id := c.Params("id")

	resp, err := g.client.Result(c.UserContext(), id)
	if bus.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "response not found"})
	}
	if err != nil {
		g.logger.Error("failed to read response", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "queue unavailable"})
	}

	return c.JSON(resp)
}

// handleCreateSession mints a session token and opens the session.
func (g *Gateway) handleCreateSession(c *fiber.Ctx) error {
	token := idgen.SessionToken()

	if _, err := g.sessions.GetOrCreate(c.UserContext(), token); err != nil {
		g.logger.Error("failed to create session", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "session store unavailable"})
	}

	g.logger.Debug("created session", zap.String("session", token))
	return c.Status(fiber.StatusCreated).JSON(sessionResponse{SessionToken: token})
}

// handleGetSession returns a session's transcript without extending its life.
func (g *Gateway) handleGetSession(c *fiber.Ctx) error {
	token := c.Params("token")

	t, err := g.sessions.Peek(c.UserContext(), token)
	if bus.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "session not found"})
	}
	if err != nil {
		g.logger.Error("failed to read session", zap.String("session", token), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "session store unavailable"})
	}

	return c.JSON(sessionResponse{SessionToken: token, Transcript: &t})
}

func (g *Gateway) handleDeleteSession(c *fiber.Ctx) error {
	token := c.Params("token")

	existed, err := g.sessions.Clear(c.UserContext(), token)
	if err != nil {
		g.logger.Error("failed to clear session", zap.String("session", token), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: "session store unavailable"})
	}
	if !existed {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "session not found"})
	}

	g.logger.Info("cleared session", zap.String("session", token))
	return c.SendStatus(fiber.StatusNoContent)
}

func (g *Gateway) handleHealth(c *fiber.Ctx) error {
	resp := healthResponse{Status: "ok"}
	if g.stats != nil {
		stats := g.stats()
		resp.Worker = &stats
	}

	if err := g.bus.Ping(c.UserContext()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}

	return c.JSON(resp)
}

// truncate shortens a string for log previews.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
