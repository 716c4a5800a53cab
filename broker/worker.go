// Package broker is the queue worker: it pops chat requests off the bus, runs
// them through the session store and the generation client, and publishes
// the responses.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/generation"
	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

// Generator produces a reply and the updated transcript.
type Generator interface {
	Generate(ctx context.Context, userMessage string, t transcript.Transcript) (generation.Result, error)
}

// Sessions loads and stores session transcripts.
type Sessions interface {
	GetOrCreate(ctx context.Context, token string) (transcript.Transcript, error)
	Update(ctx context.Context, token string, t transcript.Transcript) error
}

// Stats counts processed messages by outcome.
type Stats struct {
	OK      int64  `json:"ok"`
	Dropped int64  `json:"dropped"`
	Failed  int64  `json:"failed"`
	State   string `json:"state"`
}

// Worker processes one message at a time. There is no concurrency within a
// worker; running several workers against the same session tokens is not
// coordinated.
type Worker struct {
	config    Config
	bus       bus.Bus
	sessions  Sessions
	generator Generator
	logger    *zap.Logger

	state   atomic.Int32
	ok      atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

var errMissingMessage = errors.New("missing userMessage")

// NewWorker creates a Worker.
func NewWorker(config Config, b bus.Bus, sessions Sessions, generator Generator, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		config:    config,
		bus:       b,
		sessions:  sessions,
		generator: generator,
		logger:    logger,
	}
}

// Run pops and processes messages until ctx is cancelled. Bus failures are
// retried with backoff; no single message can stop the loop. A message that
// has been popped is processed to completion even if ctx is cancelled
// meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting queue worker",
		zap.String("inbound", w.config.InboundQueue),
		zap.String("outbound", w.config.OutboundQueue),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("stopping queue worker", zap.Any("stats", w.Stats()))
			return nil
		}

		w.setState(StatePopping)
		payload, err := w.bus.BlockingPop(ctx, w.config.InboundQueue, w.config.PopTimeout)

		switch {
		case err == nil:
			w.setState(StateProcessing)
			w.Process(context.WithoutCancel(ctx), payload)
		case errors.Is(err, bus.ErrTimeout):
		case ctx.Err() != nil:
			continue
		case bus.IsConnection(err):
			w.setState(StateIdle)
			w.logger.Warn("bus unreachable, backing off",
				zap.Duration("backoff", w.config.ConnectionBackoff),
				zap.Error(err),
			)
			sleep(ctx, w.config.ConnectionBackoff)
			continue
		default:
			w.setState(StateIdle)
			w.logger.Error("error in worker loop", zap.Error(err))
			sleep(ctx, w.config.ErrorBackoff)
			continue
		}

		w.setState(StateIdle)
		sleep(ctx, w.config.IdleDelay)
	}
}

// Process handles one raw inbound payload and reports what happened to it.
func (w *Worker) Process(ctx context.Context, payload string) Outcome {
	outcome := w.process(ctx, payload)

	switch outcome {
	case OutcomeOK:
		w.ok.Add(1)
	case OutcomeDropped:
		w.dropped.Add(1)
	case OutcomeFailed:
		w.failed.Add(1)
	}
	return outcome
}

func (w *Worker) process(ctx context.Context, payload string) Outcome {
	var req llm.InboundRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		w.logger.Warn("dropping undecodable message",
			zap.String("payload", truncate(payload, 100)),
			zap.Error(err),
		)
		return OutcomeDropped
	}

	if req.ID == nil || *req.ID == "" {
		w.logger.Debug("dropping message without id", zap.String("payload", truncate(payload, 100)))
		return OutcomeDropped
	}

	resp := llm.OutboundResponse{
		ID:           *req.ID,
		UserMessage:  deref(req.UserMessage),
		SessionToken: deref(req.SessionToken),
	}
	logger := w.logger.With(zap.String("id", resp.ID), zap.String("session", resp.SessionToken))

	start := time.Now()
	outcome := OutcomeOK

	text, err := w.respond(ctx, &req)
	if err != nil {
		outcome = OutcomeFailed
		resp.Error = err.Error()
		logger.Error("error processing message", zap.Error(err))
	} else {
		resp.Response = text
	}

	w.setState(StatePublishing)
	if err := w.publish(ctx, &resp); err != nil {
		logger.Error("failed to publish response", zap.Error(err))
		return OutcomeFailed
	}

	logger.Info("message processed",
		zap.Stringer("outcome", outcome),
		zap.String("response_preview", truncate(resp.Response+resp.Error, 50)),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

// respond runs the session cycle for a request. Requests without a session
// token get a throwaway transcript.
func (w *Worker) respond(ctx context.Context, req *llm.InboundRequest) (string, error) {
	if req.UserMessage == nil {
		return "", errMissingMessage
	}
	message := *req.UserMessage
	token := deref(req.SessionToken)

	var t transcript.Transcript
	if token != "" {
		var err error
		if t, err = w.sessions.GetOrCreate(ctx, token); err != nil {
			return "", err
		}
	}

	result, err := w.generator.Generate(ctx, message, t)
	if err != nil {
		return "", err
	}

	if token != "" {
		if err := w.sessions.Update(ctx, token, result.Transcript); err != nil {
			return "", err
		}
	}

	return result.Text, nil
}

// publish writes the response slot and pushes onto the outbound queue.
func (w *Worker) publish(ctx context.Context, resp *llm.OutboundResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	slotErr := w.bus.Set(ctx, ResponseKey(resp.ID), string(data), w.config.ResponseTTL)
	if slotErr != nil {
		slotErr = fmt.Errorf("store response slot: %w", slotErr)
	}

	pushErr := w.bus.Push(ctx, w.config.OutboundQueue, string(data))
	if pushErr != nil {
		pushErr = fmt.Errorf("push response: %w", pushErr)
	}

	return errors.Join(slotErr, pushErr)
}

// Stats returns the worker's counters and current state.
func (w *Worker) Stats() Stats {
	return Stats{
		OK:      w.ok.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		State:   w.State().String(),
	}
}

// State returns where the worker is in its loop.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
