package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/idgen"
	"github.com/papercomputeco/chatbroker/pkg/llm"
)

// DefaultPollInterval is how often Await checks the response slot.
const DefaultPollInterval = 100 * time.Millisecond

// Client submits requests to the inbound queue and waits on response slots.
type Client struct {
	bus          bus.Bus
	inbound      string
	pollInterval time.Duration
}

// NewClient creates a Client for the given inbound queue.
func NewClient(b bus.Bus, inbound string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{bus: b, inbound: inbound, pollInterval: pollInterval}
}

// Submit enqueues a request and returns its id. An id is minted when id is
// empty. An empty token submits a sessionless request.
func (c *Client) Submit(ctx context.Context, id, token, message string) (string, error) {
	if id == "" {
		id = idgen.RequestID()
	}

	req := llm.InboundRequest{ID: &id, UserMessage: &message}
	if token != "" {
		req.SessionToken = &token
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	if err := c.bus.Push(ctx, c.inbound, string(data)); err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}
	return id, nil
}

// Result returns the published response for id, or bus.ErrNotFound if there
// is none yet.
func (c *Client) Result(ctx context.Context, id string) (*llm.OutboundResponse, error) {
	raw, err := c.bus.Get(ctx, ResponseKey(id))
	if err != nil {
		return nil, err
	}

	var resp llm.OutboundResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode response %s: %w", id, err)
	}
	return &resp, nil
}

// Await polls the response slot for id until it appears or ctx ends.
func (c *Client) Await(ctx context.Context, id string) (*llm.OutboundResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.Result(ctx, id)
		if err == nil {
			return resp, nil
		}
		if !bus.IsNotFound(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ask submits a message and waits up to timeout for the reply.
func (c *Client) Ask(ctx context.Context, token, message string, timeout time.Duration) (*llm.OutboundResponse, error) {
	id, err := c.Submit(ctx, "", token, message)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Await(ctx, id)
}
