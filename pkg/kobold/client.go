// Package kobold is an HTTP client for a KoboldCpp-compatible text generation
// backend.
package kobold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/llm"
)

const (
	apiPath   = "/api/v1"
	extraPath = "/api/extra"
)

// Client talks to the backend's v1 and extra APIs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Client.
func New(config Config, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Generate runs one generation call.
func (c *Client) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	start := time.Now()

	var resp llm.GenerateResponse
	if err := c.do(ctx, http.MethodPost, apiPath+"/generate", req, &resp); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	c.logger.Debug("generation complete",
		zap.Int("prompt_size", len(req.Prompt)),
		zap.Int("max_length", req.MaxLength),
		zap.Duration("duration", time.Since(start)),
	)

	return &resp, nil
}

// CountTokens asks the backend how many tokens text occupies.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	var resp llm.TokenCountResponse
	if err := c.do(ctx, http.MethodPost, extraPath+"/tokencount", &llm.TokenCountRequest{Text: text}, &resp); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return resp.Value, nil
}

// Model returns the name of the loaded model.
func (c *Client) Model(ctx context.Context) (string, error) {
	var resp llm.ResultResponse
	if err := c.do(ctx, http.MethodGet, apiPath+"/model", nil, &resp); err != nil {
		return "", fmt.Errorf("get model: %w", err)
	}
	return resp.Result, nil
}

// APIVersion returns the KoboldAI API version the backend implements.
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	var resp llm.ResultResponse
	if err := c.do(ctx, http.MethodGet, apiPath+"/info/version", nil, &resp); err != nil {
		return "", fmt.Errorf("get api version: %w", err)
	}
	return resp.Result, nil
}

// MaxContextLength returns the configured context window.
func (c *Client) MaxContextLength(ctx context.Context) (int, error) {
	var resp llm.ValueResponse
	if err := c.do(ctx, http.MethodGet, apiPath+"/config/max_context_length", nil, &resp); err != nil {
		return 0, fmt.Errorf("get max context length: %w", err)
	}
	return resp.Value, nil
}

// TrueMaxContextLength returns the context window the model was loaded with.
func (c *Client) TrueMaxContextLength(ctx context.Context) (int, error) {
	var resp llm.ValueResponse
	if err := c.do(ctx, http.MethodGet, extraPath+"/true_max_context_length", nil, &resp); err != nil {
		return 0, fmt.Errorf("get true max context length: %w", err)
	}
	return resp.Value, nil
}

// Version returns the backend implementation version.
func (c *Client) Version(ctx context.Context) (*llm.VersionResponse, error) {
	var resp llm.VersionResponse
	if err := c.do(ctx, http.MethodGet, extraPath+"/version", nil, &resp); err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &resp, nil
}

// Perf returns recent performance counters.
func (c *Client) Perf(ctx context.Context) (*llm.PerfResponse, error) {
	var resp llm.PerfResponse
	if err := c.do(ctx, http.MethodGet, extraPath+"/perf", nil, &resp); err != nil {
		return nil, fmt.Errorf("get perf: %w", err)
	}
	return &resp, nil
}

// Abort stops the generation currently running on the backend.
func (c *Client) Abort(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, extraPath+"/abort", struct{}{}, nil); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &StatusError{Code: httpResp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
