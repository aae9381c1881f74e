// Package llm dispatches calls to an external completion API. Calls run
// entirely on caller goroutines with their own timeout; they never touch the
// database pool or the query executor, so a slow upstream affects only the
// callers waiting on it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"oppcore/internal/config"
)

var (
	// ErrTimeout is returned when the upstream did not answer within the
	// configured call timeout.
	ErrTimeout = errors.New("completion request timed out")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("completion API not configured")
)

// TransportError wraps a network-level failure reaching the upstream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "completion transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError is a non-2xx answer from the completion API. Retries are the
// caller's responsibility.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion upstream error: status %d: %s", e.Status, e.Body)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one call to the chat completions endpoint.
// Model is optional; the client's configured default is used when empty.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Choice is one returned completion.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the upstream answer.
type CompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Client calls an OpenRouter-compatible completions API.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
}

// NewClient constructs a completion client from config. The outbound transport
// is wrapped with otelhttp so upstream calls show up in traces.
func NewClient(cfg config.OpenRouterConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Configured reports whether the client has an API key to call with.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Complete sends one completion request and waits for the answer, bounded by
// the configured call timeout. Failures are typed: ErrTimeout on deadline,
// *TransportError on network failure, *UpstreamError on a non-2xx status.
// The client never retries.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if req.Model == "" {
		req.Model = c.model
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Status: resp.StatusCode,
			Body:   readBodySnippet(resp.Body),
		}
	}

	var out CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// readBodySnippet reads a bounded prefix of an error body for diagnostics.
func readBodySnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
