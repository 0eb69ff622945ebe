package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Client talks to one backend endpoint. It is safe for concurrent use;
// every streaming call owns fully independent state.
type Client struct {
	endpoint string
	// Bounded client for plain request/response calls.
	httpClient *http.Client
	// Streaming responses stay open as long as tokens keep arriving, so the
	// streaming client carries no global timeout; cancellation is the
	// caller's context.
	streamClient *http.Client
}

type ClientOption func(*Client)

// WithTimeout sets the timeout for non-streaming calls.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Chat sends a non-streaming completion request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Stream = false

	resp, err := c.postJSON(ctx, c.httpClient, c.endpoint+"/api/chat", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &RequestFailedError{Status: resp.StatusCode}
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	return &chatResp, nil
}

// Health probes the backend. A nil return means it answered and reported
// itself healthy.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &RequestFailedError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, hc *http.Client, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return resp, nil
}
