// Package llm provides a multi-provider completion client with a fallback
// chain, plus the answer engine that turns a question and a data summary into
// an educator-facing response.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message represents a chat message (system/user/assistant).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is a provider-agnostic completion response.
type Response struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	TokensIn     int           `json:"tokens_in"`
	TokensOut    int           `json:"tokens_out"`
	FinishReason string        `json:"finish_reason"`
	Latency      time.Duration `json:"latency_ms"`
}

// Provider is a single LLM API backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

var (
	ErrNoProviders = errors.New("no LLM providers configured")
	ErrRateLimited = errors.New("rate limited")
)

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client sends completion requests with fallback across providers in
// configuration order.
type Client struct {
	providers map[string]Provider
	fallback  []string
}

func New(providers []Provider) *Client {
	m := make(map[string]Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
		order = append(order, p.Name())
	}
	return &Client{providers: m, fallback: order}
}

// HasProviders reports whether any backend is configured.
func (c *Client) HasProviders() bool { return len(c.fallback) > 0 }

// Complete tries each provider in fallback order until one succeeds.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(c.fallback) == 0 {
		return nil, ErrNoProviders
	}
	var lastErr error
	for _, name := range c.fallback {
		resp, err := c.providers[name].Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
