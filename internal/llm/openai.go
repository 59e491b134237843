package llm

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

// OpenAIProvider implements Provider against an OpenAI-compatible chat
// completions endpoint. A custom base URL covers compatible gateways.
type OpenAIProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewOpenAIProvider(apiKey, baseURL, defaultModel string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := openaiRequest{Model: model, Messages: req.Messages}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: err}
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: ErrRateLimited}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "openai", Model: model,
			Err: fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))}
	}

	var oaResp openaiResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(oaResp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Model: model, Err: fmt.Errorf("empty choices")}
	}

	return &Response{
		Provider:     "openai",
		Model:        oaResp.Model,
		Content:      oaResp.Choices[0].Message.Content,
		TokensIn:     oaResp.Usage.PromptTokens,
		TokensOut:    oaResp.Usage.CompletionTokens,
		FinishReason: oaResp.Choices[0].FinishReason,
		Latency:      latency,
	}, nil
}

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
