package openai

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

	"fakeout/providers"
)

const systemPrompt = "You are a newsroom assistant for an educational game about media literacy. " +
	"Always answer with a single JSON object and nothing else."

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	logger     *zap.Logger
	httpClient *http.Client
}

var _ providers.ChatProvider = (*Client)(nil)

// NewClient builds a client. The timeout bounds the whole request; callers
// additionally pass a context deadline per call.
func NewClient(endpoint, model, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the provider in logs.
func (c *Client) Name() string {
	return "openai"
}

// IsConfigured reports whether the client has everything it needs to make calls.
func (c *Client) IsConfigured() bool {
	return c != nil && c.apiKey != "" && c.endpoint != "" && c.model != ""
}

// Complete posts the prompt as a user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("openai client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat completion %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}

	return result.Choices[0].Message.Content, nil
}
