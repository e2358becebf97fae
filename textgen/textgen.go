// Package textgen calls an external text-generation service. Callers treat it
// as a black box: structured facts in, a short string or an error out.
package textgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"tourgraph/models"
)

const anthropicVersion = "2023-06-01"

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("textgen: disabled (no API key)")

// Request is one generation call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// AnthropicClient is a Generator backed by the Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewAnthropicClient returns a client for the Messages API.
func NewAnthropicClient(baseURL, apiKey, model string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends one user turn and returns the first text block.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", ErrDisabled
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 100
	}

	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("textgen: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("textgen: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &models.TransientError{Op: "textgen", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &models.TransientError{Op: "textgen", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", &models.PermanentError{Op: "textgen", StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(snippet))}
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &models.PermanentError{Op: "textgen", Reason: "malformed body", Err: err}
	}
	for _, block := range out.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", &models.PermanentError{Op: "textgen", Reason: "no text in response"}
}
