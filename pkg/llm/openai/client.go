// Package openai implements llm.Provider against the chat completions
// endpoint of any OpenAI-compatible server.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/notetaker/pkg/llm"
)

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4096

// ErrNoChoices is returned when the server replies without a completion.
var ErrNoChoices = errors.New("no choices in response")

type Client struct {
	config     *llm.Config
	endpoint   string
	httpClient *http.Client
}

func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		config:     config,
		endpoint:   strings.TrimRight(config.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) request(messages []llm.Message) completionRequest {
	req := completionRequest{
		Model:     c.config.Model,
		Messages:  messages,
		MaxTokens: c.config.MaxTokens,
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		req.Temperature = &temp
	}
	return req
}

// Complete sends messages and returns the first choice. Non-2xx replies
// come back as *llm.APIError.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	body, err := json.Marshal(c.request(messages))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, llm.NewAPIError("chat completion", resp.StatusCode, b)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrNoChoices
	}

	first := out.Choices[0]
	if first.FinishReason == "length" {
		slog.Warn("completion truncated at max_tokens", "model", c.config.Model, "max_tokens", c.config.MaxTokens)
	}
	return &llm.Response{
		Content: first.Message.Content,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

var _ llm.Provider = (*Client)(nil)
