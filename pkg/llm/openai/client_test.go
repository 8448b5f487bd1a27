package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/user/notetaker/pkg/llm"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	}
}

func TestOpenAIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		json.NewEncoder(w).Encode(chatReply("test response"))
	}))
	defer server.Close()

	client := New(&llm.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "test response" {
		t.Errorf("expected 'test response', got %s", resp.Content)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIClientRequestFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// base_url includes /v1, client appends /chat/completions
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path '/v1/chat/completions', got %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		json.Unmarshal(body, &reqBody)

		if reqBody["model"] != "gpt-4" {
			t.Errorf("expected model 'gpt-4', got %v", reqBody["model"])
		}
		if reqBody["temperature"] == nil {
			t.Error("expected temperature to be sent")
		}
		messages, ok := reqBody["messages"].([]any)
		if !ok || len(messages) != 2 {
			t.Errorf("expected 2 messages, got %v", reqBody["messages"])
		}

		json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer server.Close()

	client := New(&llm.Config{
		BaseURL:     server.URL + "/v1/",
		APIKey:      "key",
		Model:       "gpt-4",
		Temperature: 0.2,
	})

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		message   string
		temporary bool
	}{
		{http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, "overloaded", true},
		{http.StatusTooManyRequests, `rate limited`, "rate limited", true},
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "bad key", false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		client := New(&llm.Config{BaseURL: server.URL, APIKey: "key", Model: "gpt-4"})
		_, err := client.Complete(context.Background(), []llm.Message{
			{Role: llm.RoleUser, Content: "hello"},
		})
		server.Close()

		var apiErr *llm.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *llm.APIError, got %v", tt.status, err)
		}
		if apiErr.StatusCode != tt.status || apiErr.Message != tt.message {
			t.Errorf("status %d: unexpected error %+v", tt.status, apiErr)
		}
		if apiErr.Temporary() != tt.temporary {
			t.Errorf("status %d: Temporary() = %v", tt.status, apiErr.Temporary())
		}
		if !strings.Contains(err.Error(), "status "+strconv.Itoa(tt.status)) {
			t.Errorf("expected status in error, got %v", err)
		}
	}
}

func TestOpenAIClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
}

func TestOpenAIClientOmitsZeroOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]any
		json.NewDecoder(r.Body).Decode(&reqBody)
		if _, ok := reqBody["temperature"]; ok {
			t.Error("temperature sent when unset")
		}
		if _, ok := reqBody["max_tokens"]; ok {
			t.Error("max_tokens sent when unset")
		}
		json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	if _, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
}
