package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClient_Complete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "patch_file", "arguments": "{\"path\":\"main.tf\",\"content\":\"x\"}"}
      }]
    },
    "finish_reason": "tool_calls"
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3}
}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL + "/", APIKey: "test-key", Model: "gpt-4o"}, zap.NewNop())

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "obs"}},
		Tools: []ToolSpec{{
			Name:        "patch_file",
			Description: "replace a file",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", captured["model"])
	assert.Equal(t, "auto", captured["tool_choice"])
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "patch_file", fn["name"])
	assert.Len(t, captured["messages"], 2)

	require.Len(t, resp.Choices, 1)
	assert.Empty(t, resp.Choices[0].Content)
	require.Len(t, resp.Choices[0].ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "patch_file", Arguments: `{"path":"main.tf","content":"x"}`}, resp.Choices[0].ToolCalls[0])
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
}

func TestHTTPClient_ContentOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, hasTools := body["tools"]
		assert.False(t, hasTools)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Finished."}}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIKey: "k"}, nil)

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Finished.", resp.Choices[0].Content)
	assert.Empty(t, resp.Choices[0].ToolCalls)
}

func TestHTTPClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIKey: "k"}, zap.NewNop())

	_, err := client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPClient_EmbeddedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error","code":"model_not_found"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIKey: "k"}, zap.NewNop())

	_, err := client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestHTTPClient_NoAPIKey(t *testing.T) {
	client := NewHTTPClient(HTTPOptions{}, zap.NewNop())

	_, err := client.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient(HTTPOptions{APIKey: "k"}, nil)

	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultModel, client.model)
	assert.Equal(t, DefaultTimeout, client.client.Timeout)
}
