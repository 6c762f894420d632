package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/model"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "navigate", "arguments": "{\"url\":\"https://example.com\"}"}}]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := openai.NewClient(
		option.WithBaseURL(srv.URL+"/"),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	return NewModelFromClient(&client, func(o *Options) { o.Model = "gpt-4o-mini" })
}

func TestGenerateNonStreaming(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON))
	})

	resp, err := model.Collect(context.Background(), m, model.Request{
		Instructions: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "open example.com"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c0", Type: "function", Function: model.ToolCallFunction{Name: "read_content", Arguments: "{}"}}}},
			{Role: model.RoleTool, ToolCallID: "c0", Content: "blank page"},
		},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "navigate", Description: "open a page",
			Parameters: map[string]any{"type": "object"},
		}}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "navigate", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"url":"https://example.com"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Len(t, body["tools"], 1)
}

func TestGenerateAPIError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})
	_, err := model.Collect(context.Background(), m, model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}

func TestInfo(t *testing.T) {
	client := openai.NewClient(option.WithAPIKey("test"))
	info := NewModelFromClient(&client).Info()
	assert.Equal(t, "openai", info.Provider)
	assert.Equal(t, openai.ChatModelGPT4oMini, info.Name)
	assert.True(t, info.SupportsTools)
}
