package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/llm/inline"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertResponseMessage_WithContent(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Role:    "assistant",
		Content: "Hello, world!",
	}

	result := convertResponseMessage(msg)

	assert.Equal(t, entity.RoleAssistant, result.Role)
	assert.Equal(t, "Hello, world!", result.Content)
	assert.Empty(t, result.ToolCalls)
}

func TestConvertResponseMessage_WithToolCalls(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Role:    "assistant",
		Content: "",
		ToolCalls: []openai.ToolCall{
			{
				ID:   "call_123",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "search_with_contents",
					Arguments: `{"query":"golang generics"}`,
				},
			},
		},
	}

	result := convertResponseMessage(msg)

	assert.Equal(t, entity.RoleAssistant, result.Role)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_123", result.ToolCalls[0].ID)
	assert.Equal(t, "search_with_contents", result.ToolCalls[0].Name)
	assert.Equal(t, `{"query":"golang generics"}`, result.ToolCalls[0].Arguments)
}

func TestConvertMessages_WithThinking(t *testing.T) {
	messages := []entity.Message{
		{Role: entity.RoleSystem, Content: "Be helpful"},
		{Role: entity.RoleUser, Content: "Hello"},
		{Role: entity.RoleAssistant, Content: "Hi there", Thinking: "Let me think about this..."},
	}

	result := convertMessages(messages)

	require.Len(t, result, 3)
	assert.Equal(t, "system", result[0].Role)
	assert.Equal(t, "user", result[1].Role)
	assert.Equal(t, "Hello", result[1].Content)
	assert.Contains(t, result[2].Content, "<thinking>")
	assert.Contains(t, result[2].Content, "Let me think about this...")
	assert.Contains(t, result[2].Content, "Hi there")
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	messages := []entity.Message{
		{Role: entity.RoleAssistant, ToolCalls: []entity.ToolCall{{ID: "c1", Name: "search_with_contents", Arguments: `{"query":"x"}`}}},
		entity.ToolResult{CallID: "c1", Name: "search_with_contents", Content: `{"result":[]}`}.Message(),
	}

	result := convertMessages(messages)

	require.Len(t, result, 2)
	require.Len(t, result[0].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, result[0].ToolCalls[0].Type)
	assert.Equal(t, "tool", result[1].Role)
	assert.Equal(t, "c1", result[1].ToolCallID)
}

func TestConvertMessages_WithFiles(t *testing.T) {
	img, err := inline.Uploader{}.UploadFile(context.Background(), []byte{1, 2}, "image/png", "a.png")
	require.NoError(t, err)
	doc, err := inline.Uploader{}.UploadFile(context.Background(), []byte("plain notes"), "text/plain", "notes.txt")
	require.NoError(t, err)

	result := convertMessages([]entity.Message{{Role: entity.RoleUser, Content: "describe", Files: []entity.FileRef{img, doc}}})

	require.Len(t, result, 1)
	assert.Empty(t, result[0].Content)
	parts := result[0].MultiContent
	require.Len(t, parts, 3)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[0].Type)
	assert.Equal(t, "data:image/png;base64,AQI=", parts[0].ImageURL.URL)
	assert.Contains(t, parts[1].Text, "plain notes")
	assert.Equal(t, "describe", parts[2].Text)
}

func TestConvertTools(t *testing.T) {
	tools := []entity.ToolDefinition{
		{
			Name:        "search_with_contents",
			Description: "Search the web",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}

	result := convertTools(tools)

	require.Len(t, result, 1)
	assert.Equal(t, openai.ToolTypeFunction, result[0].Type)
	assert.Equal(t, "search_with_contents", result[0].Function.Name)
	assert.Equal(t, "Search the web", result[0].Function.Description)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *OpenRouterAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewOpenRouterAdapter(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)
	return a
}

func TestChat_SendsSchemaAndParsesReply(t *testing.T) {
	var body map[string]any
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	})

	temp := float32(0.2)
	resp, err := a.Chat(context.Background(), output.ChatRequest{
		Messages: []entity.Message{{Role: entity.RoleUser, Content: "hi"}},
		Config: output.GenerationConfig{
			Temperature:    &temp,
			ResponseSchema: map[string]any{"type": "object"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Message.Content)

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	assert.Nil(t, body["tools"])
}

func TestChat_MapsStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusTooManyRequests, func(t *testing.T, err error) {
			var rl *output.RateLimitError
			assert.True(t, errors.As(err, &rl))
		}},
		{http.StatusBadGateway, func(t *testing.T, err error) {
			var se *output.ServerError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, http.StatusBadGateway, se.StatusCode)
		}},
		{http.StatusBadRequest, func(t *testing.T, err error) {
			var rl *output.RateLimitError
			var se *output.ServerError
			assert.False(t, errors.As(err, &rl))
			assert.False(t, errors.As(err, &se))
		}},
	}
	for _, tt := range tests {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x"}}`))
		})
		_, err := a.Chat(context.Background(), output.ChatRequest{Messages: []entity.Message{{Role: entity.RoleUser, Content: "hi"}}})
		require.Error(t, err)
		tt.check(t, err)
	}
}
