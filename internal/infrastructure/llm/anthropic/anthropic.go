// Package anthropic adapts the Anthropic Messages API to the LLM port.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/llm/inline"
	"search-agent/internal/infrastructure/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var _ output.LLMPort = (*Client)(nil)

const DefaultModel = "claude-sonnet-4-5"

// Config controls an Anthropic client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     output.LoggerPort
}

// Client calls the Anthropic Messages API. SDK-level retries are disabled
// so throttling surfaces as *output.RateLimitError.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    output.LoggerPort
}

func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    log,
	}, nil
}

func (c *Client) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	system, messages := convertMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if t := req.Config.Temperature; t != nil {
		params.Temperature = anthropic.Float(float64(*t))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	c.logger.Debug("Message created",
		"model", c.model,
		"stopReason", msg.StopReason,
		"inputTokens", msg.Usage.InputTokens,
		"outputTokens", msg.Usage.OutputTokens)

	return &output.ChatResponse{Message: parseResponse(msg), Raw: msg}, nil
}

func convertMessages(history []entity.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(history))

	for _, msg := range history {
		switch msg.Role {
		case entity.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}

		case entity.RoleUser:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Files)+1)
			for _, f := range msg.Files {
				blocks = append(blocks, fileBlock(f))
			}
			if strings.TrimSpace(msg.Content) != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))

		case entity.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, decodeArgs(call.Arguments), call.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case entity.RoleTool:
			id := msg.ToolCallID
			if id == "" {
				id = msg.Name
			}
			block := anthropic.NewToolResultBlock(id, msg.Content, isErrorPayload(msg.Content))
			// consecutive results go back in one user turn
			if n := len(messages); n > 0 && isToolResultTurn(messages[n-1]) {
				messages[n-1].Content = append(messages[n-1].Content, block)
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return system, messages
}

func fileBlock(f entity.FileRef) anthropic.ContentBlockParamUnion {
	if inline.IsImage(f) {
		if _, payload, ok := strings.Cut(f.URI, ";base64,"); ok {
			return anthropic.NewImageBlockBase64(f.MIMEType, payload)
		}
	}
	return anthropic.NewTextBlock(inline.Text(f))
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	if m.Role != anthropic.MessageParamRoleUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return true
}

func isErrorPayload(content string) bool {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false
	}
	_, ok := payload["error"]
	return ok
}

func parseResponse(msg *anthropic.Message) entity.Message {
	var reply, thinking strings.Builder
	out := entity.Message{Role: entity.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			thinking.WriteString(variant.Thinking)
		case anthropic.ToolUseBlock:
			args := string(variant.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, entity.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	out.Content = strings.TrimSpace(reply.String())
	out.Thinking = thinking.String()
	return out
}

func convertTools(tools []entity.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: inputSchema(tool),
		}
		if desc := strings.TrimSpace(tool.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func inputSchema(tool entity.ToolDefinition) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{
		Properties: tool.Parameters["properties"],
		Required:   tool.RequiredParameters(),
	}
	extras := map[string]any{}
	for key, value := range tool.Parameters {
		switch key {
		case "properties", "required", "type":
		default:
			extras[key] = value
		}
	}
	if len(extras) > 0 {
		param.ExtraFields = extras
	}
	return param
}

func decodeArgs(input string) any {
	if input == "" {
		return map[string]any{}
	}
	var payload any
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func classifyError(err error) error {
	wrapped := fmt.Errorf("anthropic: %w", err)
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return wrapped
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		var delay time.Duration
		if apiErr.Response != nil {
			delay = retryAfter(apiErr.Response.Header.Get("retry-after"))
		}
		return &output.RateLimitError{RetryDelay: delay, Err: wrapped}
	case apiErr.StatusCode >= 500:
		return &output.ServerError{StatusCode: apiErr.StatusCode, Err: wrapped}
	}
	return wrapped
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
