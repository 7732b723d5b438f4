// Package langchain runs the conversation over any langchaingo llms.Model.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/llm/inline"
	"search-agent/internal/infrastructure/logger"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var _ output.LLMPort = (*Adapter)(nil)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  output.LoggerPort
}

type Adapter struct {
	model  llms.Model
	logger output.LoggerPort
}

// NewOpenAICompatible builds the adapter on langchaingo's OpenAI client.
func NewOpenAICompatible(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("langchain: api key is required")
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: create openai client: %w", err)
	}
	return New(llm, cfg.Logger), nil
}

func New(model llms.Model, log output.LoggerPort) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{model: model, logger: log}
}

func (a *Adapter) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	var opts []llms.CallOption
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(convertTools(req.Tools)))
	}
	if t := req.Config.Temperature; t != nil {
		opts = append(opts, llms.WithTemperature(float64(*t)))
	}
	if req.Config.ResponseSchema != nil {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := a.model.GenerateContent(ctx, convertMessages(req.Messages), opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	msg := entity.Message{Role: entity.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	a.logger.Debug("Langchain generation done", "stopReason", choice.StopReason, "toolCalls", len(msg.ToolCalls))
	return &output.ChatResponse{Message: msg, Raw: resp}, nil
}

func convertMessages(messages []entity.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))

		case entity.RoleUser:
			parts := make([]llms.ContentPart, 0, len(msg.Files)+1)
			for _, f := range msg.Files {
				if inline.IsImage(f) {
					parts = append(parts, llms.ImageURLPart(f.URI))
					continue
				}
				parts = append(parts, llms.TextPart(inline.Text(f)))
			}
			parts = append(parts, llms.TextPart(msg.Content))
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})

		case entity.RoleAssistant:
			var parts []llms.ContentPart
			if msg.Content != "" {
				parts = append(parts, llms.TextPart(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

		case entity.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolCallID,
					Name:       msg.Name,
					Content:    msg.Content,
				}},
			})
		}
	}
	return out
}

func convertTools(tools []entity.ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// langchaingo flattens provider errors to text, so the status code is
// recovered from the message.
var statusPattern = regexp.MustCompile(`\b(429|5\d\d)\b`)

func classifyError(err error) error {
	wrapped := fmt.Errorf("langchain: generate content: %w", err)
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return wrapped
	}
	code, _ := strconv.Atoi(m[1])
	if code == 429 {
		return &output.RateLimitError{Err: wrapped}
	}
	return &output.ServerError{StatusCode: code, Err: wrapped}
}
