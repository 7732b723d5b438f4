// Package ollama adapts a local Ollama server to the LLM port.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/llm/inline"
	"search-agent/internal/infrastructure/logger"

	"github.com/ollama/ollama/api"
)

var _ output.LLMPort = (*Adapter)(nil)

const DefaultModel = "qwen3:8b"

type Config struct {
	// Host overrides OLLAMA_HOST when set.
	Host   string
	Model  string
	NumCtx int
	Logger output.LoggerPort
	Client *http.Client
}

type Adapter struct {
	client *api.Client
	model  string
	numCtx int
	logger output.LoggerPort
}

func New(cfg Config) (*Adapter, error) {
	var (
		client *api.Client
		err    error
	)
	if cfg.Host != "" {
		u, perr := url.Parse(cfg.Host)
		if perr != nil {
			return nil, fmt.Errorf("ollama: host: %w", perr)
		}
		hc := cfg.Client
		if hc == nil {
			hc = http.DefaultClient
		}
		client = api.NewClient(u, hc)
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{client: client, model: cfg.Model, numCtx: cfg.NumCtx, logger: log}, nil
}

func (a *Adapter) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    a.model,
		Messages: messages,
		Tools:    tools,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if t := req.Config.Temperature; t != nil {
		chatReq.Options["temperature"] = *t
	}
	if a.numCtx > 0 {
		chatReq.Options["num_ctx"] = a.numCtx
	}
	if req.Config.ResponseSchema != nil {
		format, err := json.Marshal(req.Config.ResponseSchema)
		if err != nil {
			return nil, fmt.Errorf("ollama: encode response schema: %w", err)
		}
		chatReq.Format = format
	}

	var final api.ChatResponse
	var content, thinking strings.Builder
	var calls []api.ToolCall
	err = a.client.Chat(ctx, chatReq, func(res api.ChatResponse) error {
		content.WriteString(res.Message.Content)
		thinking.WriteString(res.Message.Thinking)
		calls = append(calls, res.Message.ToolCalls...)
		final = res
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	a.logger.Debug("Ollama chat done", "model", a.model, "doneReason", final.DoneReason)

	msg := entity.Message{
		Role:     entity.RoleAssistant,
		Content:  content.String(),
		Thinking: thinking.String(),
	}
	for i, tc := range calls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("ollama: encode %s args: %w", tc.Function.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}
	return &output.ChatResponse{Message: msg, Raw: final}, nil
}

func convertMessages(messages []entity.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == entity.RoleTool {
			m.ToolName = msg.Name
		}
		for _, f := range msg.Files {
			if data, ok := inline.Decode(f.URI); ok && inline.IsImage(f) {
				m.Images = append(m.Images, api.ImageData(data))
				continue
			}
			m.Content = inline.Text(f) + "\n" + m.Content
		}
		for _, tc := range msg.ToolCalls {
			var args api.ToolCallFunctionArguments
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					return nil, fmt.Errorf("ollama: decode %s args: %w", tc.Name, err)
				}
			}
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, m)
	}
	return out, nil
}

// convertTools goes through JSON since api.Tool mirrors the OpenAI
// function-tool wire shape.
func convertTools(tools []entity.ToolDefinition) (api.Tools, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	wire := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode tools: %w", err)
	}
	var out api.Tools
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ollama: decode tools: %w", err)
	}
	return out, nil
}

func classifyError(err error) error {
	wrapped := fmt.Errorf("ollama chat failed: %w", err)
	status := 0
	var se api.StatusError
	var sePtr *api.StatusError
	switch {
	case errors.As(err, &se):
		status = se.StatusCode
	case errors.As(err, &sePtr):
		status = sePtr.StatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &output.RateLimitError{Err: wrapped}
	case status >= 500:
		return &output.ServerError{StatusCode: status, Err: wrapped}
	}
	return wrapped
}
