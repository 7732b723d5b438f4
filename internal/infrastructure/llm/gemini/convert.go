package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"

	"google.golang.org/genai"
)

// convertMessages splits the leading system message off into a system
// instruction and converts the rest into contents.
func convertMessages(messages []entity.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleSystem:
			if system == nil {
				system = &genai.Content{Parts: []*genai.Part{}}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})

		case entity.RoleUser:
			parts := make([]*genai.Part, 0, len(msg.Files)+1)
			for _, f := range msg.Files {
				parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: f.URI, MIMEType: f.MIMEType}})
			}
			parts = append(parts, &genai.Part{Text: msg.Content})
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})

		case entity.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: decodeObject(tc.Arguments),
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, &genai.Part{Text: ""})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case entity.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: decodeObject(msg.Content),
			}}
			// consecutive tool results share one content
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return system, contents
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// decodeObject parses a JSON object, wrapping anything else as
// {"result": s}.
func decodeObject(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err == nil && m != nil {
		return m
	}
	if s == "" {
		return map[string]any{}
	}
	return map[string]any{"result": s}
}

func convertTools(tools []entity.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.Parameters),
		})
	}
	return decls
}

// schemaFromMap converts a JSON-schema map into the OpenAPI subset the API
// accepts. Unsupported keywords are dropped.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if f, ok := m["format"].(string); ok {
		s.Format = f
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	s.Required = stringList(m["required"])
	s.Enum = stringList(m["enum"])
	return s
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertResponse(resp *genai.GenerateContentResponse) (entity.Message, error) {
	msg := entity.Message{Role: entity.RoleAssistant}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return msg, fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return msg, nil
	}

	var text, thinking strings.Builder
	for i, p := range resp.Candidates[0].Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return msg, fmt.Errorf("gemini: encode %s args: %w", p.FunctionCall.Name, err)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: string(args)})
		case p.Thought:
			thinking.WriteString(p.Text)
		default:
			text.WriteString(p.Text)
		}
	}
	msg.Content = text.String()
	msg.Thinking = thinking.String()
	return msg, nil
}

// classifyError maps API status codes onto the typed provider errors.
func classifyError(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr):
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("gemini: generate content: %w", err)
	}

	wrapped := fmt.Errorf("gemini %s error: %w", apiErr.Status, err)
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &output.RateLimitError{RetryDelay: retryDelay(apiErr.Details), Err: wrapped}
	case apiErr.Code >= 500:
		return &output.ServerError{StatusCode: apiErr.Code, Err: wrapped}
	}
	return wrapped
}

// retryDelay reads the first "retryDelay" entry, e.g. "7s", from error
// details.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		raw, ok := d["retryDelay"].(string)
		if !ok {
			continue
		}
		if dur, err := time.ParseDuration(raw); err == nil {
			return dur
		}
	}
	return 0
}
