package output

import (
	"context"

	"search-agent/internal/domain/entity"
)

type LLMPort interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ChatRequest struct {
	Messages []entity.Message
	Tools    []entity.ToolDefinition
	Config   GenerationConfig
}

// GenerationConfig carries per-request overrides. Providers ignore the
// fields they have no equivalent for. The system prompt travels as the
// leading RoleSystem message.
type GenerationConfig struct {
	Temperature    *float32
	ThinkingBudget *int
	ResponseSchema map[string]any
}

// ChatResponse holds the normalized assistant message. Raw is the provider's
// own response value.
type ChatResponse struct {
	Message entity.Message
	Raw     any
}

// FileUploader turns local bytes into a provider file handle.
type FileUploader interface {
	UploadFile(ctx context.Context, data []byte, mimeType, displayName string) (entity.FileRef, error)
}
