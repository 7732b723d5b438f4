package input

import (
	"context"

	"search-agent/internal/application/port/output"
)

// TurnResult is the outcome of one successful turn.
type TurnResult struct {
	Text      string
	Response  *output.ChatResponse
	ToolCalls int
	Rounds    int
	Retries   int
}

// TurnOptions are resolved per call from functional options.
type TurnOptions struct {
	Ephemeral       bool
	Files           []string
	ThinkingBudget  *int
	ResponseSchema  map[string]any
	ConcurrentTools bool
}

type TurnOption func(*TurnOptions)

func WithoutHistory() TurnOption {
	return func(o *TurnOptions) { o.Ephemeral = true }
}

// WithFiles attaches local paths or http(s) URLs to the user message.
func WithFiles(files ...string) TurnOption {
	return func(o *TurnOptions) { o.Files = append(o.Files, files...) }
}

func WithThinkingBudget(tokens int) TurnOption {
	return func(o *TurnOptions) { o.ThinkingBudget = &tokens }
}

func WithResponseSchema(schema map[string]any) TurnOption {
	return func(o *TurnOptions) { o.ResponseSchema = schema }
}

func WithConcurrentTools() TurnOption {
	return func(o *TurnOptions) { o.ConcurrentTools = true }
}

func ResolveTurnOptions(opts ...TurnOption) TurnOptions {
	var o TurnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Reply is delivered by InvokeAsync.
type Reply struct {
	Text string
	Err  error
}

// ConversationAgent is the entry point used by the CLI and HTTP API.
//
// Run reports every failure. Invoke and InvokeRaw return the "" / nil
// sentinel for a failed turn and an error only when attachments could not
// be resolved or uploaded.
type ConversationAgent interface {
	Run(ctx context.Context, message string, opts ...TurnOption) (*TurnResult, error)
	Invoke(ctx context.Context, message string, opts ...TurnOption) (string, error)
	InvokeRaw(ctx context.Context, message string, opts ...TurnOption) (*output.ChatResponse, error)
	InvokeAsync(ctx context.Context, message string, opts ...TurnOption) <-chan Reply
	SystemPrompt() string
	SetSystemPrompt(prompt string)
	Reset()
}
