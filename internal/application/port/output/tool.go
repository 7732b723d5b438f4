package output

import (
	"context"

	"search-agent/internal/domain/entity"
)

// ToolPort is a named callable with a declaration. Invoke blocks;
// InvokeAsync delivers exactly one outcome on the returned channel.
type ToolPort interface {
	Name() entity.ToolName
	Declaration() entity.ToolDefinition
	Invoke(ctx context.Context, arguments string) (any, error)
	InvokeAsync(ctx context.Context, arguments string) <-chan ToolOutcome
}

type ToolOutcome struct {
	Value any
	Err   error
}

type ToolRegistry interface {
	Register(tool ToolPort) error
	Get(name entity.ToolName) (ToolPort, bool)
	All() []ToolPort
	Definitions() []entity.ToolDefinition
}
