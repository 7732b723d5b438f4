package output

import (
	"context"
	"time"
)

// TurnObserver receives progress notifications from a running turn.
type TurnObserver interface {
	ShowToolStart(ctx context.Context, toolName, arguments string)
	ShowToolResult(ctx context.Context, toolName, result string, isError bool)
	ShowThinking(ctx context.Context, content string)
	ShowRetry(ctx context.Context, reason string, attempt int, delay time.Duration)
}
