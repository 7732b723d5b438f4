package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"search-agent/internal/domain/entity"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) dispatchSequential(ctx context.Context, calls []entity.ToolCall) []entity.ToolResult {
	results := make([]entity.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = a.callTool(ctx, call, false)
	}
	return results
}

// dispatchConcurrent runs every call at once; results keep request order.
func (a *Agent) dispatchConcurrent(ctx context.Context, calls []entity.ToolCall) []entity.ToolResult {
	results := make([]entity.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = a.callTool(ctx, call, true)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// callTool never fails: unknown tools, tool errors and panics all become
// error payloads returned to the model.
func (a *Agent) callTool(ctx context.Context, call entity.ToolCall, async bool) (result entity.ToolResult) {
	a.observer.ShowToolStart(ctx, call.Name, call.Arguments)
	defer func() {
		a.observer.ShowToolResult(ctx, call.Name, result.Content, result.IsError)
	}()

	tool, ok := a.tools.Get(call.Name)
	if !ok {
		a.logger.Warn("Unknown tool called", "name", call.Name)
		return a.errorResult(call, fmt.Sprintf("Error: Tool '%s' is not supported.", call.Name))
	}

	a.logger.Info("Executing tool", "name", call.Name, "args", call.Arguments)

	value, err := func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if async {
			out := <-tool.InvokeAsync(ctx, call.Arguments)
			return out.Value, out.Err
		}
		return tool.Invoke(ctx, call.Arguments)
	}()
	if err != nil {
		a.logger.Error("Tool execution failed", "name", call.Name, "error", err)
		return a.errorResult(call, fmt.Sprintf("Error calling tool '%s': %s", call.Name, entity.ErrorReason(err)))
	}

	payload, err := a.resultPayload(value)
	if err != nil {
		return a.errorResult(call, fmt.Sprintf("Error calling tool '%s': %s", call.Name, entity.ErrorReason(err)))
	}
	a.logger.Debug("Tool completed", "name", call.Name, "resultLen", len(payload))
	return entity.ToolResult{CallID: call.ID, Name: call.Name, Content: string(payload)}
}

// resultPayload wraps value as {"result": ...}. A value over
// MaxToolResultLen is replaced by its truncated text form so the payload
// stays valid JSON.
func (a *Agent) resultPayload(value any) ([]byte, error) {
	if n := a.cfg.MaxToolResultLen; n > 0 {
		text, ok := value.(string)
		if !ok {
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			text = string(raw)
		}
		if len(text) > n {
			value = truncateRunes(text, n) + "\n... (truncated)"
		}
	}
	return json.Marshal(map[string]any{"result": value})
}

func (a *Agent) errorResult(call entity.ToolCall, msg string) entity.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return entity.ToolResult{CallID: call.ID, Name: call.Name, Content: string(payload), IsError: true}
}

func truncateRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
