package userinteraction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"

	"github.com/fatih/color"
)

var _ output.TurnObserver = (*Console)(nil)

// Console prints turn progress and reads REPL input.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	reader  *bufio.Reader
	verbose bool
}

func NewConsole(in io.Reader, out io.Writer, verbose bool) *Console {
	return &Console{
		out:     out,
		reader:  bufio.NewReader(in),
		verbose: verbose,
	}
}

// ReadLine prints the prompt and returns the next trimmed input line.
// io.EOF is returned unchanged.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	color.New(color.FgCyan, color.Bold).Fprint(c.out, prompt)
	c.mu.Unlock()

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) ShowReply(ctx context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\n%s\n\n", text)
}

func (c *Console) ShowError(ctx context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	color.New(color.FgRed).Fprintf(c.out, "Error: %v\n", err)
}

func (c *Console) ShowThinking(ctx context.Context, content string) {
	if content == "" || !c.verbose {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	color.New(color.FgBlue).Fprint(c.out, "\nThinking: ")
	color.New(color.Faint).Fprintln(c.out, truncate(content, 500))
}

func (c *Console) ShowToolStart(ctx context.Context, toolName, arguments string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	color.New(color.FgYellow, color.Bold).Fprintf(c.out, "\n%s\n", toolLabel(toolName))
	if summary := formatToolArguments(toolName, arguments); summary != "" {
		color.New(color.Faint).Fprintf(c.out, "   %s\n", summary)
	}
}

func (c *Console) ShowToolResult(ctx context.Context, toolName, result string, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isError {
		color.New(color.FgRed).Fprint(c.out, "x Error: ")
		color.New(color.Faint).Fprintln(c.out, truncate(errorText(result), 300))
		return
	}
	color.New(color.FgGreen).Fprintf(c.out, "✓ %s\n", formatToolResult(toolName, result))
}

func (c *Console) ShowRetry(ctx context.Context, reason string, attempt int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	color.New(color.FgMagenta).Fprintf(c.out, "Model %s, retrying in %s (attempt %d)\n", reason, delay, attempt)
}

func toolLabel(toolName string) string {
	switch toolName {
	case entity.ToolSearchWithContents:
		return "Web search"
	}
	return "Tool: " + toolName
}

func formatToolArguments(toolName, arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}

	switch toolName {
	case entity.ToolSearchWithContents:
		if query, ok := args["query"].(string); ok {
			return fmt.Sprintf("Query: %s", truncate(query, 80))
		}
	}
	return truncate(arguments, 80)
}

func formatToolResult(toolName, result string) string {
	var payload struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return truncate(result, 100)
	}

	switch toolName {
	case entity.ToolSearchWithContents:
		var hits []entity.SearchResult
		if err := json.Unmarshal(payload.Result, &hits); err == nil {
			return fmt.Sprintf("%d results", len(hits))
		}
		var failure string
		if err := json.Unmarshal(payload.Result, &failure); err == nil {
			return truncate(failure, 150)
		}
	}
	return truncate(string(payload.Result), 100)
}

func errorText(result string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
