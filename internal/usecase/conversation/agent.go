// Package conversation runs the tool-augmented chat loop against an
// LLMPort.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"search-agent/internal/application/port/input"
	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/logger"
	"search-agent/internal/retry"
)

var _ input.ConversationAgent = (*Agent)(nil)

const (
	DefaultMaxToolRounds    = 50
	DefaultServerErrorDelay = 30 * time.Second
	fallbackRetryDelay      = 2 * time.Second
)

var ErrTooManyToolRounds = errors.New("model kept requesting tools")

// AttachmentResolver uploads local paths or URLs and returns file handles.
type AttachmentResolver interface {
	Resolve(ctx context.Context, inputs []string) ([]entity.FileRef, error)
}

// AttachmentError is returned when attachments cannot be prepared. It is
// never retried.
type AttachmentError struct {
	Err error
}

func (e *AttachmentError) Error() string { return "attachments: " + e.Err.Error() }
func (e *AttachmentError) Unwrap() error { return e.Err }

type Config struct {
	SystemPrompt string
	// Retries bounds re-attempts after a rate limit or server error; <= 0
	// retries forever.
	Retries int
	// RetryDelay <= 0 derives the delay from the provider error.
	RetryDelay            time.Duration
	ServerErrorDelay      time.Duration
	MaxToolRounds         int
	MaxToolResultLen      int
	DefaultThinkingBudget *int
	Temperature           *float32

	Attachments AttachmentResolver
	Observer    output.TurnObserver
	Sleeper     retry.Sleeper
	Logger      output.LoggerPort
}

func DefaultConfig() Config {
	return Config{
		Retries:          -1,
		RetryDelay:       -1,
		ServerErrorDelay: DefaultServerErrorDelay,
		MaxToolRounds:    DefaultMaxToolRounds,
	}
}

// Agent owns the conversation history. At most one history-mutating turn
// runs at a time; ephemeral turns work on a private copy and may overlap.
type Agent struct {
	llm   output.LLMPort
	tools output.ToolRegistry
	cfg   Config

	observer output.TurnObserver
	sleeper  retry.Sleeper
	logger   output.LoggerPort

	turnMu sync.Mutex

	mu           sync.Mutex
	systemPrompt string
	history      []entity.Message
}

func New(llm output.LLMPort, tools output.ToolRegistry, cfg Config) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("conversation: llm is required")
	}
	if tools == nil {
		return nil, errors.New("conversation: tool registry is required")
	}
	if cfg.ServerErrorDelay <= 0 {
		cfg.ServerErrorDelay = DefaultServerErrorDelay
	}

	a := &Agent{
		llm:      llm,
		tools:    tools,
		cfg:      cfg,
		observer: cfg.Observer,
		sleeper:  cfg.Sleeper,
		logger:   cfg.Logger,
	}
	if a.observer == nil {
		a.observer = nopObserver{}
	}
	if a.sleeper == nil {
		a.sleeper = retry.RealSleeper()
	}
	if a.logger == nil {
		a.logger = logger.NewNop()
	}
	a.SetSystemPrompt(cfg.SystemPrompt)
	return a, nil
}

func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemPrompt
}

// SetSystemPrompt replaces the system prompt and starts a new conversation.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.systemPrompt = prompt
	a.resetLocked()
}

// Reset clears the conversation, keeping the system prompt.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Agent) resetLocked() {
	a.history = nil
	if a.systemPrompt != "" {
		a.history = []entity.Message{{Role: entity.RoleSystem, Content: a.systemPrompt}}
	}
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []entity.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

// Run executes one turn and reports any failure.
func (a *Agent) Run(ctx context.Context, message string, opts ...input.TurnOption) (*input.TurnResult, error) {
	o := input.ResolveTurnOptions(opts...)

	var files []entity.FileRef
	if len(o.Files) > 0 {
		if a.cfg.Attachments == nil {
			return nil, &AttachmentError{Err: errors.New("no attachment resolver configured")}
		}
		refs, err := a.cfg.Attachments.Resolve(ctx, o.Files)
		if err != nil {
			return nil, &AttachmentError{Err: err}
		}
		files = refs
	}

	if !o.Ephemeral {
		a.turnMu.Lock()
		defer a.turnMu.Unlock()
	}

	working := a.History()
	working = append(working, entity.Message{Role: entity.RoleUser, Content: message, Files: files})
	checkpoint := len(working)

	genCfg := output.GenerationConfig{
		Temperature:    a.cfg.Temperature,
		ThinkingBudget: a.cfg.DefaultThinkingBudget,
		ResponseSchema: o.ResponseSchema,
	}
	if o.ThinkingBudget != nil {
		genCfg.ThinkingBudget = o.ThinkingBudget
	}

	attempts := 0
	if a.cfg.Retries > 0 {
		attempts = a.cfg.Retries + 1
	}

	out := retry.Do(ctx, retry.Policy{
		Attempts: attempts,
		Sleeper:  a.sleeper,
		Delay:    a.delayFor,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			reason := "server error"
			var rl *output.RateLimitError
			if errors.As(err, &rl) {
				reason = "rate limit"
			}
			a.logger.Info("Model unavailable, retrying", "reason", reason, "attempt", attempt, "delay", delay, "error", err)
			a.observer.ShowRetry(ctx, reason, attempt, delay)
		},
	}, func(ctx context.Context, attempt int) (*input.TurnResult, error) {
		working = working[:checkpoint]
		res, err := a.exchange(ctx, &working, genCfg, o.ConcurrentTools)
		if err != nil {
			return nil, err
		}
		res.Retries = attempt - 1
		return res, nil
	}, func(_ *input.TurnResult, err error) retry.Decision {
		if isTransient(err) {
			return retry.Retry
		}
		return retry.Stop
	})

	if out.Err != nil {
		err := out.Err
		if out.Exhausted {
			err = fmt.Errorf("retry budget exhausted after %d attempts: %w", out.Attempts, err)
		}
		a.logger.Error("Turn failed", "error", err, "attempts", out.Attempts)
		return nil, err
	}

	if !o.Ephemeral {
		a.mu.Lock()
		a.history = working
		a.mu.Unlock()
	}
	return out.Value, nil
}

// Invoke returns the final text, or "" when the turn failed.
func (a *Agent) Invoke(ctx context.Context, message string, opts ...input.TurnOption) (string, error) {
	res, err := a.Run(ctx, message, opts...)
	if err != nil {
		var attErr *AttachmentError
		if errors.As(err, &attErr) {
			return "", err
		}
		return "", nil
	}
	return res.Text, nil
}

// InvokeRaw returns the provider response, or nil when the turn failed.
func (a *Agent) InvokeRaw(ctx context.Context, message string, opts ...input.TurnOption) (*output.ChatResponse, error) {
	res, err := a.Run(ctx, message, opts...)
	if err != nil {
		var attErr *AttachmentError
		if errors.As(err, &attErr) {
			return nil, err
		}
		return nil, nil
	}
	return res.Response, nil
}

// InvokeAsync runs the turn on its own goroutine with tool calls
// dispatched concurrently.
func (a *Agent) InvokeAsync(ctx context.Context, message string, opts ...input.TurnOption) <-chan input.Reply {
	ch := make(chan input.Reply, 1)
	opts = append(slices.Clone(opts), input.WithConcurrentTools())
	go func() {
		defer close(ch)
		text, err := a.Invoke(ctx, message, opts...)
		ch <- input.Reply{Text: text, Err: err}
	}()
	return ch
}

// exchange sends the working sequence and satisfies tool calls until the
// model answers with no further calls.
func (a *Agent) exchange(
	ctx context.Context,
	working *[]entity.Message,
	genCfg output.GenerationConfig,
	concurrent bool,
) (*input.TurnResult, error) {
	defs := a.tools.Definitions()
	res := &input.TurnResult{}

	for round := 0; ; round++ {
		resp, err := a.llm.Chat(ctx, output.ChatRequest{
			Messages: *working,
			Tools:    defs,
			Config:   genCfg,
		})
		if err != nil {
			return nil, err
		}
		if resp.Message.Role == "" {
			resp.Message.Role = entity.RoleAssistant
		}
		*working = append(*working, resp.Message)
		a.observer.ShowThinking(ctx, resp.Message.Thinking)

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			res.Text = resp.Message.Content
			res.Response = resp
			res.Rounds = round
			return res, nil
		}
		if a.cfg.MaxToolRounds > 0 && round >= a.cfg.MaxToolRounds {
			return nil, fmt.Errorf("%w (%d rounds)", ErrTooManyToolRounds, round)
		}

		a.logger.Info("Tool calls requested", "count", len(calls), "round", round+1)
		var results []entity.ToolResult
		if concurrent {
			results = a.dispatchConcurrent(ctx, calls)
		} else {
			results = a.dispatchSequential(ctx, calls)
		}
		for _, r := range results {
			*working = append(*working, r.Message())
		}
		res.ToolCalls += len(calls)
	}
}

func isTransient(err error) bool {
	var rl *output.RateLimitError
	var se *output.ServerError
	return errors.As(err, &rl) || errors.As(err, &se)
}

type nopObserver struct{}

func (nopObserver) ShowToolStart(context.Context, string, string)         {}
func (nopObserver) ShowToolResult(context.Context, string, string, bool)  {}
func (nopObserver) ShowThinking(context.Context, string)                  {}
func (nopObserver) ShowRetry(context.Context, string, int, time.Duration) {}
