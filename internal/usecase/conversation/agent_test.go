package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"search-agent/internal/application/port/input"
	"search-agent/internal/application/port/output"
	"search-agent/internal/application/service"
	"search-agent/internal/domain/entity"
	"search-agent/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	msg entity.Message
	err error
}

// scriptedLLM replays steps in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []step
	requests []output.ChatRequest
}

func (s *scriptedLLM) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.err != nil {
		return nil, st.err
	}
	return &output.ChatResponse{Message: st.msg}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type funcTool struct {
	name  string
	calls int
	mu    sync.Mutex
	fn    func(args string) (any, error)
}

func (f *funcTool) Name() entity.ToolName { return f.name }

func (f *funcTool) Declaration() entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:       f.name,
		Parameters: map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	}
}

func (f *funcTool) Invoke(ctx context.Context, arguments string) (any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(arguments)
}

func (f *funcTool) InvokeAsync(ctx context.Context, arguments string) <-chan output.ToolOutcome {
	ch := make(chan output.ToolOutcome, 1)
	go func() {
		defer close(ch)
		v, err := f.Invoke(ctx, arguments)
		ch <- output.ToolOutcome{Value: v, Err: err}
	}()
	return ch
}

func text(s string) step {
	return step{msg: entity.Message{Role: entity.RoleAssistant, Content: s}}
}

func toolCalls(calls ...entity.ToolCall) step {
	return step{msg: entity.Message{Role: entity.RoleAssistant, ToolCalls: calls}}
}

func newAgent(t *testing.T, llm output.LLMPort, cfg Config, tools ...output.ToolPort) (*Agent, *retry.RecordingSleeper) {
	t.Helper()
	reg := service.NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	sleeper := &retry.RecordingSleeper{}
	cfg.Sleeper = sleeper
	a, err := New(llm, reg, cfg)
	require.NoError(t, err)
	return a, sleeper
}

func decode(t *testing.T, content string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &m))
	return m
}

func TestInvoke_PlainAnswer(t *testing.T) {
	llm := &scriptedLLM{steps: []step{text("hello")}}
	cfg := DefaultConfig()
	cfg.SystemPrompt = "be brief"
	a, _ := newAgent(t, llm, cfg)

	got, err := a.Invoke(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	h := a.History()
	require.Len(t, h, 3)
	assert.Equal(t, entity.RoleSystem, h[0].Role)
	assert.Equal(t, "be brief", h[0].Content)
	assert.Equal(t, entity.RoleUser, h[1].Role)
	assert.Equal(t, "hello", h[2].Content)
}

func TestInvoke_ToolCallThenAnswer(t *testing.T) {
	search := &funcTool{name: "search_with_contents", fn: func(args string) (any, error) {
		return []string{"result for " + args}, nil
	}}
	llm := &scriptedLLM{steps: []step{
		toolCalls(entity.ToolCall{ID: "c1", Name: "search_with_contents", Arguments: `{"query":"go"}`}),
		text("done"),
	}}
	a, _ := newAgent(t, llm, DefaultConfig(), search)

	res, err := a.Run(context.Background(), "search go")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, search.calls)
	assert.Equal(t, 2, llm.calls())

	second := llm.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, entity.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, []any{`result for {"query":"go"}`}, decode(t, last.Content)["result"])
	require.Len(t, llm.requests[0].Tools, 1)
}

func TestInvoke_LongToolResultTruncatedAsValidJSON(t *testing.T) {
	structured := &funcTool{name: "structured", fn: func(string) (any, error) {
		return []string{"ééééé", "ééééé"}, nil
	}}
	plain := &funcTool{name: "plain", fn: func(string) (any, error) {
		return "ééééé", nil
	}}
	llm := &scriptedLLM{steps: []step{
		toolCalls(
			entity.ToolCall{ID: "c1", Name: "structured", Arguments: `{}`},
			entity.ToolCall{ID: "c2", Name: "plain", Arguments: `{}`},
		),
		text("done"),
	}}
	cfg := DefaultConfig()
	cfg.MaxToolResultLen = 3
	a, _ := newAgent(t, llm, cfg, structured, plain)

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	msgs := llm.requests[1].Messages
	first, second := msgs[len(msgs)-2], msgs[len(msgs)-1]

	// Byte 3 falls inside an é in both values.
	assert.Equal(t, "[\"\n... (truncated)", decode(t, first.Content)["result"])
	assert.Equal(t, "\u00e9\n... (truncated)", decode(t, second.Content)["result"])
	for _, m := range []entity.Message{first, second} {
		assert.True(t, utf8.ValidString(m.Content), m.Content)
	}
}

func TestInvoke_UnknownToolReportsError(t *testing.T) {
	llm := &scriptedLLM{steps: []step{
		toolCalls(entity.ToolCall{ID: "c1", Name: "nope", Arguments: `{}`}),
		text("sorry"),
	}}
	a, _ := newAgent(t, llm, DefaultConfig())

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "sorry", got)

	msgs := llm.requests[1].Messages
	payload := decode(t, msgs[len(msgs)-1].Content)
	assert.Equal(t, "Error: Tool 'nope' is not supported.", payload["error"])
}

type lookupError struct{ msg string }

func (e *lookupError) Error() string { return e.msg }

func TestInvoke_ToolErrorAndPanicBecomePayloads(t *testing.T) {
	failing := &funcTool{name: "failing", fn: func(string) (any, error) {
		return nil, &lookupError{msg: "no such page"}
	}}
	panicky := &funcTool{name: "panicky", fn: func(string) (any, error) {
		panic("boom")
	}}
	llm := &scriptedLLM{steps: []step{
		toolCalls(
			entity.ToolCall{ID: "a", Name: "failing", Arguments: `{}`},
			entity.ToolCall{ID: "b", Name: "panicky", Arguments: `{}`},
		),
		text("ok"),
	}}
	a, _ := newAgent(t, llm, DefaultConfig(), failing, panicky)

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	msgs := llm.requests[1].Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	first := decode(t, msgs[len(msgs)-2].Content)
	assert.Equal(t, "Error calling tool 'failing': lookupError no such page", first["error"])
	second := decode(t, msgs[len(msgs)-1].Content)
	assert.Contains(t, second["error"], "Error calling tool 'panicky'")
	assert.Contains(t, second["error"], "boom")
}

func TestInvoke_RateLimitUsesProviderDelay(t *testing.T) {
	llm := &scriptedLLM{steps: []step{
		{err: &output.RateLimitError{Err: errors.New("429 quota exceeded retry_delay { seconds: 7 }")}},
		text("after wait"),
	}}
	a, sleeper := newAgent(t, llm, DefaultConfig())

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "after wait", got)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.Delays())
}

func TestInvoke_RetryBudgetExhaustedReturnsEmpty(t *testing.T) {
	rl := &output.RateLimitError{RetryDelay: 3 * time.Second, Err: errors.New("429")}
	llm := &scriptedLLM{steps: []step{{err: rl}, {err: rl}, {err: rl}}}
	cfg := DefaultConfig()
	cfg.Retries = 2
	a, sleeper := newAgent(t, llm, cfg)

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, llm.calls())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeper.Delays())
	assert.Empty(t, a.History(), "failed turn must not touch history")
}

func TestInvoke_ConfiguredDelayOverridesProvider(t *testing.T) {
	llm := &scriptedLLM{steps: []step{
		{err: &output.RateLimitError{RetryDelay: 9 * time.Second, Err: errors.New("429")}},
		text("ok"),
	}}
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Second
	a, sleeper := newAgent(t, llm, cfg)

	_, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestInvoke_ServerErrorWaitsServerDelay(t *testing.T) {
	llm := &scriptedLLM{steps: []step{
		{err: &output.ServerError{StatusCode: 503, Err: errors.New("unavailable")}},
		text("ok"),
	}}
	a, sleeper := newAgent(t, llm, DefaultConfig())

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, []time.Duration{DefaultServerErrorDelay}, sleeper.Delays())
}

func TestInvoke_OtherErrorNotRetried(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{err: errors.New("bad request")}}}
	a, sleeper := newAgent(t, llm, DefaultConfig())

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, llm.calls())
	assert.Empty(t, sleeper.Delays())

	_, err = a.Run(context.Background(), "again")
	require.Error(t, err)
}

func TestInvoke_RetryRollsBackPartialRound(t *testing.T) {
	tool := &funcTool{name: "t", fn: func(string) (any, error) { return "v", nil }}
	llm := &scriptedLLM{steps: []step{
		toolCalls(entity.ToolCall{ID: "1", Name: "t", Arguments: `{}`}),
		{err: &output.ServerError{StatusCode: 500, Err: errors.New("oops")}},
		text("final"),
	}}
	a, _ := newAgent(t, llm, DefaultConfig(), tool)

	got, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "final", got)
	// the retried attempt starts again from the user message
	assert.Len(t, llm.requests[2].Messages, 1)
	assert.Len(t, a.History(), 2)
}

func TestInvoke_EphemeralLeavesHistory(t *testing.T) {
	llm := &scriptedLLM{steps: []step{text("first"), text("side"), text("third")}}
	a, _ := newAgent(t, llm, DefaultConfig())

	_, err := a.Invoke(context.Background(), "one")
	require.NoError(t, err)
	before := a.History()

	got, err := a.Invoke(context.Background(), "aside", input.WithoutHistory())
	require.NoError(t, err)
	assert.Equal(t, "side", got)
	assert.Equal(t, before, a.History())
	// prior history is visible to the ephemeral turn
	assert.Len(t, llm.requests[1].Messages, 3)

	_, err = a.Invoke(context.Background(), "two")
	require.NoError(t, err)
	assert.Len(t, a.History(), 4)
}

func TestInvokeAsync_ConcurrentToolsKeepOrder(t *testing.T) {
	slow := &funcTool{name: "slow", fn: func(string) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow", nil
	}}
	fast := &funcTool{name: "fast", fn: func(string) (any, error) { return "fast", nil }}
	llm := &scriptedLLM{steps: []step{
		toolCalls(
			entity.ToolCall{ID: "1", Name: "slow", Arguments: `{}`},
			entity.ToolCall{ID: "2", Name: "fast", Arguments: `{}`},
		),
		text("both"),
	}}
	a, _ := newAgent(t, llm, DefaultConfig(), slow, fast)

	reply := <-a.InvokeAsync(context.Background(), "q")
	require.NoError(t, reply.Err)
	assert.Equal(t, "both", reply.Text)

	msgs := llm.requests[1].Messages
	n := len(msgs)
	assert.Equal(t, "1", msgs[n-2].ToolCallID)
	assert.Equal(t, "2", msgs[n-1].ToolCallID)
	assert.Equal(t, "slow", decode(t, msgs[n-2].Content)["result"])
}

func TestRun_ToolRoundLimit(t *testing.T) {
	tool := &funcTool{name: "t", fn: func(string) (any, error) { return 1, nil }}
	call := toolCalls(entity.ToolCall{ID: "x", Name: "t", Arguments: `{}`})
	llm := &scriptedLLM{steps: []step{call, call, call}}
	cfg := DefaultConfig()
	cfg.MaxToolRounds = 2
	a, _ := newAgent(t, llm, cfg, tool)

	_, err := a.Run(context.Background(), "loop")
	require.ErrorIs(t, err, ErrTooManyToolRounds)
	assert.Equal(t, 2, tool.calls)
}

type fakeResolver struct{ err error }

func (f fakeResolver) Resolve(ctx context.Context, inputs []string) ([]entity.FileRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	refs := make([]entity.FileRef, len(inputs))
	for i, in := range inputs {
		refs[i] = entity.FileRef{URI: "files/" + in, MIMEType: "text/plain"}
	}
	return refs, nil
}

func TestInvoke_AttachmentsReachModel(t *testing.T) {
	llm := &scriptedLLM{steps: []step{text("read it")}}
	cfg := DefaultConfig()
	cfg.Attachments = fakeResolver{}
	a, _ := newAgent(t, llm, cfg)

	_, err := a.Invoke(context.Background(), "summarize", input.WithFiles("a.txt"))
	require.NoError(t, err)
	user := llm.requests[0].Messages[0]
	require.Len(t, user.Files, 1)
	assert.Equal(t, "files/a.txt", user.Files[0].URI)
}

func TestInvoke_AttachmentFailurePropagates(t *testing.T) {
	llm := &scriptedLLM{}
	cfg := DefaultConfig()
	cfg.Attachments = fakeResolver{err: errors.New("missing file")}
	a, _ := newAgent(t, llm, cfg)

	_, err := a.Invoke(context.Background(), "summarize", input.WithFiles("a.txt"))
	var attErr *AttachmentError
	require.ErrorAs(t, err, &attErr)
	assert.Zero(t, llm.calls())
}

func TestSetSystemPrompt_ResetsHistory(t *testing.T) {
	llm := &scriptedLLM{steps: []step{text("x")}}
	a, _ := newAgent(t, llm, DefaultConfig())
	_, err := a.Invoke(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, a.History(), 2)

	a.SetSystemPrompt("new rules")
	assert.Equal(t, "new rules", a.SystemPrompt())
	require.Len(t, a.History(), 1)
	assert.Equal(t, entity.RoleSystem, a.History()[0].Role)
}

func TestParseRetryDelay(t *testing.T) {
	d, ok := ParseRetryDelay("quota { retry_delay {\n  seconds: 42\n} }")
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, d)

	_, ok = ParseRetryDelay("nothing here")
	assert.False(t, ok)
}
