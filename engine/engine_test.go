package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/turnengine/agentloop"
	"github.com/martinemde/turnengine/sessionstore"
	"github.com/martinemde/turnengine/unifiedllm"
)

// fakeProfile is a minimal agentloop.ProviderProfile for tests: it leans on
// agentloop.BaseProfile for identity/registry/capability bookkeeping and
// only supplies the system prompt itself.
type fakeProfile struct {
	*agentloop.BaseProfile
}

func newFakeProfile(registry *agentloop.ToolRegistry) *fakeProfile {
	return &fakeProfile{
		BaseProfile: agentloop.NewBaseProfile("stub", "stub-model", registry).
			WithCapabilities(false, true, 200_000),
	}
}

func (p *fakeProfile) BuildSystemPrompt(env agentloop.ExecutionEnvironment, projectDocs string) string {
	return "you are a stub"
}

// scriptedProvider replays a fixed sequence of stream event batches, one
// batch per Stream() call, for deterministic multi-turn tests.
type scriptedProvider struct {
	batches [][]unifiedllm.StreamEvent
	calls   int
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	return &unifiedllm.Response{}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	idx := p.calls
	p.calls++
	ch := make(chan unifiedllm.StreamEvent, len(p.batches[idx]))
	for _, ev := range p.batches[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func textEvents(s string) []unifiedllm.StreamEvent {
	return []unifiedllm.StreamEvent{
		{Type: unifiedllm.TextDelta, Delta: s},
		{Type: unifiedllm.StreamFinish, FinishReason: &unifiedllm.FinishReason{Reason: "stop"}},
	}
}

func toolCallEvents(callID, name, argsJSON string) []unifiedllm.StreamEvent {
	return []unifiedllm.StreamEvent{
		{Type: unifiedllm.ToolCallDelta, ToolCall: &unifiedllm.ToolCall{ID: callID, Name: name, Arguments: json.RawMessage(argsJSON)}},
		{Type: unifiedllm.StreamFinish, FinishReason: &unifiedllm.FinishReason{Reason: "tool_calls"}},
	}
}

func newTestRegistry() *agentloop.ToolRegistry {
	reg := agentloop.NewToolRegistry()
	reg.Register(agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{Name: "echo", Description: "echoes input"},
		Executor: func(args json.RawMessage, env agentloop.ExecutionEnvironment) (string, error) {
			parsed, _ := agentloop.ParseToolArguments(args)
			text, _ := agentloop.GetStringArg(parsed, "text")
			return text, nil
		},
	})
	return reg
}

func newTestEngine(t *testing.T, provider *scriptedProvider) *Engine {
	t.Helper()
	cwd := t.TempDir()
	cfg := Config{
		Profile:        newFakeProfile(newTestRegistry()),
		Env:            agentloop.NewLocalExecutionEnvironment(cwd),
		SessionID:      "sess-test",
		Cwd:            cwd,
		CapacityTokens: 200_000,
		Provider:       provider,
	}
	client := unifiedllm.NewClient(unifiedllm.WithProvider("stub", provider))
	return New(cfg, client, nil)
}

// TestSimpleCompletion covers S1: a single user turn answered with plain
// text and no tool calls ends the run as StopDone.
func TestSimpleCompletion(t *testing.T) {
	provider := &scriptedProvider{batches: [][]unifiedllm.StreamEvent{textEvents("hello there")}}
	e := newTestEngine(t, provider)
	e.AppendUserMessage("hi")

	outcome := e.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, StopDone, outcome.Reason)

	snapshot := e.Window().Snapshot()
	require.Len(t, snapshot, 3) // system, user, assistant
	assert.Equal(t, "hello there", snapshot[2].Content)
}

// TestToolDispatchThenCompletion covers S2: one tool call round-trips
// through the dispatcher and a following turn completes normally.
func TestToolDispatchThenCompletion(t *testing.T) {
	provider := &scriptedProvider{batches: [][]unifiedllm.StreamEvent{
		toolCallEvents("call-1", "echo", `{"text":"ping"}`),
		textEvents("done"),
	}}
	e := newTestEngine(t, provider)
	e.AppendUserMessage("please echo ping")

	outcome := e.Run(context.Background())

	require.NoError(t, outcome.Err)
	assert.Equal(t, StopDone, outcome.Reason)

	snapshot := e.Window().Snapshot()
	var sawToolResult bool
	for _, m := range snapshot {
		if m.Role == "tool" {
			sawToolResult = true
			assert.Equal(t, "ping", m.Content)
			assert.Equal(t, "call-1", m.ToolCallID)
		}
	}
	assert.True(t, sawToolResult)
}

// TestMaxIterationsSafetyCap covers a model that never stops: Run must
// still terminate.
func TestMaxIterationsSafetyCap(t *testing.T) {
	batches := make([][]unifiedllm.StreamEvent, 0, MaxIterations+1)
	for i := 0; i < MaxIterations+1; i++ {
		batches = append(batches, toolCallEvents("call-loop", "echo", `{"text":"x"}`))
	}
	provider := &scriptedProvider{batches: batches}
	e := newTestEngine(t, provider)
	e.AppendUserMessage("loop forever")

	outcome := e.Run(context.Background())

	assert.Equal(t, StopMaxIterations, outcome.Reason)
	assert.Error(t, outcome.Err)
}

// TestCancellationPersistsSession covers cooperative cancellation: the run
// stops promptly and the session is still persisted with status cancelled.
func TestCancellationPersistsSession(t *testing.T) {
	provider := &scriptedProvider{batches: [][]unifiedllm.StreamEvent{textEvents("hello")}}
	e := newTestEngine(t, provider)
	e.AppendUserMessage("hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := e.Run(ctx)
	assert.Equal(t, StopCancelled, outcome.Reason)

	saved, err := sessionstore.Load(e.cfg.Cwd, e.cfg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StatusCancelled, saved.Status)
}
