package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/turnengine/contextwindow"
	"github.com/martinemde/turnengine/unifiedllm"
)

func TestCappedSummaryTokensTable(t *testing.T) {
	assert.Equal(t, 10_000, CappedSummaryTokens("anthropic", 20_000, nil))
	assert.Equal(t, 10_000, CappedSummaryTokens("databricks", 20_000, nil))
	assert.Equal(t, 3000, CappedSummaryTokens("embedded", 20_000, nil))
	assert.Equal(t, 5000, CappedSummaryTokens("openai", 20_000, nil))
	assert.Equal(t, SummaryMinTokens, CappedSummaryTokens("embedded", 100, nil))
}

func TestCappedSummaryTokensWithThinkingBudget(t *testing.T) {
	lookup := func(provider string) (int, bool) {
		if provider == "anthropic" {
			return 20_000, true
		}
		return 0, false
	}
	assert.Equal(t, 22_000, CappedSummaryTokens("anthropic", 30_000, lookup))
}

func TestShouldDisableThinking(t *testing.T) {
	lookup := func(provider string) (int, bool) { return 5000, true }
	assert.True(t, ShouldDisableThinking("anthropic", 6000, lookup))
	assert.False(t, ShouldDisableThinking("anthropic", 7000, lookup))
	assert.False(t, ShouldDisableThinking("anthropic", 6000, nil))
}

func TestDropOldestQuarterKeepsSystemPrompt(t *testing.T) {
	messages := []contextwindow.Message{
		contextwindow.NewSystemMessage("sys"),
		contextwindow.NewUserMessage("1"),
		contextwindow.NewUserMessage("2"),
		contextwindow.NewUserMessage("3"),
		contextwindow.NewUserMessage("4"),
	}
	kept := DropOldestQuarter(messages)
	require.Len(t, kept, 4) // system + 3 (dropped 1 of the 4 body messages)
	assert.Equal(t, contextwindow.RoleSystem, kept[0].Role)
	assert.Equal(t, "2", kept[1].Content)
}

func TestProgrammaticSummaryMentionsCounts(t *testing.T) {
	messages := []contextwindow.Message{
		contextwindow.NewUserMessage("hi"),
		contextwindow.NewAssistantMessage("hello", nil),
		contextwindow.NewToolMessage("call1", "result"),
	}
	summary := ProgrammaticSummary(messages)
	assert.Contains(t, summary, "3 messages")
	assert.Contains(t, summary, "1 user")
}

func TestFragmentGenerateStubFormat(t *testing.T) {
	ids := fakeIDGen{id: "abcdef0123456789"}
	clock := fakeClock{now: 42}
	messages := []contextwindow.Message{
		contextwindow.NewUserMessage("implement the widget"),
		contextwindow.NewAssistantMessage("", []contextwindow.ToolCallRef{{Name: "read_file", CallID: "c1"}}),
		contextwindow.NewToolMessage("c1", "contents"),
		contextwindow.NewAssistantMessage("", []contextwindow.ToolCallRef{{Name: "read_file", CallID: "c2"}}),
		contextwindow.NewToolMessage("c2", "contents2"),
	}
	f := NewFragment(ids, clock, contextwindow.EstimateTokens, messages, "")
	stub := f.GenerateStub()
	assert.Contains(t, stub, "implement the widget")
	assert.Contains(t, stub, "2 tool calls (read_file x2)")
	assert.Contains(t, stub, "5 total msgs")
	assert.Contains(t, stub, `rehydrate(fragment_id: "abcdef0123456789")`)
}

func TestFragmentNoToolCalls(t *testing.T) {
	ids := fakeIDGen{id: "id1"}
	clock := fakeClock{now: 1}
	messages := []contextwindow.Message{contextwindow.NewUserMessage("hello")}
	f := NewFragment(ids, clock, contextwindow.EstimateTokens, messages, "")
	assert.Contains(t, f.GenerateStub(), "no tool calls")
}

type fakeIDGen struct{ id string }

func (f fakeIDGen) NewID() string { return f.id }

type fakeClock struct{ now int64 }

func (f fakeClock) Now() int64 { return f.now }

type stubProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &unifiedllm.Response{Message: unifiedllm.AssistantMessage(s.response)}, nil
}
func (s *stubProvider) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func TestCompactorHappyPath(t *testing.T) {
	w := contextwindow.NewWindow(contextwindow.Config{CapacityTokens: 1_000_000, SessionRoot: t.TempDir()})
	w.Append(contextwindow.NewSystemMessage("system prompt"))
	w.Append(contextwindow.NewUserMessage("do the thing"))
	w.Append(contextwindow.NewAssistantMessage("ok, doing it", nil))

	provider := &stubProvider{name: "anthropic", response: "Summary of the above."}
	c := New(provider, "claude-x", nil, nil)

	budget := func(w *contextwindow.Window) (int, bool) { return 5000, false }
	result := c.Compact(context.Background(), w, nil, budget)

	assert.True(t, result.Success)
	assert.Equal(t, 1, provider.calls)
	snapshot := w.Snapshot()
	require.Len(t, snapshot, 2) // system prompt + summary
	assert.Equal(t, "Summary of the above.", snapshot[1].Content)
}

func TestCompactorFallsBackToProgrammaticSummaryOnRepeatedFailure(t *testing.T) {
	w := contextwindow.NewWindow(contextwindow.Config{CapacityTokens: 1_000_000, SessionRoot: t.TempDir()})
	w.Append(contextwindow.NewSystemMessage("system prompt"))
	w.Append(contextwindow.NewUserMessage("do the thing"))

	provider := &stubProvider{name: "openai", err: errors.New("500 internal server error")}
	c := New(provider, "gpt-x", nil, nil)

	budget := func(w *contextwindow.Window) (int, bool) { return 5000, false }
	result := c.Compact(context.Background(), w, nil, budget)

	assert.True(t, result.Success)
	snapshot := w.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Contains(t, snapshot[1].Content, "Context summary unavailable")
}
