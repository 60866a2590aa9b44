package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/turnengine/agentloop"
)

func newTestRegistry() *agentloop.ToolRegistry {
	reg := agentloop.NewToolRegistry()
	reg.Register(agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{Name: "echo"},
		Executor: func(args json.RawMessage, env agentloop.ExecutionEnvironment) (string, error) {
			return string(args), nil
		},
	})
	reg.Register(agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{Name: "boom"},
		Executor: func(args json.RawMessage, env agentloop.ExecutionEnvironment) (string, error) {
			panic("kaboom")
		},
	})
	reg.Register(agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{Name: "big"},
		Executor: func(args json.RawMessage, env agentloop.ExecutionEnvironment) (string, error) {
			return strings.Repeat("x", DefaultInlineCapBytes+10), nil
		},
	})
	return reg
}

func TestDispatchUnknownTool(t *testing.T) {
	root := t.TempDir()
	d := New(newTestRegistry(), agentloop.NewLocalExecutionEnvironment(root), SessionContext{SessionID: "sess-test", Root: root}, 0, false)
	results := d.Dispatch(context.Background(), []Call{{CallID: "1", Name: "nonexistent", ArgumentsJSON: "{}"}})
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
	assert.Contains(t, results[0].Content, "no such tool")
}

func TestDispatchPanicRecovered(t *testing.T) {
	root := t.TempDir()
	d := New(newTestRegistry(), agentloop.NewLocalExecutionEnvironment(root), SessionContext{SessionID: "sess-test", Root: root}, 0, false)
	results := d.Dispatch(context.Background(), []Call{{CallID: "1", Name: "boom", ArgumentsJSON: "{}"}})
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
	assert.Contains(t, results[0].Content, "panic")
}

func TestDispatchOrderPreservedWhenParallel(t *testing.T) {
	root := t.TempDir()
	d := New(newTestRegistry(), agentloop.NewLocalExecutionEnvironment(root), SessionContext{SessionID: "sess-test", Root: root}, 0, true)
	calls := []Call{
		{CallID: "a", Name: "echo", ArgumentsJSON: `"A"`},
		{CallID: "b", Name: "echo", ArgumentsJSON: `"B"`},
		{CallID: "c", Name: "echo", ArgumentsJSON: `"C"`},
	}
	results := d.Dispatch(context.Background(), calls)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].CallID)
	assert.Equal(t, "b", results[1].CallID)
	assert.Equal(t, "c", results[2].CallID)
}

func TestDispatchExternalisesOversizedPayload(t *testing.T) {
	root := t.TempDir()
	d := New(newTestRegistry(), agentloop.NewLocalExecutionEnvironment(root), SessionContext{SessionID: "sess-test", Root: root}, 0, false)
	results := d.Dispatch(context.Background(), []Call{{CallID: "1", Name: "big", ArgumentsJSON: "{}"}})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Status)
	assert.NotEmpty(t, results[0].ExternalisedPath)
	assert.Contains(t, results[0].Content, "externalised")

	fullPath := filepath.Join(root, results[0].ExternalisedPath)
	data, err := os.ReadFile(fullPath)
	require.NoError(t, err)
	assert.Len(t, data, DefaultInlineCapBytes+10)
}

func TestDispatchDuplicateInFlightCallID(t *testing.T) {
	root := t.TempDir()
	d := New(newTestRegistry(), agentloop.NewLocalExecutionEnvironment(root), SessionContext{SessionID: "sess-test", Root: root}, 0, false)
	d.inFlight["dup"] = struct{}{}
	results := d.Dispatch(context.Background(), []Call{{CallID: "dup", Name: "echo", ArgumentsJSON: "{}"}})
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
	assert.Contains(t, results[0].Content, "duplicate in-flight")
}
