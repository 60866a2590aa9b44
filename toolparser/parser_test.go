package toolparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textDelta(s string) Chunk { return Chunk{Kind: ChunkTextDelta, Text: s} }

// TestFeedTextFlushesProseBeforeToolCallInOneChunk exercises the exact
// scenario spec section 4.3 requires: prose preceding a JSON-fallback tool
// call in the same delta is forwarded as its own EmitText, never dropped or
// merged into the tool call.
func TestFeedTextFlushesProseBeforeToolCallInOneChunk(t *testing.T) {
	p := New()
	events := p.Feed(textDelta("Let me check that file.\n{\"tool\": \"read_file\", \"args\": {\"path\": \"a.txt\"}}\n"))

	require.Len(t, events, 3)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "Let me check that file.\n", events[0].Text)

	assert.Equal(t, EventToolCall, events[1].Kind)
	assert.Equal(t, "read_file", events[1].ToolCall.Name)
	assert.JSONEq(t, `{"path": "a.txt"}`, events[1].ToolCall.ArgumentsJSON)

	assert.Equal(t, EventText, events[2].Kind)
	assert.Equal(t, "\n", events[2].Text)
}

// TestFeedTextFlushesProseAcrossChunkBoundary exercises the same prose then
// tool-call ordering, but with the prose and the tool call arriving in
// separate Feed calls, matching how a real stream delivers deltas.
func TestFeedTextFlushesProseAcrossChunkBoundary(t *testing.T) {
	p := New()

	first := p.Feed(textDelta("Let me check that file.\n"))
	require.Len(t, first, 1)
	assert.Equal(t, EventText, first[0].Kind)
	assert.Equal(t, "Let me check that file.\n", first[0].Text)

	second := p.Feed(textDelta("{\"tool\": \"read_file\", \"args\": {\"path\": \"a.txt\"}}\n"))
	require.Len(t, second, 2)
	assert.Equal(t, EventToolCall, second[0].Kind)
	assert.Equal(t, "read_file", second[0].ToolCall.Name)
	assert.JSONEq(t, `{"path": "a.txt"}`, second[0].ToolCall.ArgumentsJSON)

	assert.Equal(t, EventText, second[1].Kind)
	assert.Equal(t, "\n", second[1].Text)
}

// TestFeedTextWithholdsPartialToolCallSplitAcrossChunks confirms a
// candidate that starts in one delta and closes in a later one still
// withholds the JSON text itself while flushing the prose that preceded it.
func TestFeedTextWithholdsPartialToolCallSplitAcrossChunks(t *testing.T) {
	p := New()

	first := p.Feed(textDelta("Let me check.\n{\"tool\": \"read_file\", \"args\": {\"path\": \"a"))
	require.Len(t, first, 1)
	assert.Equal(t, "Let me check.\n", first[0].Text)

	second := p.Feed(textDelta(".txt\"}}\n"))
	require.Len(t, second, 2)
	assert.Equal(t, EventToolCall, second[0].Kind)
	assert.Equal(t, "read_file", second[0].ToolCall.Name)
	assert.JSONEq(t, `{"path": "a.txt"}`, second[0].ToolCall.ArgumentsJSON)
	assert.Equal(t, EventText, second[1].Kind)
	assert.Equal(t, "\n", second[1].Text)
}

// TestFeedTextPlainProseNoToolCall confirms ordinary prose with no tool
// call anywhere in it is forwarded unchanged.
func TestFeedTextPlainProseNoToolCall(t *testing.T) {
	p := New()
	events := p.Feed(textDelta("just some plain assistant text"))
	require.Len(t, events, 1)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "just some plain assistant text", events[0].Text)
}
