package engine

import (
	"github.com/martinemde/turnengine/toolparser"
	"github.com/martinemde/turnengine/unifiedllm"
)

// chunkFromStreamEvent translates one unifiedllm.StreamEvent into zero or
// one toolparser.Chunk, the narrower tagged union C3 consumes (spec section
// 4.1/4.3). Event kinds with no Chunk equivalent (stream_start, text/
// reasoning start-end markers, provider_event) are intentionally dropped:
// C3 only needs deltas, tool-call deltas, usage, stop, and error.
func chunkFromStreamEvent(ev unifiedllm.StreamEvent) (toolparser.Chunk, bool) {
	switch ev.Type {
	case unifiedllm.TextDelta:
		return toolparser.Chunk{Kind: toolparser.ChunkTextDelta, Text: ev.Delta}, true

	case unifiedllm.ToolCallDelta:
		if ev.ToolCall == nil {
			return toolparser.Chunk{}, false
		}
		return toolparser.Chunk{
			Kind:              toolparser.ChunkToolCallDelta,
			CallID:            ev.ToolCall.ID,
			Name:              ev.ToolCall.Name,
			ArgumentsFragment: string(ev.ToolCall.Arguments),
		}, true

	case unifiedllm.StreamFinish:
		reason := "end_turn"
		if ev.FinishReason != nil {
			reason = normalizeFinishReason(ev.FinishReason.Reason)
		}
		return toolparser.Chunk{Kind: toolparser.ChunkStopReason, StopReason: reason}, true

	case unifiedllm.StreamError:
		return toolparser.Chunk{Kind: toolparser.ChunkError, Err: ev.Error}, true

	default:
		return toolparser.Chunk{}, false
	}
}

// normalizeFinishReason maps unifiedllm's provider-agnostic finish reasons
// onto the engine's own vocabulary ("end_turn", "tool_use", "length",
// "cancelled"), per spec section 4.1.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "length"
	default:
		return reason
	}
}

// usageFromStreamEvent extracts token usage, if this event carries any.
func usageFromStreamEvent(ev unifiedllm.StreamEvent) (unifiedllm.Usage, bool) {
	if ev.Usage != nil {
		return *ev.Usage, true
	}
	if ev.Response != nil {
		return ev.Response.Usage, true
	}
	return unifiedllm.Usage{}, false
}
