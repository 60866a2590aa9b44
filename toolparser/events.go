package toolparser

import "github.com/martinemde/turnengine/contextwindow"

// EventKind discriminates the tagged union of parser output events.
type EventKind string

const (
	EventText     EventKind = "text"
	EventToolCall EventKind = "tool_call"
	EventStop     EventKind = "stop"
)

// Event is a single parser output: EmitText(s), EmitToolCall(ToolCallRef),
// or EmitStop(reason), per spec section 4.3.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall contextwindow.ToolCallRef
	Reason   string
}

func textEvent(s string) Event               { return Event{Kind: EventText, Text: s} }
func toolCallEvent(tc contextwindow.ToolCallRef) Event { return Event{Kind: EventToolCall, ToolCall: tc} }
func stopEvent(reason string) Event          { return Event{Kind: EventStop, Reason: reason} }
