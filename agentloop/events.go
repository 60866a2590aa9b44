package agentloop

import (
	"sync"
	"time"
)

// EventKind is the closed vocabulary of host-visible events the C8 turn
// engine emits over one session's lifetime. Every constant here has a real
// emission site in engine.Engine; there is no speculative event for a
// feature the engine doesn't implement (steering injection and per-delta
// tool output streaming were teacher-only and are not part of this
// contract).
type EventKind string

const (
	EventSessionStart       EventKind = "session_start"
	EventSessionEnd         EventKind = "session_end"
	EventUserInput          EventKind = "user_input"
	EventAssistantTextStart EventKind = "assistant_text_start"
	EventAssistantTextDelta EventKind = "assistant_text_delta"
	EventAssistantTextEnd   EventKind = "assistant_text_end"
	EventToolCallStart      EventKind = "tool_call_start"
	EventToolCallEnd        EventKind = "tool_call_end"
	EventTurnLimit          EventKind = "turn_limit"
	EventLoopDetection      EventKind = "loop_detection"
	EventWarning            EventKind = "warning"
	EventError              EventKind = "error"
)

// SessionEvent is one typed event on a session's event stream, serializable
// as-is for a host that wants to log or forward it verbatim.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter fans a session's events out to its host over a buffered
// channel. A full channel drops events rather than blocking the turn loop —
// a slow or absent consumer must never stall a run.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter for sessionID with the given
// channel buffer size, defaulting to 256 when bufferSize is non-positive.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit stamps kind/data with the current time and session id and pushes it
// onto the channel. A no-op once Close has been called.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Full buffer means a slow consumer; drop rather than block the loop.
	}
}

// Events returns the read-only event stream.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close shuts down the event channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
