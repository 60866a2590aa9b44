// Package dispatch implements the tool dispatcher (C4): name-keyed routing
// of tool calls to handlers registered on an agentloop.ToolRegistry, with
// duplicate-call-id in-flight tracking, panic recovery, and the size-cap
// externalisation rule of spec section 4.4.
package dispatch
