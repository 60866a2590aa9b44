// Package toolparser implements the streaming tool-call parser (C3): a
// stateful, single-threaded consumer of provider Chunks that emits text
// fragments and finalised tool calls in issuance order.
//
// Two modes are supported, selected per provider capability: native mode
// accumulates provider-reported ToolCallDelta fragments by call id; JSON
// fallback mode scans accumulated text for a `{"tool":` object that begins
// a line, tolerating chunk boundaries inside braces, strings, and escapes.
// JSON inside a ``` code fence is passed through as text and is never
// parsed as a tool call. Both
// modes share the duplicate-suppression and malformed-block-recovery rules
// required by spec section 4.3.
package toolparser
