// Package engine implements the Turn Engine (C8): the state machine that
// drives one session's turns end to end, wiring the provider abstraction
// (unifiedllm), the context window (contextwindow), the streaming tool
// parser (toolparser), the tool dispatcher (dispatch), the retry/error
// classifier (retry), compaction/ACD (compaction) and the session store
// (sessionstore) together, against the host contract agentloop declares
// (ProviderProfile, ExecutionEnvironment, ToolRegistry, EventEmitter).
// Generalised from the teacher's ad hoc context-length check into the full
// multi-component pipeline SPEC_FULL.md describes.
package engine
