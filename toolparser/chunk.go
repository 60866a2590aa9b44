package toolparser

// ChunkKind discriminates the Chunk tagged union of spec section 4.1.
type ChunkKind string

const (
	ChunkTextDelta     ChunkKind = "text_delta"
	ChunkToolCallDelta ChunkKind = "tool_call_delta"
	ChunkUsageUpdate   ChunkKind = "usage_update"
	ChunkStopReason    ChunkKind = "stop_reason"
	ChunkError         ChunkKind = "error"
)

// Chunk is the closed sum type C1 emits and C3 consumes. Exactly one of the
// payload fields is meaningful, selected by Kind — a tagged union rather
// than an interface hierarchy, per spec Design Notes.
type Chunk struct {
	Kind ChunkKind

	// ChunkTextDelta
	Text string

	// ChunkToolCallDelta — fragments for a given CallID arrive contiguously
	// enough to reconstruct by simple concatenation.
	CallID             string
	Name               string // present on the first delta for a call_id
	ArgumentsFragment  string

	// ChunkUsageUpdate
	InputTokens, OutputTokens, CacheCreateTokens, CacheReadTokens int

	// ChunkStopReason: "end_turn", "tool_use", "length", "cancelled"
	StopReason string

	// ChunkError
	Err error
}
