package contextwindow

import (
	"fmt"
	"sync"
)

// absoluteCompactionCeiling guards against a misconfigured or unusually
// large capacity_tokens value: compaction is forced once used_tokens
// crosses this absolute value even if the percentage threshold has not
// been reached. Grounded in context_window.rs's should_compact.
const absoluteCompactionCeiling = 150_000

// compactionPercentThreshold is the fraction of capacity at which
// should_compact reports true.
const compactionPercentThreshold = 0.80

// autoThinThresholds are the percentages at which the turn engine should
// invoke an incremental thin, each crossed at most once per session.
var autoThinThresholds = []float64{0.50, 0.60, 0.70, 0.80}

// Window owns the ordered message log for one turn engine session and
// maintains token accounting and thinning state (spec section 3, C2).
type Window struct {
	mu sync.Mutex

	messages []Message
	nextSeq  int

	capacityTokens int
	usedTokens     int

	cacheCreationTokens int
	cacheReadTokens     int

	thinIndex int // highest seq already considered for externalisation

	lastThinningPct float64 // monotone marker for auto-thin threshold crossing

	sessionRoot string
	estimate    func(string) int

	clock Clock
	ids   IDGenerator
}

// Config configures a new Window.
type Config struct {
	CapacityTokens int
	SessionRoot    string
	Model          string // used to pick a tiktoken encoding when available
	Clock          Clock
	IDs            IDGenerator
}

// NewWindow creates an empty Window.
func NewWindow(cfg Config) *Window {
	w := &Window{
		capacityTokens: cfg.CapacityTokens,
		sessionRoot:    cfg.SessionRoot,
		estimate:       tokenEstimatorFor(cfg.Model),
		clock:          cfg.Clock,
		ids:            cfg.IDs,
	}
	if w.clock == nil {
		w.clock = systemClock{}
	}
	if w.ids == nil {
		w.ids = uuidGenerator{}
	}
	return w
}

// Append records a new message, assigning it the next monotone seq and
// updating used_tokens by its estimate. Invariant (b) of spec section 3 is
// the caller's responsibility to preserve at stream-start boundaries; this
// call always adds, it never trims.
func (w *Window) Append(m Message) Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	m.Seq = w.nextSeq
	w.nextSeq++
	w.messages = append(w.messages, m)
	w.usedTokens += EstimateMessage(m)
	return m
}

// Estimate exposes the configured token estimator.
func (w *Window) Estimate(text string) int {
	return w.estimate(text)
}

// Snapshot returns a stable ordered copy of the message log.
func (w *Window) Snapshot() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// UsedTokens returns the current running token estimate.
func (w *Window) UsedTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usedTokens
}

// CapacityTokens returns the provider-reported context window size.
func (w *Window) CapacityTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacityTokens
}

// SetCapacityTokens updates the capacity, e.g. after a provider/model switch.
func (w *Window) SetCapacityTokens(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.capacityTokens = n
}

// PercentageUsed returns used_tokens / capacity_tokens, 0 if capacity is 0.
func (w *Window) PercentageUsed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.percentageUsedLocked()
}

func (w *Window) percentageUsedLocked() float64 {
	if w.capacityTokens <= 0 {
		return 0
	}
	return float64(w.usedTokens) / float64(w.capacityTokens)
}

// AddCacheUsage records prompt-cache creation/read token counts reported by
// the provider, for cache-efficacy accounting only; it does not affect
// used_tokens.
func (w *Window) AddCacheUsage(created, read int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cacheCreationTokens += created
	w.cacheReadTokens += read
}

// CacheStats returns the accumulated cache creation/read token totals.
func (w *Window) CacheStats() (created, read int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cacheCreationTokens, w.cacheReadTokens
}

// ThinIndex returns the highest seq already considered for externalisation.
func (w *Window) ThinIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.thinIndex
}

// AdvanceThinIndex raises thin_index to at least seq; it never decreases,
// satisfying invariant (c) of spec section 3.
func (w *Window) AdvanceThinIndex(seq int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.thinIndex {
		w.thinIndex = seq
	}
}

// ShouldCompact reports whether the window has crossed the compaction
// threshold: 80% of capacity, or the absolute ceiling, whichever first.
func (w *Window) ShouldCompact() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.usedTokens > absoluteCompactionCeiling {
		return true
	}
	return w.percentageUsedLocked() >= compactionPercentThreshold
}

// PendingAutoThin reports the next unfired auto-thin threshold that the
// current usage has crossed, if any. Only oldest_third scope advances the
// marker (supplemented behavior C.3 of SPEC_FULL.md); a caller that runs a
// full-scope thin manually does not consume future incremental thresholds.
func (w *Window) PendingAutoThin() (ThinScope, float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pct := w.percentageUsedLocked()
	for _, threshold := range autoThinThresholds {
		if pct >= threshold && w.lastThinningPct < threshold {
			return ScopeOldestThird, threshold, true
		}
	}
	return "", 0, false
}

// MarkThinned advances the auto-thin marker after an oldest_third pass ran
// at the given threshold. Full-scope passes must not call this.
func (w *Window) MarkThinned(threshold float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if threshold > w.lastThinningPct {
		w.lastThinningPct = threshold
	}
}

// SessionRoot returns the directory thinning/fragment files are written under.
func (w *Window) SessionRoot() string {
	return w.sessionRoot
}

// ReplaceContent overwrites the content (and clears/sets externalised path)
// of the message with the given seq, recomputing used_tokens for the delta.
// Used by thinning and by tool-result size-capping (C4).
func (w *Window) ReplaceContent(seq int, newContent, externalisedPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.messages {
		if w.messages[i].Seq != seq {
			continue
		}
		before := EstimateMessage(w.messages[i])
		w.messages[i].Content = newContent
		w.messages[i].ExternalisedPath = externalisedPath
		after := EstimateMessage(w.messages[i])
		w.usedTokens += after - before
		return nil
	}
	return fmt.Errorf("contextwindow: no message with seq %d", seq)
}

// ResetWithSummary replaces everything but the system prompt with a single
// summary assistant message followed by preservedTail, per spec 4.2. It
// returns the number of characters saved (approximate, based on removed
// message content lengths minus the summary's length).
func (w *Window) ResetWithSummary(summaryText string, preservedTail []Message) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var systemPrompt *Message
	if len(w.messages) > 0 && w.messages[0].Role == RoleSystem {
		sp := w.messages[0]
		systemPrompt = &sp
	}

	charsBefore := 0
	for _, m := range w.messages {
		charsBefore += len(m.Content)
	}

	newLog := make([]Message, 0, len(preservedTail)+2)
	if systemPrompt != nil {
		newLog = append(newLog, *systemPrompt)
	}
	summaryMsg := Message{Role: RoleAssistant, Content: summaryText}
	newLog = append(newLog, summaryMsg)
	newLog = append(newLog, preservedTail...)

	// Renumber seq monotonically; old thin_index/externalised references
	// to now-discarded messages become unreachable, which is fine since
	// their content is only reachable via the on-disk thinned/ files that
	// remain valid regardless of message numbering.
	for i := range newLog {
		newLog[i].Seq = i
	}
	w.nextSeq = len(newLog)
	w.messages = newLog
	w.thinIndex = 0
	w.lastThinningPct = 0

	w.usedTokens = 0
	for _, m := range w.messages {
		w.usedTokens += EstimateMessage(m)
	}

	charsAfter := 0
	for _, m := range w.messages {
		charsAfter += len(m.Content)
	}
	saved := charsBefore - charsAfter
	if saved < 0 {
		saved = 0
	}
	return saved
}

// PreservedTail extracts the last user/assistant exchange (and any
// tool-result turns interleaved after the last user message) from a
// snapshot, for use as ResetWithSummary's preservedTail argument. It never
// includes the system prompt.
func PreservedTail(messages []Message) []Message {
	lastUserIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			lastUserIdx = i
			break
		}
	}
	if lastUserIdx == -1 {
		return nil
	}
	tail := make([]Message, len(messages)-lastUserIdx)
	copy(tail, messages[lastUserIdx:])
	return tail
}

type systemClock struct{}

func (systemClock) Now() int64 { return nowNano() }
