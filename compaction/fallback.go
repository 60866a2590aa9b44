package compaction

import (
	"strconv"

	"github.com/martinemde/turnengine/contextwindow"
)

// HardCodedMinimumSummaryTokens is the absolute last resort of the
// pre-summary cascade when neither thinning pass frees enough budget.
// Grounded in compaction.rs::apply_summary_fallback_sequence's
// HARD_CODED_MINIMUM.
const HardCodedMinimumSummaryTokens = 5000

// BudgetFunc recomputes (max_tokens, needs_reduction) for a summary request
// given the window's current capacity/used tokens, mirroring
// provider_config::calculate_summary_max_tokens. Injected so this package
// doesn't need to know the caller's thinking-budget/provider config shape.
type BudgetFunc func(w *contextwindow.Window) (maxTokens int, needsReduction bool)

// FallbackEvent records one step of the pre-summary cascade, for logging and
// for the thinning_events telemetry the original keeps.
type FallbackEvent struct {
	Step       string
	CharsSaved int
}

// ApplySummaryFallbackSequence tries, in order, to free enough context
// budget for a summary request: thin the oldest third, then thin
// everything, then give up and use a hard-coded minimum. Grounded in
// compaction.rs::apply_summary_fallback_sequence.
func ApplySummaryFallbackSequence(w *contextwindow.Window, budget BudgetFunc) (int, []FallbackEvent) {
	maxTokens, needsReduction := budget(w)
	if !needsReduction {
		return maxTokens, nil
	}

	var events []FallbackEvent

	thinResult, err := w.Thin(contextwindow.ScopeOldestThird, contextwindow.DefaultThinThresholdChars)
	if err == nil {
		events = append(events, FallbackEvent{Step: "thinnify", CharsSaved: thinResult.CharsSaved})
	}
	if maxTokens, needsReduction = budget(w); !needsReduction {
		return maxTokens, events
	}

	skinnyResult, err := w.Thin(contextwindow.ScopeFull, contextwindow.DefaultThinThresholdChars)
	if err == nil {
		events = append(events, FallbackEvent{Step: "skinnify", CharsSaved: skinnyResult.CharsSaved})
	}
	if maxTokens, needsReduction = budget(w); !needsReduction {
		return maxTokens, events
	}

	events = append(events, FallbackEvent{Step: "hard_coded_minimum"})
	return HardCodedMinimumSummaryTokens, events
}

// RetryStep names one rung of the post-failure summary-retry ladder.
type RetryStep string

const (
	RetryDisableThinking RetryStep = "disable_thinking"
	RetryHalveBudget     RetryStep = "halve_budget"
	RetryDropOldestQuarter RetryStep = "drop_oldest_quarter"
	RetryProgrammaticSummary RetryStep = "programmatic_summary"
)

// PostFailureLadder is the fixed sequence of decreasing-ambition retries
// attempted when the summary request itself errors out (spec section 4.6
// step 3, a-d): disable thinking, halve the token budget, drop the oldest
// 25% of the frozen log and retry, and finally synthesize a terse
// programmatic summary without calling the provider at all.
var PostFailureLadder = []RetryStep{
	RetryDisableThinking,
	RetryHalveBudget,
	RetryDropOldestQuarter,
	RetryProgrammaticSummary,
}

// DropOldestQuarter removes the oldest 25% of messages (excluding the system
// prompt), used by the RetryDropOldestQuarter rung.
func DropOldestQuarter(messages []contextwindow.Message) []contextwindow.Message {
	start := 0
	if len(messages) > 0 && messages[0].Role == contextwindow.RoleSystem {
		start = 1
	}
	body := messages[start:]
	drop := len(body) / 4
	kept := make([]contextwindow.Message, 0, len(messages)-drop)
	if start == 1 {
		kept = append(kept, messages[0])
	}
	kept = append(kept, body[drop:]...)
	return kept
}

// ProgrammaticSummary synthesizes a terse, non-LLM summary as the final
// rung of the post-failure ladder, when every provider retry has failed.
func ProgrammaticSummary(messages []contextwindow.Message) string {
	userTurns, assistantTurns, toolResults := 0, 0, 0
	for _, m := range messages {
		switch m.Role {
		case contextwindow.RoleUser:
			userTurns++
		case contextwindow.RoleAssistant:
			assistantTurns++
		case contextwindow.RoleTool:
			toolResults++
		}
	}
	return formatProgrammaticSummary(len(messages), userTurns, assistantTurns, toolResults)
}

func formatProgrammaticSummary(total, user, assistant, tool int) string {
	return "Context summary unavailable (summarization failed after retries). " +
		"Prior session contained " + strconv.Itoa(total) + " messages: " +
		strconv.Itoa(user) + " user, " + strconv.Itoa(assistant) + " assistant, " +
		strconv.Itoa(tool) + " tool-result. Earlier detail was lost; continue from the latest exchange below."
}
