package compaction

import "strings"

// SummaryMinTokens is the floor applied to every provider-specific cap, as
// defense in depth against a miscalculated budget producing an unusably
// small summary request. Grounded in compaction.rs::SUMMARY_MIN_TOKENS.
const SummaryMinTokens = 1000

// ThinkingBudgetLookup resolves a configured thinking budget (in tokens) for
// a provider, if thinking/extended-reasoning is enabled for it. Injected so
// this package never needs to know about agentloop's provider profiles.
type ThinkingBudgetLookup func(providerName string) (budgetTokens int, ok bool)

// CappedSummaryTokens applies the provider-specific ceiling table of spec
// section 4.6/SPEC_FULL.md supplement 6, grounded in
// compaction.rs::calculate_capped_summary_tokens.
func CappedSummaryTokens(providerName string, baseMaxTokens int, thinking ThinkingBudgetLookup) int {
	anthropicCap := 10_000
	if thinking != nil {
		if budget, ok := thinking(providerName); ok {
			if c := budget + 2000; c > anthropicCap {
				anthropicCap = c
			}
		}
	}

	var capped int
	switch {
	case strings.HasPrefix(providerName, "anthropic"):
		capped = min(baseMaxTokens, anthropicCap)
	case strings.HasPrefix(providerName, "databricks"):
		capped = min(baseMaxTokens, 10_000)
	case strings.HasPrefix(providerName, "embedded"):
		capped = min(baseMaxTokens, 3000)
	default:
		capped = min(baseMaxTokens, 5000)
	}

	if capped < SummaryMinTokens {
		return SummaryMinTokens
	}
	return capped
}

// ShouldDisableThinking reports whether the summary request should turn off
// extended thinking because the configured thinking budget would leave too
// little headroom for the response itself. Grounded in
// compaction.rs::should_disable_thinking.
func ShouldDisableThinking(providerName string, summaryMaxTokens int, thinking ThinkingBudgetLookup) bool {
	if thinking == nil {
		return false
	}
	budget, ok := thinking(providerName)
	if !ok {
		return false
	}
	minimumForThinking := budget + 1024
	return summaryMaxTokens <= minimumForThinking
}
