package contextwindow

import (
	"math"
	"strings"
)

// codeMarkers mirrors the reference implementation's code-likeness
// detector (context_window.rs::estimate_tokens), generalised to also catch
// Go source (`func `) alongside the original's Rust-flavoured `fn `.
var codeMarkers = []string{"```", "{", "fn ", "func "}

// tokenSafetyBuffer inflates the raw character-based estimate to bias
// toward over-counting rather than under-counting context usage.
const tokenSafetyBuffer = 1.1

// EstimateTokens is the deterministic character-based heuristic required by
// spec 4.2. It is not required to match any provider's real tokenizer.
//
// Code-like text (detected via the presence of a fence, brace, or a Go/Rust
// function keyword) is denser per token than prose, so it is estimated at
// one token per three characters; everything else at one token per four.
// The result is inflated by a fixed safety buffer and rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	divisor := 4.0
	for _, marker := range codeMarkers {
		if strings.Contains(text, marker) {
			divisor = 3.0
			break
		}
	}
	raw := float64(len(text)) / divisor * tokenSafetyBuffer
	return int(math.Ceil(raw))
}

// EstimateMessage estimates the token cost of a Message, including a small
// fixed overhead per tool call to account for the JSON scaffolding around
// arguments that plain content-length estimation would otherwise miss.
func EstimateMessage(m Message) int {
	tokens := EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		tokens += EstimateTokens(tc.ArgumentsJSON) + estimateToolCallOverhead
	}
	return tokens
}

const estimateToolCallOverhead = 8
