package contextwindow

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// tiktokenEstimator wraps a cached BPE encoding for OpenAI-family models.
// Spec 4.2 only requires a deterministic character-based heuristic as a
// floor; when a real tokenizer is available for the configured model, using
// it is a strict accuracy improvement, and EstimateTokens remains the
// fallback for every other provider.
type tiktokenEstimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

var tiktokenCache sync.Map // model name -> *tiktokenEstimator

// tokenEstimatorFor returns an estimation function for the given model. It
// tries to load a tiktoken encoding once per model name and falls back to
// the character-based heuristic if the model is unknown to tiktoken-go or
// encoding fails for any reason.
func tokenEstimatorFor(model string) func(string) int {
	if model == "" {
		return EstimateTokens
	}
	if cached, ok := tiktokenCache.Load(model); ok {
		est := cached.(*tiktokenEstimator)
		if est.enc == nil {
			return EstimateTokens
		}
		return est.count
	}

	enc, err := tiktoken.EncodingForModel(model)
	est := &tiktokenEstimator{enc: enc}
	if err != nil {
		est.enc = nil
	}
	tiktokenCache.Store(model, est)
	if est.enc == nil {
		return EstimateTokens
	}
	return est.count
}

func (e *tiktokenEstimator) count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tokens := e.enc.Encode(text, nil, nil)
	return int(float64(len(tokens)) * tokenSafetyBuffer)
}
