package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/martinemde/turnengine/unifiedllm"
)

func TestClassifyTypedErrors(t *testing.T) {
	assert.Equal(t, KindRateLimited, Classify(&unifiedllm.RateLimitError{}))
	assert.Equal(t, KindServerError, Classify(&unifiedllm.ServerError{}))
	assert.Equal(t, KindTimeout, Classify(&unifiedllm.RequestTimeoutError{}))
	assert.Equal(t, KindContextLengthExceeded, Classify(&unifiedllm.ContextLengthError{}))
	assert.Equal(t, KindAuth, Classify(&unifiedllm.AuthenticationError{}))
	assert.Equal(t, KindInvalidRequest, Classify(&unifiedllm.InvalidRequestError{}))
}

func TestClassifySubstringFallback(t *testing.T) {
	assert.Equal(t, KindRateLimited, Classify(errors.New("received 429 Too Many Requests")))
	assert.Equal(t, KindBusy, Classify(errors.New("server overloaded, please retry")))
	assert.Equal(t, KindNetworkError, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, KindUnknown, Classify(errors.New("something bizarre happened")))
}

// TestClassifyPriorityExamples exercises spec section 8 property 6 verbatim:
// the five example strings must classify exactly as listed, in priority
// order over any overlapping substrings.
func TestClassifyPriorityExamples(t *testing.T) {
	assert.Equal(t, KindNetworkError, Classify(errors.New("connection timeout")))
	assert.Equal(t, KindRateLimited, Classify(errors.New("rate_limit_exceeded")))
	assert.Equal(t, KindServerError, Classify(errors.New("503 service unavailable")))
	assert.Equal(t, KindContextLengthExceeded, Classify(errors.New("context length")))
	assert.Equal(t, KindAuth, Classify(errors.New("invalid_api_key")))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(KindRateLimited))
	assert.True(t, IsRecoverable(KindServerError))
	assert.False(t, IsRecoverable(KindAuth))
	assert.False(t, IsRecoverable(KindContextLengthExceeded))
}

func TestBudgetDelayBounded(t *testing.T) {
	b := InteractiveBudget()
	for n := 1; n <= 5; n++ {
		d := b.Delay(n)
		assert.LessOrEqual(t, d, time.Duration(float64(b.CapDelay)*1.5))
		assert.Greater(t, d, time.Duration(0))
	}
}

// fixedRand is a deterministic Rand for exact-value delay assertions.
type fixedRand struct{ value float64 }

func (f fixedRand) Float64() float64 { return f.value }

func TestBudgetDelayDeterministicWithInjectedRand(t *testing.T) {
	// jitter floor (0.5): delay_n = min(cap, base*2^(n-1)) * 0.5
	b := Budget{MaxAttempts: 5, BaseDelay: time.Second, CapDelay: 60 * time.Second, Rand: fixedRand{value: 0}}
	assert.Equal(t, 500*time.Millisecond, b.Delay(1))
	assert.Equal(t, time.Second, b.Delay(2))

	// jitter at its 1.5 bound (Float64 returning 1): delay_n = min(cap, base*2^(n-1)) * 1.5
	b = Budget{MaxAttempts: 5, BaseDelay: time.Second, CapDelay: 60 * time.Second, Rand: fixedRand{value: 1}}
	assert.Equal(t, 1500*time.Millisecond, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
}

func TestStateAdvanceExhaustion(t *testing.T) {
	budget := Budget{MaxAttempts: 2, BaseDelay: time.Millisecond, CapDelay: time.Second}
	var s State
	exhausted := s.Advance(budget, KindServerError)
	assert.False(t, exhausted)
	assert.Equal(t, 1, s.Attempt)

	exhausted = s.Advance(budget, KindServerError)
	assert.True(t, exhausted)
	assert.Equal(t, 2, s.Attempt)
}
