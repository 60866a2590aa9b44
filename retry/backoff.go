package retry

import (
	"math"
	"math/rand"
	"time"
)

// Rand is the jitter source a Budget draws from. Injected the same way
// contextwindow.Clock/IDGenerator are, per spec section 9's Design Notes
// mandate that backoff jitter be deterministic in tests.
type Rand interface {
	Float64() float64
}

// systemRand is the default Rand, used when a Budget is built without an
// injected one. Tests should inject a deterministic Rand instead.
type systemRand struct{}

func (systemRand) Float64() float64 { return rand.Float64() }

// Budget configures a retry schedule: delay_n = min(cap, base*2^(n-1)) * jitter,
// jitter uniform in [0.5, 1.5) — the same shape as unifiedllm.RetryPolicy,
// generalized here to the two operating modes of spec section 4.5.
type Budget struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
	Rand        Rand // nil defaults to systemRand
}

// InteractiveBudget is used for a foreground session where a human is
// waiting on the reply.
func InteractiveBudget() Budget {
	return Budget{MaxAttempts: 3, BaseDelay: time.Second, CapDelay: 60 * time.Second}
}

// AutonomousBudget is used for unattended/background runs, which can afford
// to wait longer and try more times since nobody is staring at a spinner.
func AutonomousBudget() Budget {
	return Budget{MaxAttempts: 6, BaseDelay: time.Second, CapDelay: 120 * time.Second}
}

// Delay returns the backoff duration before attempt n (1-indexed: the delay
// preceding the n-th retry, n >= 1).
func (b Budget) Delay(n int) time.Duration {
	raw := float64(b.BaseDelay) * math.Pow(2, float64(n-1))
	capped := math.Min(raw, float64(b.CapDelay))
	r := b.Rand
	if r == nil {
		r = systemRand{}
	}
	jitter := 0.5 + r.Float64() // [0.5, 1.5)
	return time.Duration(capped * jitter)
}

// State tracks one in-progress retry sequence, surfaced to callers/telemetry
// per spec's RetryState record.
type State struct {
	Attempt       int
	LastErrorKind ErrorKind
	NextDelay     time.Duration
}

// Advance records a failed attempt and computes the next delay, or reports
// exhaustion once budget.MaxAttempts is reached.
func (s *State) Advance(budget Budget, kind ErrorKind) (exhausted bool) {
	s.Attempt++
	s.LastErrorKind = kind
	if s.Attempt >= budget.MaxAttempts {
		s.NextDelay = 0
		return true
	}
	s.NextDelay = budget.Delay(s.Attempt)
	return false
}
