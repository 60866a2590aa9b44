package engine

import (
	"time"

	"github.com/martinemde/turnengine/agentloop"
	"github.com/martinemde/turnengine/telemetry"
	"github.com/martinemde/turnengine/unifiedllm"
)

// MaxIterations is the turn loop's safety cap (spec section 4.8): normal
// use never approaches it, but a runaway model issuing endless tool calls
// must still terminate.
const MaxIterations = 400

// ToolResultInlineCap is the default size-cap threshold passed to the
// dispatcher (spec section 4.4).
const ToolResultInlineCap = 64 * 1024

// LoopRepeatThreshold is how many consecutive iterations must issue the
// identical single tool call (same name and arguments) before the engine
// logs a loop-detection warning and emits agentloop.EventLoopDetection.
const LoopRepeatThreshold = 3

// Config configures one Engine instance.
type Config struct {
	Profile                agentloop.ProviderProfile
	Env                    agentloop.ExecutionEnvironment
	SessionID              string
	Cwd                    string
	CapacityTokens         int
	ToolResultInlineCap    int
	AllowParallelToolCalls bool
	Interactive            bool // selects the retry.Budget
	PollInterval           time.Duration

	// Provider is the adapter registered under Profile.ID() in the Client
	// passed to New. It is also used directly by the Compactor for
	// summary requests, since unifiedllm.Client keeps its provider map
	// private.
	Provider unifiedllm.ProviderAdapter

	// Metrics and Tracer are both optional; a nil value disables the
	// corresponding instrumentation without changing behavior.
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}
