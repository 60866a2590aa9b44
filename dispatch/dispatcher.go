package dispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/turnengine/agentloop"
	"github.com/martinemde/turnengine/contextwindow"
)

// DefaultInlineCapBytes is the payload size above which a tool result is
// externalised to disk instead of being inlined into the message log
// (spec section 4.4).
const DefaultInlineCapBytes = 64 * 1024

// Call is one tool invocation to dispatch, addressed by CallID so results
// can be re-assembled in issuance order even when run concurrently.
type Call struct {
	CallID        string
	Name          string
	ArgumentsJSON string
}

// Result mirrors the spec's ToolResult record (section 3).
type Result struct {
	CallID           string
	Status           string // "ok" | "error"
	Content          string
	SizeBytes        int
	ExternalisedPath string
}

// SessionContext carries session identity into externalisation, per spec
// section 4.4's "session_context" field — a fuller handler surface than the
// teacher's bare ExecutionEnvironment, since the externalised-file naming
// scheme below needs the session root and the session ID shows up in the
// reference text a tool result leaves behind.
type SessionContext struct {
	Cwd       string
	SessionID string
	Root      string
}

// Dispatcher owns a tool registry and an execution environment and
// implements the C4 contract.
type Dispatcher struct {
	registry        *agentloop.ToolRegistry
	env             agentloop.ExecutionEnvironment
	session         SessionContext
	inlineCap       int
	allowConcurrent bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Dispatcher.
func New(registry *agentloop.ToolRegistry, env agentloop.ExecutionEnvironment, session SessionContext, inlineCap int, allowConcurrent bool) *Dispatcher {
	if inlineCap <= 0 {
		inlineCap = DefaultInlineCapBytes
	}
	return &Dispatcher{
		registry:        registry,
		env:             env,
		session:         session,
		inlineCap:       inlineCap,
		allowConcurrent: allowConcurrent,
		inFlight:        make(map[string]struct{}),
	}
}

// Dispatch runs the given calls, sequentially or concurrently depending on
// the allow_multiple_tool_calls configuration, and always returns results
// ordered by the calls' original issuance order (spec section 4.4/5).
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call) []Result {
	if !d.allowConcurrent || len(calls) <= 1 {
		return d.dispatchSequential(ctx, calls)
	}
	return d.dispatchParallel(ctx, calls)
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	for i, c := range calls {
		results[i] = d.dispatchOne(ctx, c)
	}
	return results
}

// dispatchParallel runs independent call_ids concurrently via errgroup so
// one call's cancellation/panic doesn't leak into unrelated goroutines'
// error handling, while results still land in original call order.
func (d *Dispatcher) dispatchParallel(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			results[i] = d.dispatchOne(gctx, c)
			return nil
		})
	}
	_ = g.Wait() // dispatchOne never returns an error; failures are encoded in Result.
	return results
}

// dispatchOne executes a single call: registry lookup, at-most-one-inflight
// guard per call_id, panic recovery, execution, and size-cap externalisation.
func (d *Dispatcher) dispatchOne(ctx context.Context, c Call) Result {
	if !d.beginInFlight(c.CallID) {
		return Result{CallID: c.CallID, Status: "error", Content: fmt.Sprintf("duplicate in-flight call_id: %s", c.CallID)}
	}
	defer d.endInFlight(c.CallID)

	registered := d.registry.Get(c.Name)
	if registered == nil {
		return Result{CallID: c.CallID, Status: "error", Content: fmt.Sprintf("no such tool: %s", c.Name)}
	}

	output, err := d.runWithRecover(registered, c)
	if err != nil {
		return Result{CallID: c.CallID, Status: "error", Content: sanitizeError(err)}
	}

	return d.capSize(c.CallID, output)
}

func (d *Dispatcher) runWithRecover(tool *agentloop.RegisteredTool, c Call) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return tool.Executor(json.RawMessage(c.ArgumentsJSON), d.env)
}

// capSize implements spec 4.4's size cap: payloads above inlineCap are
// written under <session_root>/thinned/ and replaced with C2 thinning's
// reference form extended with the session ID, with ExternalisedPath set.
func (d *Dispatcher) capSize(callID, content string) Result {
	size := len(content)
	if size <= d.inlineCap {
		return Result{CallID: callID, Status: "ok", Content: content, SizeBytes: size}
	}

	sum := blake3.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])[:16]
	relPath := filepath.Join(contextwindow.ThinnedDirName, fmt.Sprintf("%s-%s.txt", callID, hash))
	fullPath := filepath.Join(d.session.Root, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Result{CallID: callID, Status: "error", Content: fmt.Sprintf("failed to externalise oversized result: %v", err)}
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return Result{CallID: callID, Status: "error", Content: fmt.Sprintf("failed to externalise oversized result: %v", err)}
	}

	ref := fmt.Sprintf("[externalised: %d characters saved to %s in session %s; read_file to retrieve]", size, relPath, d.session.SessionID)
	return Result{CallID: callID, Status: "ok", Content: ref, SizeBytes: size, ExternalisedPath: relPath}
}

func (d *Dispatcher) beginInFlight(callID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[callID]; ok {
		return false
	}
	d.inFlight[callID] = struct{}{}
	return true
}

func (d *Dispatcher) endInFlight(callID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, callID)
}

// sanitizeError caps an error message at 2000 bytes before it is shown to
// the model. Nothing else is removed: a recovered panic's message still
// carries the stack trace runWithRecover appended (up to that cap), and the
// dispatcher does not log the stack trace anywhere.
func sanitizeError(err error) string {
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000] + "... (truncated)"
	}
	return msg
}
