package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinemde/turnengine/agentloop"
	"github.com/martinemde/turnengine/compaction"
	"github.com/martinemde/turnengine/contextwindow"
	"github.com/martinemde/turnengine/dispatch"
	"github.com/martinemde/turnengine/retry"
	"github.com/martinemde/turnengine/sessionstore"
	"github.com/martinemde/turnengine/telemetry"
	"github.com/martinemde/turnengine/toolparser"
	"github.com/martinemde/turnengine/unifiedllm"
)

// StopReason is the closed set of reasons a Run call returns.
type StopReason string

const (
	StopDone          StopReason = "done"
	StopCancelled     StopReason = "cancelled"
	StopMaxIterations StopReason = "max_iterations"
	StopError         StopReason = "error"
)

// Outcome is returned by Run.
type Outcome struct {
	Reason StopReason
	Err    error
}

// Engine drives one session's turns end to end (C8), wiring every other
// component. One Engine instance serves exactly one session at a time, per
// spec section 5's scheduling model.
type Engine struct {
	cfg     Config
	profile agentloop.ProviderProfile
	env     agentloop.ExecutionEnvironment

	client     *unifiedllm.Client
	window     *contextwindow.Window
	dispatcher *dispatch.Dispatcher
	compactor  *compaction.Compactor
	session    *sessionstore.Session
	emitter    *agentloop.EventEmitter

	retryBudget retry.Budget
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer

	lastToolSignature string
	repeatedToolCalls int
}

// New constructs an Engine for a brand-new session.
func New(cfg Config, client *unifiedllm.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ToolResultInlineCap <= 0 {
		cfg.ToolResultInlineCap = ToolResultInlineCap
	}

	sessionRoot := sessionstore.SessionDir(cfg.Cwd, cfg.SessionID)
	window := contextwindow.NewWindow(contextwindow.Config{
		CapacityTokens: cfg.CapacityTokens,
		SessionRoot:    sessionRoot,
		Model:          cfg.Profile.ModelID(),
	})

	systemPrompt := cfg.Profile.BuildSystemPrompt(cfg.Env, "")
	window.Append(contextwindow.NewSystemMessage(systemPrompt))

	var compactor *compaction.Compactor
	if cfg.Provider != nil {
		compactor = compaction.New(cfg.Provider, cfg.Profile.ModelID(), nil, logger)
	}

	budget := retry.InteractiveBudget()
	if !cfg.Interactive {
		budget = retry.AutonomousBudget()
	}

	session := sessionstore.NewSession(cfg.SessionID, cfg.Cwd, time.Now().UnixNano())

	emitter := agentloop.NewEventEmitter(cfg.SessionID, 256)
	emitter.Emit(agentloop.EventSessionStart, map[string]interface{}{"model": cfg.Profile.ModelID()})

	return &Engine{
		cfg:         cfg,
		profile:     cfg.Profile,
		env:         cfg.Env,
		client:      client,
		window:      window,
		dispatcher: dispatch.New(cfg.Profile.ToolRegistry(), cfg.Env, dispatch.SessionContext{
			Cwd:       cfg.Cwd,
			SessionID: cfg.SessionID,
			Root:      sessionRoot,
		}, cfg.ToolResultInlineCap, cfg.AllowParallelToolCalls),
		compactor:   compactor,
		session:     session,
		emitter:     emitter,
		retryBudget: budget,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
	}
}

// Events exposes the session's event stream for a host UI to consume.
func (e *Engine) Events() <-chan agentloop.SessionEvent { return e.emitter.Events() }

// Window exposes the live context window, e.g. for a host to inspect usage.
func (e *Engine) Window() *contextwindow.Window { return e.window }

// AppendUserMessage appends a user turn to the context window, the START
// step of spec section 4.8's state machine.
func (e *Engine) AppendUserMessage(text string) {
	e.window.Append(contextwindow.NewUserMessage(text))
	e.emitter.Emit(agentloop.EventUserInput, map[string]interface{}{"text": text})
}

// Run drives the ITERATE loop until DONE, cancellation, an unrecoverable
// error, or MaxIterations, persisting the session via C7 on every terminal
// path.
func (e *Engine) Run(ctx context.Context) Outcome {
	var state retry.State

	for iter := 0; iter < MaxIterations; iter++ {
		if ctx.Err() != nil {
			return e.finish(StopCancelled, nil)
		}

		iterCtx, span := e.tracer.StartSpan(ctx, "turn.iterate")

		e.autoThin()

		if e.compactor != nil && e.window.ShouldCompact() {
			e.runCompaction(iterCtx)
		}

		stepOutcome, done := e.runOneIteration(iterCtx, &state)
		span.End()
		if done {
			return stepOutcome
		}
	}

	return e.finish(StopMaxIterations, fmt.Errorf("engine: exceeded %d iterations", MaxIterations))
}

// runOneIteration executes steps (c)-(g) of the state machine for one
// iteration: stream a response, parse it into text/tool-call/stop events,
// append the assistant message, dispatch any tool calls, and report whether
// the loop should stop.
func (e *Engine) runOneIteration(ctx context.Context, state *retry.State) (Outcome, bool) {
	ctx, span := e.tracer.StartSpan(ctx, "turn.stream")
	defer span.End()

	req := e.buildRequest()

	stream, err := e.client.Stream(ctx, req)
	if err != nil {
		return e.handleStreamError(ctx, err, state)
	}

	parser := toolparser.New()
	var assistantText string
	var toolCalls []contextwindow.ToolCallRef
	var stopReason string
	var usage unifiedllm.Usage
	var streamErr error
	textStarted := false

	for ev := range stream {
		if ctx.Err() != nil {
			return e.finish(StopCancelled, nil), true
		}
		if u, ok := usageFromStreamEvent(ev); ok {
			usage = usage.Add(u)
		}
		chunk, ok := chunkFromStreamEvent(ev)
		if !ok {
			continue
		}
		if chunk.Kind == toolparser.ChunkError {
			streamErr = chunk.Err
			break
		}
		for _, pev := range parser.Feed(chunk) {
			switch pev.Kind {
			case toolparser.EventText:
				if !textStarted {
					textStarted = true
					e.emitter.Emit(agentloop.EventAssistantTextStart, nil)
				}
				assistantText += pev.Text
				e.emitter.Emit(agentloop.EventAssistantTextDelta, map[string]interface{}{"text": pev.Text})
			case toolparser.EventToolCall:
				toolCalls = append(toolCalls, pev.ToolCall)
				e.emitter.Emit(agentloop.EventToolCallStart, map[string]interface{}{"name": pev.ToolCall.Name})
			case toolparser.EventStop:
				stopReason = pev.Reason
			}
		}
	}

	if textStarted {
		e.emitter.Emit(agentloop.EventAssistantTextEnd, nil)
	}

	for _, warning := range parser.Warnings() {
		e.emitter.Emit(agentloop.EventWarning, map[string]interface{}{"message": warning})
	}

	if streamErr != nil {
		return e.handleStreamError(ctx, streamErr, state)
	}

	e.window.AddCacheUsage(valueOr(usage.CacheWriteTokens, 0), valueOr(usage.CacheReadTokens, 0))
	e.persistUsage(usage)
	*state = retry.State{} // a fully-parsed response resets the retry sequence

	e.window.Append(contextwindow.NewAssistantMessage(assistantText, toolCalls))
	e.metrics.SetContextUsedTokens(e.window.UsedTokens())

	if len(toolCalls) > 0 {
		e.detectLoop(toolCalls)
		e.dispatchToolCalls(ctx, toolCalls)
		return Outcome{}, false
	}

	if stopReason == "end_turn" || stopReason == "length" {
		return e.finish(StopDone, nil), true
	}
	return Outcome{}, false
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// detectLoop tracks whether the model is reissuing the same single tool
// call turn after turn and warns once it crosses LoopRepeatThreshold,
// mirroring the Rust original's tracing::warn! loop-detection line. It
// never aborts the run itself — MaxIterations remains the hard stop.
func (e *Engine) detectLoop(calls []contextwindow.ToolCallRef) {
	if len(calls) != 1 {
		e.lastToolSignature = ""
		e.repeatedToolCalls = 0
		return
	}

	sig := calls[0].Name + ":" + calls[0].ArgumentsJSON
	if sig == e.lastToolSignature {
		e.repeatedToolCalls++
	} else {
		e.lastToolSignature = sig
		e.repeatedToolCalls = 1
	}

	if e.repeatedToolCalls == LoopRepeatThreshold {
		e.logger.Warn("possible tool-call loop detected", "tool", calls[0].Name, "repeats", e.repeatedToolCalls)
		e.emitter.Emit(agentloop.EventLoopDetection, map[string]interface{}{
			"tool":    calls[0].Name,
			"repeats": e.repeatedToolCalls,
		})
	}
}

// dispatchToolCalls runs step (f): dispatch every pending tool call and
// append its result to the window in original call_id order.
func (e *Engine) dispatchToolCalls(ctx context.Context, calls []contextwindow.ToolCallRef) {
	ctx, span := e.tracer.StartSpan(ctx, "turn.dispatch")
	defer span.End()

	dispatchCalls := make([]dispatch.Call, len(calls))
	for i, tc := range calls {
		dispatchCalls[i] = dispatch.Call{CallID: tc.CallID, Name: tc.Name, ArgumentsJSON: tc.ArgumentsJSON}
	}

	start := time.Now()
	results := e.dispatcher.Dispatch(ctx, dispatchCalls)
	elapsed := time.Since(start)

	byCallID := make(map[string]string, len(calls))
	for _, tc := range calls {
		byCallID[tc.CallID] = tc.Name
	}

	for _, r := range results {
		msg := contextwindow.NewToolMessage(r.CallID, r.Content)
		msg.ExternalisedPath = r.ExternalisedPath
		e.window.Append(msg)
		e.emitter.Emit(agentloop.EventToolCallEnd, map[string]interface{}{"call_id": r.CallID, "status": r.Status})
		e.metrics.RecordToolDispatch(byCallID[r.CallID], r.Status, elapsed)
	}
}

// buildRequest constructs the next provider request from the window's
// current log and the profile's tool/provider configuration.
func (e *Engine) buildRequest() unifiedllm.Request {
	snapshot := e.window.Snapshot()
	messages := make([]unifiedllm.Message, 0, len(snapshot))
	for _, m := range snapshot {
		messages = append(messages, toWireMessage(m))
	}

	return unifiedllm.Request{
		Model:           e.profile.ModelID(),
		Provider:        e.profile.ID(),
		Messages:        messages,
		ToolDefs:        e.profile.ToolRegistry().WireToolDefs(),
		ProviderOptions: e.profile.ProviderOptions(),
	}
}

// toWireMessage converts a contextwindow.Message into the unifiedllm wire
// representation, translating structured ToolCallRefs/ToolCallID into the
// provider-facing ContentPart forms.
func toWireMessage(m contextwindow.Message) unifiedllm.Message {
	switch m.Role {
	case contextwindow.RoleSystem:
		return unifiedllm.SystemMessage(m.Content)
	case contextwindow.RoleUser:
		return unifiedllm.UserMessage(m.Content)
	case contextwindow.RoleTool:
		return unifiedllm.ToolResultMessage(m.ToolCallID, m.Content, false)
	case contextwindow.RoleAssistant:
		parts := make([]unifiedllm.ContentPart, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			parts = append(parts, unifiedllm.TextPart(m.Content))
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, unifiedllm.ToolCallPart(tc.CallID, tc.Name, []byte(tc.ArgumentsJSON)))
		}
		return unifiedllm.Message{Role: unifiedllm.RoleAssistant, Content: parts}
	default:
		return unifiedllm.UserMessage(m.Content)
	}
}

// autoThin runs step (a): an incremental oldest-third thinning pass each
// time a new auto-thin percentage threshold is crossed.
func (e *Engine) autoThin() {
	scope, threshold, ok := e.window.PendingAutoThin()
	if !ok {
		return
	}
	result, err := e.window.Thin(scope, contextwindow.DefaultThinThresholdChars)
	if err != nil {
		e.logger.Warn("auto-thin failed", "error", err)
		return
	}
	e.window.MarkThinned(threshold)
	e.metrics.RecordThinning(string(scope))
	if result.HadChanges {
		e.emitter.Emit(agentloop.EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("auto-thinned %d items, saved %d chars", result.ItemsThinned, result.CharsSaved),
		})
	}
}

// runCompaction runs step (b): summarize the log via C6 when the window has
// crossed the compaction threshold.
func (e *Engine) runCompaction(ctx context.Context) {
	ctx, span := e.tracer.StartSpan(ctx, "turn.compact")
	defer span.End()

	snapshot := e.window.Snapshot()
	preservedTail := contextwindow.PreservedTail(snapshot)

	budget := func(w *contextwindow.Window) (int, bool) {
		capacity := w.CapacityTokens()
		used := w.UsedTokens()
		remaining := capacity - used
		needsReduction := remaining < SummaryRequestFloorTokens
		return remaining, needsReduction
	}

	result := e.compactor.Compact(ctx, e.window, preservedTail, budget)
	outcome := "success"
	if !result.Success {
		outcome = "fallback"
	}
	e.metrics.RecordCompaction(outcome)
	e.emitter.Emit(agentloop.EventWarning, map[string]interface{}{
		"message": fmt.Sprintf("compaction ran: success=%v chars_saved=%d", result.Success, result.CharsSaved),
	})
}

// SummaryRequestFloorTokens is the minimum remaining budget a summary
// request needs before the pre-summary fallback cascade must engage.
const SummaryRequestFloorTokens = 8000

// handleStreamError classifies a stream-level error via C5 and decides
// whether to retry, force compaction and retry, or fail, per spec section
// 4.8 step (d)'s Error branch.
func (e *Engine) handleStreamError(ctx context.Context, err error, state *retry.State) (Outcome, bool) {
	kind := retry.Classify(err)
	e.metrics.RecordRetryAttempt(string(kind))

	if kind == retry.KindContextLengthExceeded {
		if e.compactor != nil {
			e.runCompaction(ctx)
		}
		return Outcome{}, false
	}

	if !retry.IsRecoverable(kind) {
		return e.finish(StopError, err), true
	}

	exhausted := state.Advance(e.retryBudget, kind)
	if exhausted {
		return e.finish(StopError, fmt.Errorf("engine: retry budget exhausted: %w", err)), true
	}

	e.emitter.Emit(agentloop.EventWarning, map[string]interface{}{
		"message": fmt.Sprintf("retrying after %s (attempt %d)", kind, state.Attempt),
	})

	select {
	case <-ctx.Done():
		return e.finish(StopCancelled, nil), true
	case <-time.After(state.NextDelay):
	}
	return Outcome{}, false
}

// finish persists the session with the given terminal status and returns
// the Outcome, the DONE step of spec section 4.8.
func (e *Engine) finish(reason StopReason, err error) Outcome {
	e.session.SyncFromWindow(e.window, time.Now().UnixNano())
	switch reason {
	case StopDone:
		e.session.Status = sessionstore.StatusCompleted
	case StopCancelled:
		e.session.Status = sessionstore.StatusCancelled
	default:
		e.session.Status = sessionstore.StatusError
	}
	if saveErr := sessionstore.Save(e.session); saveErr != nil {
		e.logger.Error("failed to persist session", "error", saveErr)
	}
	if err != nil {
		e.emitter.Emit(agentloop.EventError, map[string]interface{}{"error": err.Error()})
	}
	if reason == StopMaxIterations {
		e.emitter.Emit(agentloop.EventTurnLimit, map[string]interface{}{"max_iterations": MaxIterations})
	}
	e.emitter.Emit(agentloop.EventSessionEnd, map[string]interface{}{"reason": string(reason)})
	return Outcome{Reason: reason, Err: err}
}

func (e *Engine) persistUsage(usage unifiedllm.Usage) {
	e.session.AddUsage(usage.InputTokens, usage.OutputTokens)
}
