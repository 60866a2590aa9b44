package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/martinemde/turnengine/contextwindow"
	"github.com/martinemde/turnengine/retry"
	"github.com/martinemde/turnengine/unifiedllm"
)

// Result reports the outcome of one compaction attempt, grounded in
// compaction.rs::CompactionResult.
type Result struct {
	Success    bool
	CharsSaved int
	Err        error
}

// Compactor drives the full compaction sequence: pre-summary fallback
// cascade, the summary request itself, and — on provider failure — the
// post-failure retry ladder ending in a programmatic summary. Grounded in
// compaction.rs::perform_compaction.
type Compactor struct {
	Provider         unifiedllm.ProviderAdapter
	Model            string
	ThinkingBudgets  ThinkingBudgetLookup
	Logger           *slog.Logger

	mu sync.Mutex // non-reentrant: only one compaction runs at a time per Compactor
}

// New creates a Compactor. logger may be nil, in which case slog.Default() is used.
func New(provider unifiedllm.ProviderAdapter, model string, thinking ThinkingBudgetLookup, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{Provider: provider, Model: model, ThinkingBudgets: thinking, Logger: logger}
}

// summaryPromptPreamble mirrors compaction.rs::build_summary_messages' instruction text.
const summaryPromptPreamble = "summarize the key context, decisions, and outstanding work so the conversation can continue seamlessly."

// Compact summarizes the window's current log, replacing everything but the
// system prompt and preservedTail with a single summary message (spec
// section 4.2/4.6). budget recomputes whether the pre-summary cascade needs
// to keep reducing context.
func (c *Compactor) Compact(ctx context.Context, w *contextwindow.Window, preservedTail []contextwindow.Message, budget BudgetFunc) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	baseMaxTokens, events := ApplySummaryFallbackSequence(w, budget)
	for _, ev := range events {
		c.Logger.Debug("compaction fallback step", "step", ev.Step, "chars_saved", ev.CharsSaved)
	}

	summaryMaxTokens := CappedSummaryTokens(c.Provider.Name(), baseMaxTokens, c.ThinkingBudgets)
	disableThinking := ShouldDisableThinking(c.Provider.Name(), summaryMaxTokens, c.ThinkingBudgets)

	messages := w.Snapshot()
	summaryText, err := c.requestSummary(ctx, messages, summaryMaxTokens, disableThinking)
	if err != nil {
		summaryText = c.runPostFailureLadder(ctx, messages, summaryMaxTokens, disableThinking, err)
	}

	saved := w.ResetWithSummary(summaryText, preservedTail)
	return Result{Success: true, CharsSaved: saved}
}

func (c *Compactor) requestSummary(ctx context.Context, messages []contextwindow.Message, maxTokens int, disableThinking bool) (string, error) {
	req := c.buildSummaryRequest(messages, maxTokens, disableThinking)
	resp, err := c.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Compactor) buildSummaryRequest(messages []contextwindow.Message, maxTokens int, disableThinking bool) unifiedllm.Request {
	var conversation string
	for _, m := range messages {
		conversation += fmt.Sprintf("%s: %s\n\n", m.Role, m.Content)
	}

	req := unifiedllm.Request{
		Model: c.Model,
		Messages: []unifiedllm.Message{
			unifiedllm.SystemMessage("You are a helpful assistant that creates concise summaries."),
			unifiedllm.UserMessage(fmt.Sprintf("Based on this conversation history, %s\n\nConversation:\n%s", summaryPromptPreamble, conversation)),
		},
		MaxTokens: &maxTokens,
	}
	if disableThinking {
		req.ProviderOptions = map[string]interface{}{"disable_thinking": true}
	}
	return req
}

// runPostFailureLadder retries with decreasing ambition when the summary
// request itself errors, grounded in spec section 4.6 step 3 (a-d).
func (c *Compactor) runPostFailureLadder(ctx context.Context, messages []contextwindow.Message, maxTokens int, disableThinking bool, firstErr error) string {
	c.Logger.Warn("summary request failed, running post-failure ladder", "error", firstErr, "kind", retry.Classify(firstErr))

	for _, step := range PostFailureLadder {
		switch step {
		case RetryDisableThinking:
			if disableThinking {
				continue // already disabled, nothing new to try
			}
			disableThinking = true
		case RetryHalveBudget:
			maxTokens = max(maxTokens/2, SummaryMinTokens)
		case RetryDropOldestQuarter:
			messages = DropOldestQuarter(messages)
		case RetryProgrammaticSummary:
			return ProgrammaticSummary(messages)
		}

		req := c.buildSummaryRequest(messages, maxTokens, disableThinking)
		resp, err := c.Provider.Complete(ctx, req)
		if err == nil {
			return resp.Text()
		}
		c.Logger.Warn("post-failure ladder retry failed", "step", step, "error", err)
	}

	return ProgrammaticSummary(messages)
}
