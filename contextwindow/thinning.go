package contextwindow

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// DefaultThinThresholdChars is the content size above which a message is
// externalised during a thinning pass.
const DefaultThinThresholdChars = 4000

// ThinnedDirName is the subdirectory of a session root that holds
// externalised content, per the session directory layout (spec section 6).
const ThinnedDirName = "thinned"

// Thin scans the designated scope and externalises any message whose
// content exceeds thresholdChars, replacing its content with a short
// on-disk reference. It is idempotent: a message already bearing an
// ExternalisedPath is skipped, so a second call with the same scope over
// unchanged messages changes nothing (testable property 4).
func (w *Window) Thin(scope ThinScope, thresholdChars int) (ThinResult, error) {
	if thresholdChars <= 0 {
		thresholdChars = DefaultThinThresholdChars
	}

	w.mu.Lock()
	before := w.percentageUsedLocked()
	snapshot := make([]Message, len(w.messages))
	copy(snapshot, w.messages)
	thinIndex := w.thinIndex
	w.mu.Unlock()

	lo, hi := thinningRange(snapshot, scope, thinIndex)

	result := ThinResult{Scope: scope, BeforePct: before}
	if lo >= hi {
		result.AfterPct = before
		return result, nil
	}

	maxSeqScanned := thinIndex
	for i := lo; i < hi; i++ {
		m := snapshot[i]
		if m.ExternalisedPath != "" {
			if m.Seq > maxSeqScanned {
				maxSeqScanned = m.Seq
			}
			continue
		}
		if m.Role != RoleTool {
			// Only tool-result payloads are externalised; user/assistant
			// prose stays inline regardless of length.
			if m.Seq > maxSeqScanned {
				maxSeqScanned = m.Seq
			}
			continue
		}
		if len(m.Content) <= thresholdChars {
			if m.Seq > maxSeqScanned {
				maxSeqScanned = m.Seq
			}
			continue
		}
		if isTodoToolResult(snapshot, i) {
			if m.Seq > maxSeqScanned {
				maxSeqScanned = m.Seq
			}
			continue
		}

		relPath, err := w.externalise(m.Content, m.Seq)
		if err != nil {
			return result, err
		}
		ref := fmt.Sprintf("[externalised: %d characters saved to %s; read_file to retrieve]", len(m.Content), relPath)

		if err := w.ReplaceContent(m.Seq, ref, relPath); err != nil {
			return result, err
		}

		result.ItemsThinned++
		result.CharsSaved += len(m.Content) - len(ref)
		result.HadChanges = true
		if m.Seq > maxSeqScanned {
			maxSeqScanned = m.Seq
		}
	}

	if scope == ScopeOldestThird {
		w.AdvanceThinIndex(maxSeqScanned)
	}

	result.AfterPct = w.PercentageUsed()
	return result, nil
}

// thinningRange returns the half-open [lo, hi) index range of snapshot that
// a pass over scope should scan, honoring thinIndex so oldest_third passes
// only revisit messages newer than what was already scanned.
func thinningRange(snapshot []Message, scope ThinScope, thinIndex int) (int, int) {
	n := len(snapshot)
	if n == 0 {
		return 0, 0
	}

	start := 0
	for start < n && snapshot[start].Seq <= thinIndex {
		start++
	}

	switch scope {
	case ScopeOldestThird:
		third := n / 3
		if third < start {
			return start, start
		}
		return start, third
	case ScopeFull:
		// A full pass ignores thinIndex; already-externalised messages are
		// skipped by Thin itself.
		start = 0
		end := n
		// Exclude the last user/assistant exchange (and any tool results
		// following it): walk back to the last user message.
		lastUser := -1
		for i := n - 1; i >= 0; i-- {
			if snapshot[i].Role == RoleUser {
				lastUser = i
				break
			}
		}
		if lastUser >= 0 {
			end = lastUser
		}
		if end < start {
			return start, start
		}
		return start, end
	default:
		return start, start
	}
}

// isTodoToolResult reports whether the tool message at snapshot[idx] is
// answering a todo_read/todo_write call, by inspecting the nearest
// preceding assistant message's tool calls for a matching name+call_id.
// Grounded in context_window.rs::is_todo_tool_result, adapted to use our
// structured ToolCallRef rather than string-matching serialized JSON.
func isTodoToolResult(snapshot []Message, idx int) bool {
	m := snapshot[idx]
	if m.Role != RoleTool || m.ToolCallID == "" {
		return false
	}
	for i := idx - 1; i >= 0; i-- {
		if snapshot[i].Role != RoleAssistant {
			continue
		}
		for _, tc := range snapshot[i].ToolCalls {
			if tc.CallID == m.ToolCallID {
				return tc.Name == "todo_read" || tc.Name == "todo_write"
			}
		}
		break
	}
	return false
}

// externalise writes content to <session_root>/thinned/<seq>-<hash>.txt and
// returns the path relative to the session root, per spec section 4.2/6.
// The hash is a BLAKE3 digest of the content so the filename is
// content-addressed and stable under re-thinning of identical payloads.
func (w *Window) externalise(content string, seq int) (string, error) {
	sum := blake3.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])[:16]
	fileName := fmt.Sprintf("%d-%s.txt", seq, hash)

	dir := filepath.Join(w.sessionRoot, ThinnedDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("contextwindow: create thinned dir: %w", err)
	}
	fullPath := filepath.Join(dir, fileName)
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("contextwindow: write thinned file: %w", err)
	}
	return filepath.Join(ThinnedDirName, fileName), nil
}

// Rehydrate reads back content previously externalised under the session
// root, used both by the read_file tool path and by property-test
// verification that thinning preserves semantics (testable property 3).
func (w *Window) Rehydrate(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.sessionRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("contextwindow: rehydrate %s: %w", relPath, err)
	}
	return string(data), nil
}
