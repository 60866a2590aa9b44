package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/martinemde/turnengine/contextwindow"
)

// Status is one of the closed set of session lifecycle states, per spec
// section 3.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// UsageTotals accumulates token usage across every provider call in the
// session's lifetime.
type UsageTotals struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CacheStats accumulates prompt-cache creation/read token counts.
type CacheStats struct {
	CreationTokens int `json:"creation_tokens"`
	ReadTokens     int `json:"read_tokens"`
}

// contextWindowView is the externally-tailed projection of a Window's
// state, required by spec section 6 for tools that tail a running
// session's JSON without understanding the engine's internals.
type contextWindowView struct {
	UsedTokens         int                      `json:"used_tokens"`
	PercentageUsed      float64                  `json:"percentage_used"`
	ConversationHistory []contextwindow.Message `json:"conversation_history"`
}

// Session is the persisted record for one turn engine session, per spec
// section 3's Session data model.
type Session struct {
	SessionID   string                    `json:"session_id"`
	CreatedAt   int64                     `json:"created_at"`
	Cwd         string                    `json:"cwd"`
	Status      Status                    `json:"status"`
	MessageLog  []contextwindow.Message   `json:"message_log"`
	UsageTotals UsageTotals               `json:"usage_totals"`
	CacheStats  CacheStats                `json:"cache_stats"`
	Timestamp   int64                     `json:"timestamp"`

	ContextWindow contextWindowView `json:"context_window"`

	// extra preserves any fields this version of the store doesn't know
	// about, so round-tripping a session.json written by a newer/older
	// version never silently drops data (spec section 6's unknown-fields
	// preservation requirement; compaction.Fragment does not do this and
	// drops unknown fields).
	extra map[string]json.RawMessage
}

// NewSession initializes a fresh, running Session.
func NewSession(sessionID, cwd string, createdAt int64) *Session {
	return &Session{
		SessionID: sessionID,
		CreatedAt: createdAt,
		Cwd:       cwd,
		Status:    StatusRunning,
		Timestamp: createdAt,
	}
}

// SyncFromWindow refreshes the persisted snapshot fields from the live
// context window, ahead of a Save call at a turn boundary.
func (s *Session) SyncFromWindow(w *contextwindow.Window, now int64) {
	snapshot := w.Snapshot()
	s.MessageLog = snapshot
	s.Timestamp = now
	created, read := w.CacheStats()
	s.CacheStats = CacheStats{CreationTokens: created, ReadTokens: read}
	s.ContextWindow = contextWindowView{
		UsedTokens:          w.UsedTokens(),
		PercentageUsed:      w.PercentageUsed(),
		ConversationHistory: snapshot,
	}
}

// AddUsage accumulates token usage reported by one provider call.
func (s *Session) AddUsage(input, output int) {
	s.UsageTotals.InputTokens += input
	s.UsageTotals.OutputTokens += output
}

// MarshalJSON preserves unknown fields captured by UnmarshalJSON by merging
// the known and unknown field sets before encoding.
func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	known, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and retains unrecognised ones in extra.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Session(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := knownSessionFields()
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		s.extra = extra
	}
	return nil
}

func knownSessionFields() map[string]bool {
	return map[string]bool{
		"session_id": true, "created_at": true, "cwd": true, "status": true,
		"message_log": true, "usage_totals": true, "cache_stats": true,
		"timestamp": true, "context_window": true,
	}
}

// Save atomically persists the session: encode to a temp file in the
// session directory, then rename over session.json (atomic on the target
// filesystems per spec section 4.7/5), and refresh the latest.json
// convenience copy.
func Save(s *Session) error {
	dir := SessionDir(s.Cwd, s.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}

	target := SessionFile(s.Cwd, s.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write session temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("sessionstore: rename session file: %w", err)
	}

	latest := LatestLink(s.Cwd, s.SessionID)
	latestTmp := latest + ".tmp"
	if err := os.WriteFile(latestTmp, data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write latest temp file: %w", err)
	}
	if err := os.Rename(latestTmp, latest); err != nil {
		return fmt.Errorf("sessionstore: rename latest file: %w", err)
	}

	if entries := thinIndexFromMessages(s.MessageLog); len(entries) > 0 {
		if err := SaveThinIndex(s.Cwd, s.SessionID, entries); err != nil {
			return err
		}
	}

	return nil
}

// Load reads back a previously saved session.json.
func Load(cwd, sessionID string) (*Session, error) {
	data, err := os.ReadFile(SessionFile(cwd, sessionID))
	if err != nil {
		return nil, fmt.Errorf("sessionstore: read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}
	return &s, nil
}
