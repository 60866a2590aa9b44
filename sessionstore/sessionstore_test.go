package sessionstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/turnengine/contextwindow"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	s := NewSession("sess-1", cwd, 100)
	w := contextwindow.NewWindow(contextwindow.Config{CapacityTokens: 200_000, SessionRoot: SessionDir(cwd, "sess-1")})
	w.Append(contextwindow.NewSystemMessage("system"))
	w.Append(contextwindow.NewUserMessage("hello"))
	w.Append(contextwindow.NewAssistantMessage("hi there", nil))
	s.SyncFromWindow(w, 200)
	s.AddUsage(10, 5)

	require.NoError(t, Save(s))

	loaded, err := Load(cwd, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, loaded.SessionID)
	assert.Equal(t, s.Cwd, loaded.Cwd)
	assert.Equal(t, StatusRunning, loaded.Status)
	require.Len(t, loaded.MessageLog, 3)
	assert.Equal(t, "hello", loaded.MessageLog[1].Content)
	assert.Equal(t, 10, loaded.UsageTotals.InputTokens)
	assert.Equal(t, 5, loaded.UsageTotals.OutputTokens)
	assert.Equal(t, w.UsedTokens(), loaded.ContextWindow.UsedTokens)
}

func TestUnknownFieldsPreservedOnRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	s := NewSession("sess-2", cwd, 1)
	require.NoError(t, Save(s))

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	m["future_field"] = json.RawMessage(`"some value from a newer version"`)
	withExtra, err := json.Marshal(m)
	require.NoError(t, err)

	var reloaded Session
	require.NoError(t, json.Unmarshal(withExtra, &reloaded))

	reencoded, err := json.Marshal(reloaded)
	require.NoError(t, err)
	var back map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(reencoded, &back))
	assert.Equal(t, `"some value from a newer version"`, string(back["future_field"]))
}

func TestListOrdersByRecency(t *testing.T) {
	cwd := t.TempDir()
	older := NewSession("old", cwd, 1)
	older.Timestamp = 100
	require.NoError(t, Save(older))

	newer := NewSession("new", cwd, 2)
	newer.Timestamp = 200
	require.NoError(t, Save(newer))

	infos, err := List(cwd)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new", infos[0].SessionID)
	assert.Equal(t, "old", infos[1].SessionID)
}

func TestLatestReturnsFalseWhenEmpty(t *testing.T) {
	cwd := t.TempDir()
	_, ok, err := Latest(cwd)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRehydrateWindowPreservesMessageLog(t *testing.T) {
	cwd := t.TempDir()
	s := NewSession("sess-3", cwd, 1)
	w := contextwindow.NewWindow(contextwindow.Config{CapacityTokens: 200_000, SessionRoot: SessionDir(cwd, "sess-3")})
	w.Append(contextwindow.NewSystemMessage("system"))
	w.Append(contextwindow.NewUserMessage("task"))
	s.SyncFromWindow(w, 2)

	rehydrated := RehydrateWindow(s, contextwindow.Config{CapacityTokens: 200_000})
	snapshot := rehydrated.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, s.MessageLog[0].Content, snapshot[0].Content)
	assert.Equal(t, s.MessageLog[1].Content, snapshot[1].Content)
	assert.Equal(t, s.MessageLog[1].Seq, snapshot[1].Seq)
}

func TestThinIndexSavedOnSaveAndUsedOnRehydrate(t *testing.T) {
	cwd := t.TempDir()
	sessionID := "sess-4"
	s := NewSession(sessionID, cwd, 1)
	w := contextwindow.NewWindow(contextwindow.Config{CapacityTokens: 200_000, SessionRoot: SessionDir(cwd, sessionID)})
	w.Append(contextwindow.NewSystemMessage("system"))
	toolMsg := contextwindow.NewToolMessage("call-1", "[externalised: 9000 characters saved]")
	toolMsg.ExternalisedPath = "thinned/2-abc123.txt"
	toolMsg = w.Append(toolMsg)
	s.SyncFromWindow(w, 2)

	require.NoError(t, Save(s))

	entries, ok, err := LoadThinIndex(cwd, sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, toolMsg.Seq, entries[0].Seq)
	assert.Equal(t, "thinned/2-abc123.txt", entries[0].Path)

	loaded, err := Load(cwd, sessionID)
	require.NoError(t, err)
	rehydrated := RehydrateWindow(loaded, contextwindow.Config{CapacityTokens: 200_000})
	assert.Equal(t, toolMsg.Seq, rehydrated.ThinIndex())
}

func TestLoadThinIndexMissingReturnsNotOK(t *testing.T) {
	cwd := t.TempDir()
	_, ok, err := LoadThinIndex(cwd, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}
