package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/martinemde/turnengine/contextwindow"
)

// thinIndexFileName is an internal cache, not part of the external session
// contract in spec section 6 (only session.json/fragment_*.json/thinned/*.txt
// are). It is safe to delete; RehydrateWindow rebuilds it from the message
// log when missing.
const thinIndexFileName = "thin_index.cbor"

// ThinIndexEntry maps one externalised message's sequence number to the
// thinned file that holds its full content.
type ThinIndexEntry struct {
	Seq  int    `cbor:"seq"`
	Path string `cbor:"path"`
}

func thinIndexPath(cwd, sessionID string) string {
	return filepath.Join(ThinnedDir(cwd, sessionID), thinIndexFileName)
}

// SaveThinIndex writes the seq-to-externalised-path index for a session as
// CBOR, replacing the previous file; Save rewrites it from the current
// message log whenever the log holds externalised messages. A compact binary encoding suits it better than
// JSON — unlike session.json/fragment_*.json, external tools never
// need to read this file, so nothing requires it stay human-readable.
func SaveThinIndex(cwd, sessionID string, entries []ThinIndexEntry) error {
	dir := ThinnedDir(cwd, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: create thinned dir: %w", err)
	}
	data, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal thin index: %w", err)
	}
	path := thinIndexPath(cwd, sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write thin index temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sessionstore: rename thin index into place: %w", err)
	}
	return nil
}

// LoadThinIndex reads the CBOR thin index, or returns (nil, false, nil) if
// it doesn't exist (e.g. the session predates this cache, or it was deleted).
func LoadThinIndex(cwd, sessionID string) ([]ThinIndexEntry, bool, error) {
	data, err := os.ReadFile(thinIndexPath(cwd, sessionID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: read thin index: %w", err)
	}
	var entries []ThinIndexEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("sessionstore: unmarshal thin index: %w", err)
	}
	return entries, true, nil
}

// thinIndexFromMessages derives the index from a message log, the rebuild
// path used both after a fresh Save and when RehydrateWindow finds no
// cached index on disk.
func thinIndexFromMessages(messages []contextwindow.Message) []ThinIndexEntry {
	var entries []ThinIndexEntry
	for _, m := range messages {
		if m.ExternalisedPath != "" {
			entries = append(entries, ThinIndexEntry{Seq: m.Seq, Path: m.ExternalisedPath})
		}
	}
	return entries
}
