package sessionstore

import (
	"fmt"
	"os"
	"sort"

	"github.com/martinemde/turnengine/contextwindow"
)

// Info is a lightweight summary of one on-disk session, for presenting a
// resume picker without loading every session's full message log.
type Info struct {
	SessionID string
	Status    Status
	CreatedAt int64
	Timestamp int64
	Cwd       string
}

// List enumerates every session recorded under <cwd>/.sessions, most
// recently touched first, for a resume picker UI.
func List(cwd string) ([]Info, error) {
	root := SessionsRoot(cwd)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list sessions dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		s, err := Load(cwd, sessionID)
		if err != nil {
			continue // skip unreadable/partially-written session directories
		}
		infos = append(infos, Info{
			SessionID: s.SessionID,
			Status:    s.Status,
			CreatedAt: s.CreatedAt,
			Timestamp: s.Timestamp,
			Cwd:       s.Cwd,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp > infos[j].Timestamp })
	return infos, nil
}

// Latest returns the most recently touched session for cwd, or ok=false if
// none exist.
func Latest(cwd string) (Info, bool, error) {
	infos, err := List(cwd)
	if err != nil {
		return Info{}, false, err
	}
	if len(infos) == 0 {
		return Info{}, false, nil
	}
	return infos[0], true, nil
}

// RehydrateWindow rebuilds a contextwindow.Window from a persisted Session's
// message log, for resuming a turn engine from disk (spec scenario S6: the
// loaded message log must be byte-identical to the persisted one, and
// subsequent turns must append seamlessly).
//
// Every message is replayed via Append in original order, then thin_index is
// advanced past every message that was already externalised at save time —
// an optimization, not a correctness requirement, since Thin independently
// skips messages that already carry an ExternalisedPath. The externalised-seq
// cutoff is read from the on-disk CBOR thin index when present (avoiding a
// scan over every message), and rebuilt from the message log otherwise.
func RehydrateWindow(s *Session, cfg contextwindow.Config) *contextwindow.Window {
	if cfg.SessionRoot == "" {
		cfg.SessionRoot = SessionDir(s.Cwd, s.SessionID)
	}
	w := contextwindow.NewWindow(cfg)

	for _, m := range s.MessageLog {
		w.Append(m)
	}

	entries, ok, err := LoadThinIndex(s.Cwd, s.SessionID)
	if err != nil || !ok {
		entries = thinIndexFromMessages(s.MessageLog)
		if len(entries) > 0 {
			_ = SaveThinIndex(s.Cwd, s.SessionID, entries)
		}
	}
	maxExternalisedSeq := -1
	for _, e := range entries {
		if e.Seq > maxExternalisedSeq {
			maxExternalisedSeq = e.Seq
		}
	}
	if maxExternalisedSeq >= 0 {
		w.AdvanceThinIndex(maxExternalisedSeq)
	}
	w.AddCacheUsage(s.CacheStats.CreationTokens, s.CacheStats.ReadTokens)

	return w
}
