package sessionstore

import "path/filepath"

// SessionsDirName is the per-cwd root all sessions are stored under,
// grounded in paths.rs::get_session_logs_dir but rooted at the spec's
// <cwd>/.sessions rather than the original's <workspace>/.g3/sessions.
const SessionsDirName = ".sessions"

const (
	sessionFileName = "session.json"
	latestLinkName  = "latest.json"
	todoFileName    = "todo.md"
	thinnedDirName  = "thinned"
	fragmentsDirName = "fragments"
	toolsOutputDirName = "tools"
)

// SessionsRoot returns <cwd>/.sessions.
func SessionsRoot(cwd string) string {
	return filepath.Join(cwd, SessionsDirName)
}

// SessionDir returns <cwd>/.sessions/<session_id>.
func SessionDir(cwd, sessionID string) string {
	return filepath.Join(SessionsRoot(cwd), sessionID)
}

// SessionFile returns <cwd>/.sessions/<session_id>/session.json.
func SessionFile(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), sessionFileName)
}

// LatestLink returns <cwd>/.sessions/<session_id>/latest.json, the
// convenience self-pointer named by spec section 6 (kept as a plain copy
// rather than a symlink for portability to filesystems without symlink
// support; see DESIGN.md).
func LatestLink(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), latestLinkName)
}

// TodoFile returns <cwd>/.sessions/<session_id>/todo.md.
func TodoFile(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), todoFileName)
}

// ThinnedDir returns <cwd>/.sessions/<session_id>/thinned.
func ThinnedDir(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), thinnedDirName)
}

// FragmentsDir returns <cwd>/.sessions/<session_id>/fragments.
func FragmentsDir(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), fragmentsDirName)
}

// ToolsOutputDir returns <cwd>/.sessions/<session_id>/tools, a supplemental
// directory (not in spec.md's external interface list, but present in the
// original and harmless to keep per SPEC_FULL.md supplement 10) for tools
// that want to stash large artifacts outside the thinned-reference scheme.
func ToolsOutputDir(cwd, sessionID string) string {
	return filepath.Join(SessionDir(cwd, sessionID), toolsOutputDirName)
}
