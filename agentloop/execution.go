package agentloop

import (
	"os"
	"runtime"
)

// ExecutionEnvironment is the opaque handle a dispatched tool executor
// receives alongside its arguments (spec section 1: "Individual tool
// implementations (shell, filesystem, browser automation, OCR). Only the
// dispatch contract matters"). This package never calls any of these
// methods itself — dispatch.Dispatcher hands the value straight to
// ToolExecutor — so the interface only carries the identity information a
// host's own tool bodies and system-prompt builder need, not a built-in
// filesystem/shell capability surface.
type ExecutionEnvironment interface {
	// Lifecycle, called once around a session by the host, not by this
	// package.
	Initialize() error
	Cleanup() error

	// Metadata, useful for system-prompt construction and tool executors
	// that need to resolve a relative path or pick platform-specific
	// behavior themselves.
	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// LocalExecutionEnvironment is a minimal identity-only ExecutionEnvironment
// rooted at a local directory, for wiring tests and simple single-process
// hosts that don't need a sandboxed or remote execution backend.
type LocalExecutionEnvironment struct {
	workingDir string
	platform   string
	osVersion  string
}

// NewLocalExecutionEnvironment creates a local execution environment
// rooted at workingDir, defaulting to the process's current directory.
func NewLocalExecutionEnvironment(workingDir string) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalExecutionEnvironment{
		workingDir: workingDir,
		platform:   runtime.GOOS,
		osVersion:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (e *LocalExecutionEnvironment) Initialize() error {
	return os.MkdirAll(e.workingDir, 0o755)
}

func (e *LocalExecutionEnvironment) Cleanup() error { return nil }

func (e *LocalExecutionEnvironment) WorkingDirectory() string { return e.workingDir }
func (e *LocalExecutionEnvironment) Platform() string          { return e.platform }
func (e *LocalExecutionEnvironment) OSVersion() string         { return e.osVersion }
