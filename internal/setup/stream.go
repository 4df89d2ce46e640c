package setup

import "github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"

// Frame type discriminators for the setup stream.
const (
	FrameTextDelta = "text-delta"
	FrameData      = "data"
)

// Terminal frame ids.
const (
	DataSandboxInfo = "sandbox-info"
	DataErrorInfo   = "error-info"
)

// TextDelta is a free-text progress line. The receiver must treat the
// concatenation of deltas, in emission order, as the progress log.
type TextDelta struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// DataFrame is the terminal payload. Exactly one is emitted per setup
// request, always last; completion is then signaled by stream closure.
type DataFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data Result `json:"data"`
}

// Result is the terminal outcome.
type Result struct {
	Success bool                `json:"success"`
	Sandbox *sandbox.Descriptor `json:"sandbox,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Progress line templates. These are part of the stream's wire contract, not
// incidental logging: the client-side progress reducer matches substrings of
// these lines to drive the live task list, so the two must change together.
const (
	MsgCreating    = "Creating sandbox (timeout: %dm)...\n"
	MsgCreated     = "Sandbox created: %s\n"
	MsgInstalling  = "Installing %s...\n"
	MsgInstallDone = "Install completed\n"
	MsgInstallWarn = "Install exited with code %d, continuing\n"
	MsgTesting     = "Testing %s connection...\n"
	MsgVerified    = "Connection verified\n"
	MsgFailed      = "Setup failed: %s\n"
)

// Substrings the progress reducer matches against the accumulated log.
// Each must appear in exactly one template above.
const (
	MatchCreating    = "Creating sandbox"
	MatchCreated     = "Sandbox created"
	MatchInstalling  = "Installing"
	MatchInstallDone = "Install completed"
	MatchInstallWarn = "continuing"
	MatchTesting     = "connection..."
	MatchVerified    = "Connection verified"
	MatchFailed      = "Setup failed"
)
