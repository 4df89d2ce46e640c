// Package tools is the static registry of supported headless AI coding CLIs.
//
// Each tool differs in three ways that matter to the rest of the system: how
// it is installed inside a sandbox, how its API key is passed (environment
// variable vs. command-line flag), and which field of its JSON output carries
// the session identifier. All three are declared here so callers never branch
// on tool ids.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool indicates a tool id outside the supported set.
var ErrUnknownTool = errors.New("unknown tool")

// APIKeyPlaceholder is the token substituted with the real API key for tools
// that take the key as a command-line flag. It never appears in executed
// commands.
const APIKeyPlaceholder = "{{API_KEY}}"

// KeyInjection selects how a tool receives its API key.
type KeyInjection string

const (
	// InjectEnv sets the key as an environment variable (Claude-style).
	InjectEnv KeyInjection = "env"

	// InjectFlag substitutes APIKeyPlaceholder in the argument list
	// (Cursor-style).
	InjectFlag KeyInjection = "flag"
)

// Invocation is a fully-shaped command, still carrying the key placeholder
// for InjectFlag tools until ApplyAPIKey runs.
type Invocation struct {
	Bin  string
	Args []string
}

// Descriptor describes one supported CLI tool.
type Descriptor struct {
	ID           string
	DisplayName  string
	APIKeyEnvVar string
	KeyInjection KeyInjection

	// Install is the command that installs the tool inside a fresh sandbox.
	Install Invocation
	// InstallSudo runs the install with elevated privilege.
	InstallSudo bool

	// sessionFields are scanned in order against the tool's JSON output to
	// find the session identifier.
	sessionFields []string

	newArgs      func(prompt string) []string
	resumeArgs   func(sessionID, prompt string) []string
	continueArgs func(prompt string) []string
}

// NewPromptArgs shapes a fresh-session invocation.
func (d *Descriptor) NewPromptArgs(prompt string) Invocation {
	return Invocation{Bin: d.bin(), Args: d.newArgs(prompt)}
}

// ResumeArgs shapes an invocation resuming a specific session.
func (d *Descriptor) ResumeArgs(sessionID, prompt string) Invocation {
	return Invocation{Bin: d.bin(), Args: d.resumeArgs(sessionID, prompt)}
}

// ContinueArgs shapes an invocation continuing the latest session.
func (d *Descriptor) ContinueArgs(prompt string) Invocation {
	return Invocation{Bin: d.bin(), Args: d.continueArgs(prompt)}
}

func (d *Descriptor) bin() string {
	switch d.ID {
	case ClaudeCode:
		return "claude"
	case CursorCLI:
		return "cursor-agent"
	}
	return d.ID
}

// ApplyAPIKey resolves the key-injection strategy: it returns the environment
// to set inside the sandbox and the argument list with any placeholder
// replaced. The key itself is never logged by callers.
func (d *Descriptor) ApplyAPIKey(inv Invocation, apiKey string) (env map[string]string, args []string) {
	args = make([]string, len(inv.Args))
	copy(args, inv.Args)

	switch d.KeyInjection {
	case InjectFlag:
		for i, a := range args {
			if a == APIKeyPlaceholder {
				args[i] = apiKey
			}
		}
		return nil, args
	default:
		return map[string]string{d.APIKeyEnvVar: apiKey}, args
	}
}

// ExtractSessionID scans raw tool output for a session identifier. It is
// total: any input (valid JSON or not) yields an id or "", never an error.
//
// The output may be a single JSON object, an array of message objects, or
// plain text. For arrays, the first object carrying a session field wins.
func (d *Descriptor) ExtractSessionID(raw string) string {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ""
	}
	return d.extractFrom(parsed)
}

func (d *Descriptor) extractFrom(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for _, field := range d.sessionFields {
			if s, ok := t[field].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		for _, item := range t {
			if id := d.extractFrom(item); id != "" {
				return id
			}
		}
	}
	return ""
}

// Supported tool ids. This is the complete set; anything else is rejected
// before sandbox work begins.
const (
	ClaudeCode = "claude-code"
	CursorCLI  = "cursor-cli"
)

var registry = map[string]*Descriptor{
	ClaudeCode: {
		ID:           ClaudeCode,
		DisplayName:  "Claude Code",
		APIKeyEnvVar: "ANTHROPIC_API_KEY",
		KeyInjection: InjectEnv,
		Install: Invocation{
			Bin:  "npm",
			Args: []string{"install", "-g", "@anthropic-ai/claude-code"},
		},
		InstallSudo: true,
		// Claude Code emits {"type":"result","session_id":...} or, in
		// stream-json mode, an array of messages each carrying session_id.
		sessionFields: []string{"session_id"},
		newArgs: func(prompt string) []string {
			return []string{"-p", prompt, "--output-format", "json", "--dangerously-skip-permissions"}
		},
		resumeArgs: func(sessionID, prompt string) []string {
			return []string{"-p", "--resume", sessionID, prompt, "--output-format", "json", "--dangerously-skip-permissions"}
		},
		continueArgs: func(prompt string) []string {
			return []string{"-p", "--continue", prompt, "--output-format", "json", "--dangerously-skip-permissions"}
		},
	},
	CursorCLI: {
		ID:           CursorCLI,
		DisplayName:  "Cursor CLI",
		APIKeyEnvVar: "CURSOR_API_KEY",
		KeyInjection: InjectFlag,
		Install: Invocation{
			Bin:  "bash",
			Args: []string{"-lc", "curl https://cursor.com/install -fsS | bash"},
		},
		InstallSudo: true,
		// Cursor's agent reports the session as "chatId" in newer builds and
		// "session_id" in older ones; scanned in that order.
		sessionFields: []string{"chatId", "session_id"},
		newArgs: func(prompt string) []string {
			return []string{"-p", prompt, "--api-key", APIKeyPlaceholder, "--output-format", "json"}
		},
		resumeArgs: func(sessionID, prompt string) []string {
			return []string{"-p", prompt, "--api-key", APIKeyPlaceholder, "--output-format", "json", "--resume", sessionID}
		},
		continueArgs: func(prompt string) []string {
			return []string{"-p", prompt, "--api-key", APIKeyPlaceholder, "--output-format", "json", "--continue"}
		},
	},
}

// Resolve returns the descriptor for id, or ErrUnknownTool.
func Resolve(id string) (*Descriptor, error) {
	d, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	return d, nil
}

// IDs returns the supported tool ids.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
