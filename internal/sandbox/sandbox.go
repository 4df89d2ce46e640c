// Package sandbox defines the sandbox descriptor shared between server and
// client, plus the client-side registry that persists descriptors and the
// single-slot creation state across CLI invocations.
package sandbox

import (
	"encoding/json"
	"time"
)

// SessionInfo records how the tool session inside a sandbox came to be.
type SessionInfo struct {
	// ID is the session identifier extracted from the tool's output, if any.
	ID string `json:"id"`
	// Resumed reports whether the setup asked to resume an earlier session.
	Resumed bool `json:"resumed"`
	// RequestedSessionID echoes the specific session the caller asked for.
	RequestedSessionID string `json:"requestedSessionId,omitempty"`
}

// InstallResult captures the outcome of the tool install step. A non-zero
// exit is a warning, not a failure: the binary may already be present.
type InstallResult struct {
	Installed bool   `json:"installed"`
	ExitCode  int    `json:"exitCode"`
	Warning   string `json:"warning,omitempty"`
}

// EnvironmentResult captures the outcome of the verification invocation.
type EnvironmentResult struct {
	Configured bool            `json:"configured"`
	ExitCode   int             `json:"exitCode"`
	Prompt     string          `json:"prompt"`
	Output     string          `json:"output,omitempty"`
	Parsed     json.RawMessage `json:"parsed,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Descriptor is the last-known state of a sandbox. ID is empty while
// provisioning is still in flight.
type Descriptor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	TimeoutMs int64     `json:"timeoutMs"`
	Provider  string    `json:"provider"`
	ToolID    string    `json:"toolId"`
	ToolName  string    `json:"toolName"`

	Session           SessionInfo        `json:"session"`
	InstallResult     *InstallResult     `json:"installResult,omitempty"`
	EnvironmentResult *EnvironmentResult `json:"environmentResult,omitempty"`
}

// Expired reports whether the sandbox has outlived its requested lifetime.
// Expiry is computed, never stored; callers detecting it should evict the
// descriptor from the registry.
func (d *Descriptor) Expired(now time.Time) bool {
	if d.CreatedAt.IsZero() || d.TimeoutMs <= 0 {
		return false
	}
	return now.After(d.CreatedAt.Add(time.Duration(d.TimeoutMs) * time.Millisecond))
}

// CreationState is the single pending creation attempt. Exactly zero or one
// instance exists per client; it survives across CLI invocations so an
// interrupted `create` can be retried or cleaned up.
type CreationState struct {
	APIKey           string    `json:"apiKey"`
	ToolID           string    `json:"toolId"`
	ToolName         string    `json:"toolName"`
	Prompt           string    `json:"prompt"`
	ResumeSession    bool      `json:"resumeSession"`
	SessionID        string    `json:"sessionId,omitempty"`
	AliveTimeMinutes int       `json:"aliveTimeMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
}
