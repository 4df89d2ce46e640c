// Package runtime defines the abstraction over the ephemeral sandbox
// provider the app shells into.
//
// The app only ever needs four capabilities from a provider: create a
// sandbox, re-attach to one by id, run a single command in it, and stop it.
// Implementations register themselves by name so the backend can be selected
// at startup (docker for self-hosted, fake for tests and dry runs).
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by Runtime implementations.
var (
	// ErrSandboxNotFound indicates the requested sandbox does not exist.
	ErrSandboxNotFound = errors.New("sandbox not found")

	// ErrSandboxUnavailable indicates the sandbox exists but cannot accept
	// commands (stopped, expired, or the backend is unreachable).
	ErrSandboxUnavailable = errors.New("sandbox unavailable")

	// ErrInvalidSpec indicates the provided sandbox spec is invalid.
	ErrInvalidSpec = errors.New("invalid sandbox spec")
)

// Spec describes the requested sandbox environment.
type Spec struct {
	// VCPUs is the CPU allocation. The setup flow always passes a fixed
	// value; it is a spec field so providers can validate it.
	VCPUs int `json:"vcpus"`

	// Runtime is the provider-level runtime tag (e.g. "node22"). Providers
	// map it to whatever image or machine type they use.
	Runtime string `json:"runtime"`

	// Timeout is the maximum sandbox lifetime. The provider enforces it;
	// clients additionally track it for lazy descriptor eviction.
	Timeout time.Duration `json:"timeout"`

	// Labels are arbitrary metadata attached to the sandbox.
	Labels map[string]string `json:"labels,omitempty"`
}

// Validate applies defaults and checks constraints.
func (s *Spec) Validate() error {
	if s.VCPUs <= 0 {
		s.VCPUs = 2
	}
	if s.VCPUs > 8 {
		return fmt.Errorf("%w: vcpus cannot exceed 8", ErrInvalidSpec)
	}
	if s.Runtime == "" {
		s.Runtime = "node22"
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Minute
	}
	return nil
}

// Cmd is a single command to run inside a sandbox. There is no shell layer:
// Bin and Args are passed through verbatim.
type Cmd struct {
	Bin  string
	Args []string
	// Env is injected for this command only. Secret-bearing values must not
	// be logged by callers.
	Env map[string]string
	// Sudo runs the command with elevated privilege.
	Sudo bool
}

// ExecResult is the outcome of one command. ExitCode is always the real
// process exit code; the client-side sentinel -1 ("still running") is never
// produced here.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Handle is an attached sandbox. Safe for concurrent use, but the provider's
// own command ordering (serial per sandbox) is the only ordering guarantee.
type Handle interface {
	// ID is the provider-assigned sandbox identifier.
	ID() string

	// RunCommand executes one command to completion and returns its output.
	RunCommand(ctx context.Context, cmd Cmd) (*ExecResult, error)

	// Stop terminates the sandbox and releases its resources. Idempotent.
	Stop(ctx context.Context) error
}

// Runtime is the provider interface.
type Runtime interface {
	// Name identifies the provider (e.g. "docker", "fake").
	Name() string

	// Create provisions and starts a sandbox.
	Create(ctx context.Context, spec Spec) (Handle, error)

	// Get re-attaches to an existing sandbox by id.
	// Returns ErrSandboxNotFound if it does not exist.
	Get(ctx context.Context, id string) (Handle, error)

	// Healthy checks the provider backend is operational.
	Healthy(ctx context.Context) error

	// Close releases resources held by the runtime itself.
	Close() error
}

// Factory creates Runtime instances from provider-specific configuration.
type Factory func(cfg map[string]any) (Runtime, error)

var runtimeRegistry = make(map[string]Factory)

// Register registers a provider factory, typically from an init function.
func Register(name string, factory Factory) {
	runtimeRegistry[name] = factory
}

// New creates a Runtime by registered name.
func New(name string, cfg map[string]any) (Runtime, error) {
	factory, ok := runtimeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown runtime: %s", name)
	}
	return factory(cfg)
}

// Available returns the registered provider names.
func Available() []string {
	names := make([]string, 0, len(runtimeRegistry))
	for name := range runtimeRegistry {
		names = append(names, name)
	}
	return names
}
