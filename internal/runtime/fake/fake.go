// Package fake implements an in-memory sandbox runtime for tests and dry
// runs. Commands are answered by a pluggable script; the default script
// pretends installs succeed and tool invocations return a JSON result with a
// fresh session id, which is enough to exercise the whole setup flow without
// a container backend.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
)

const RuntimeName = "fake"

// Script answers one command. Returning a nil result falls through to the
// default behavior.
type Script func(sandboxID string, cmd runtime.Cmd) *runtime.ExecResult

// Runtime is an in-memory runtime.Runtime.
type Runtime struct {
	mu        sync.Mutex
	sandboxes map[string]*state
	script    Script

	// CreateErr, when set, makes Create fail. Used to exercise the
	// SandboxUnavailable path.
	CreateErr error
}

type state struct {
	spec     runtime.Spec
	stopped  bool
	commands []runtime.Cmd
}

// New builds a fake runtime with the default script.
func New(cfg map[string]any) (runtime.Runtime, error) {
	return NewRuntime(nil), nil
}

// NewRuntime builds a fake runtime with a custom script (nil for default).
func NewRuntime(script Script) *Runtime {
	return &Runtime{
		sandboxes: make(map[string]*state),
		script:    script,
	}
}

func init() {
	runtime.Register(RuntimeName, New)
}

func (r *Runtime) Name() string                      { return RuntimeName }
func (r *Runtime) Healthy(ctx context.Context) error { return nil }
func (r *Runtime) Close() error                      { return nil }

func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := "sbx_" + uuid.NewString()
	r.sandboxes[id] = &state{spec: spec}
	return &handle{rt: r, id: id}, nil
}

func (r *Runtime) Get(ctx context.Context, id string) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sandboxes[id]
	if !ok {
		return nil, runtime.ErrSandboxNotFound
	}
	if s.stopped {
		return nil, runtime.ErrSandboxUnavailable
	}
	return &handle{rt: r, id: id}, nil
}

// Commands returns the commands run against a sandbox, in order.
func (r *Runtime) Commands(id string) []runtime.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sandboxes[id]
	if !ok {
		return nil
	}
	out := make([]runtime.Cmd, len(s.commands))
	copy(out, s.commands)
	return out
}

// Stopped reports whether Stop was called on the sandbox.
func (r *Runtime) Stopped(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sandboxes[id]
	return ok && s.stopped
}

type handle struct {
	rt *Runtime
	id string
}

func (h *handle) ID() string { return h.id }

func (h *handle) Stop(ctx context.Context) error {
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	if s, ok := h.rt.sandboxes[h.id]; ok {
		s.stopped = true
	}
	return nil
}

func (h *handle) RunCommand(ctx context.Context, cmd runtime.Cmd) (*runtime.ExecResult, error) {
	h.rt.mu.Lock()
	s, ok := h.rt.sandboxes[h.id]
	if !ok {
		h.rt.mu.Unlock()
		return nil, runtime.ErrSandboxNotFound
	}
	if s.stopped {
		h.rt.mu.Unlock()
		return nil, runtime.ErrSandboxUnavailable
	}
	s.commands = append(s.commands, cmd)
	script := h.rt.script
	h.rt.mu.Unlock()

	if script != nil {
		if res := script(h.id, cmd); res != nil {
			return res, nil
		}
	}

	// Default: installs succeed silently, anything else looks like a tool
	// emitting a JSON result with a fresh session.
	switch cmd.Bin {
	case "npm", "bash", "sh":
		return &runtime.ExecResult{ExitCode: 0, Stdout: "installed\n"}, nil
	default:
		out := fmt.Sprintf(`{"type":"result","result":"ok","session_id":%q,"chatId":%q}`,
			uuid.NewString(), uuid.NewString())
		return &runtime.ExecResult{ExitCode: 0, Stdout: out}, nil
	}
}
