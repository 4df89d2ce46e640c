// Package setup implements the streaming sandbox setup flow: create a
// sandbox, install the chosen CLI tool in it, run a verification prompt, and
// emit the progression as server-sent events ending in exactly one terminal
// success/failure payload.
package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/runtime"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/tools"
)

// ErrInvalidRequest indicates malformed setup input, rejected before any
// cloud resource is created.
var ErrInvalidRequest = errors.New("invalid request")

// Request is the setup input contract.
type Request struct {
	APIKey           string `json:"apiKey"`
	Tool             string `json:"tool"`
	Prompt           string `json:"prompt"`
	ResumeSession    bool   `json:"resumeSession"`
	SessionID        string `json:"sessionId,omitempty"`
	AliveTimeMinutes int    `json:"aliveTimeMinutes"`
}

// Validate checks the request and resolves the tool descriptor. It must be
// called (and must pass) before any sandbox work begins.
func (r *Request) Validate() (*tools.Descriptor, error) {
	if strings.TrimSpace(r.APIKey) == "" {
		return nil, fmt.Errorf("%w: apiKey is required", ErrInvalidRequest)
	}
	tool, err := tools.Resolve(r.Tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Prompt == "" {
		r.Prompt = "hello"
	}
	return tool, nil
}

// Options configures the orchestrator from server config.
type Options struct {
	// VCPUs is the fixed CPU allocation for every sandbox.
	VCPUs int
	// RuntimeTag selects the provider runtime (e.g. "node22").
	RuntimeTag string
	// Alive-time clamp, in minutes.
	MinAliveMinutes     int
	MaxAliveMinutes     int
	DefaultAliveMinutes int
}

func (o *Options) defaults() {
	if o.VCPUs <= 0 {
		o.VCPUs = 2
	}
	if o.RuntimeTag == "" {
		o.RuntimeTag = "node22"
	}
	if o.MinAliveMinutes <= 0 {
		o.MinAliveMinutes = 1
	}
	if o.MaxAliveMinutes <= 0 {
		o.MaxAliveMinutes = 45
	}
	if o.DefaultAliveMinutes <= 0 {
		o.DefaultAliveMinutes = 10
	}
}

// Orchestrator runs the linear setup algorithm against a sandbox runtime.
type Orchestrator struct {
	rt   runtime.Runtime
	opts Options
}

func New(rt runtime.Runtime, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{rt: rt, opts: opts}
}

// Emit delivers one stream frame to the client.
type Emit func(frame any) error

// Run executes the setup flow, emitting each step's outcome as soon as it
// completes. Any failure after sandbox creation becomes the terminal failure
// frame; the sandbox is deliberately not stopped on failure — cleanup stays a
// user action via the stop endpoint.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emit) error {
	tool, err := req.Validate()
	if err != nil {
		return err
	}

	partID := uuid.NewString()
	progress := func(format string, args ...any) error {
		return emit(TextDelta{Type: FrameTextDelta, ID: partID, Delta: fmt.Sprintf(format, args...)})
	}
	fail := func(msg string) error {
		_ = progress(MsgFailed, msg)
		return emit(DataFrame{Type: FrameData, ID: DataErrorInfo, Data: Result{Success: false, Error: msg}})
	}

	aliveMinutes := o.clampAlive(req.AliveTimeMinutes)
	timeout := time.Duration(aliveMinutes) * time.Minute

	// Step 1: create the sandbox.
	if err := progress(MsgCreating, aliveMinutes); err != nil {
		return err
	}
	handle, err := o.rt.Create(ctx, runtime.Spec{
		VCPUs:   o.opts.VCPUs,
		Runtime: o.opts.RuntimeTag,
		Timeout: timeout,
		Labels:  map[string]string{"tool": tool.ID},
	})
	if err != nil {
		log.Error().Err(err).Str("tool", tool.ID).Msg("sandbox creation failed")
		return fail(fmt.Sprintf("failed to create sandbox: %v", err))
	}
	if err := progress(MsgCreated, handle.ID()); err != nil {
		return err
	}

	desc := &sandbox.Descriptor{
		ID:        handle.ID(),
		CreatedAt: time.Now().UTC(),
		TimeoutMs: timeout.Milliseconds(),
		Provider:  o.rt.Name(),
		ToolID:    tool.ID,
		ToolName:  tool.DisplayName,
		Session: sandbox.SessionInfo{
			Resumed:            req.ResumeSession,
			RequestedSessionID: req.SessionID,
		},
	}

	// Step 2: install the tool. A non-zero exit is a warning, not fatal: the
	// binary may already be present or installable as a fallback, and the
	// verification step will catch a genuinely broken install.
	if err := progress(MsgInstalling, tool.DisplayName); err != nil {
		return err
	}
	install, err := handle.RunCommand(ctx, runtime.Cmd{
		Bin:  tool.Install.Bin,
		Args: tool.Install.Args,
		Sudo: tool.InstallSudo,
	})
	switch {
	case err != nil:
		// The install never ran, so there is no real exit code to record.
		desc.InstallResult = &sandbox.InstallResult{Installed: false, ExitCode: 1, Warning: err.Error()}
		if err := progress(MsgInstallWarn, 1); err != nil {
			return err
		}
	case install.ExitCode != 0:
		desc.InstallResult = &sandbox.InstallResult{
			Installed: false,
			ExitCode:  install.ExitCode,
			Warning:   firstLine(install.Stderr),
		}
		if err := progress(MsgInstallWarn, install.ExitCode); err != nil {
			return err
		}
	default:
		desc.InstallResult = &sandbox.InstallResult{Installed: true, ExitCode: 0}
		if err := progress(MsgInstallDone); err != nil {
			return err
		}
	}

	// Step 3: verification invocation (new, resume, or continue).
	if err := progress(MsgTesting, tool.DisplayName); err != nil {
		return err
	}
	var inv tools.Invocation
	switch {
	case req.ResumeSession && req.SessionID != "":
		inv = tool.ResumeArgs(req.SessionID, req.Prompt)
	case req.ResumeSession:
		inv = tool.ContinueArgs(req.Prompt)
	default:
		inv = tool.NewPromptArgs(req.Prompt)
	}
	env, args := tool.ApplyAPIKey(inv, req.APIKey)

	run, err := handle.RunCommand(ctx, runtime.Cmd{Bin: inv.Bin, Args: args, Env: env})
	if err != nil {
		log.Error().Err(err).Str("sandbox", handle.ID()).Msg("tool invocation failed")
		return fail(fmt.Sprintf("failed to run %s: %v", tool.DisplayName, err))
	}

	// Step 4: parse the output. Tools may legitimately emit plain text, so a
	// JSON parse failure is recovered by treating stdout as opaque.
	envResult := &sandbox.EnvironmentResult{
		ExitCode: run.ExitCode,
		Prompt:   req.Prompt,
		Output:   run.Stdout,
	}
	if json.Valid([]byte(run.Stdout)) {
		envResult.Parsed = json.RawMessage(run.Stdout)
	}
	if id := tool.ExtractSessionID(run.Stdout); id != "" {
		desc.Session.ID = id
	}
	desc.EnvironmentResult = envResult

	// Step 5: terminal frame.
	if run.ExitCode != 0 {
		msg := strings.TrimSpace(run.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(run.Stdout)
		}
		if msg == "" {
			msg = fmt.Sprintf("%s exited with code %d", tool.DisplayName, run.ExitCode)
		}
		envResult.Configured = false
		envResult.Error = msg
		return fail(msg)
	}

	envResult.Configured = true
	if err := progress(MsgVerified); err != nil {
		return err
	}
	return emit(DataFrame{Type: FrameData, ID: DataSandboxInfo, Data: Result{Success: true, Sandbox: desc}})
}

func (o *Orchestrator) clampAlive(minutes int) int {
	if minutes <= 0 {
		minutes = o.opts.DefaultAliveMinutes
	}
	if minutes < o.opts.MinAliveMinutes {
		minutes = o.opts.MinAliveMinutes
	}
	if minutes > o.opts.MaxAliveMinutes {
		minutes = o.opts.MaxAliveMinutes
	}
	return minutes
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
