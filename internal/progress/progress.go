// Package progress maps the setup event stream onto the fixed three-stage
// task list shown while a sandbox is being prepared.
//
// Two update paths coexist: substring matches against the accumulated
// progress text (live, while the terminal frame has not arrived) and the
// final descriptor's result fields (authoritative). Both must agree on the
// final state, which is why the matched substrings live next to the emitted
// templates in the setup package.
package progress

import (
	"strings"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"
)

// Status of one setup task. Statuses only move forward within an attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task ids, in execution order.
const (
	TaskCreateSandbox  = "create-sandbox"
	TaskInstallTool    = "install-tool"
	TaskTestConnection = "test-connection"
)

// Task is one stage of the setup checklist.
type Task struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
	Details     string `json:"details,omitempty"`
}

// NewTasks returns the fixed task list for a fresh attempt. The list is
// never re-ordered or re-created mid-attempt.
func NewTasks() []Task {
	return []Task{
		{ID: TaskCreateSandbox, Status: StatusPending, Description: "Create cloud sandbox"},
		{ID: TaskInstallTool, Status: StatusPending, Description: "Install coding agent"},
		{ID: TaskTestConnection, Status: StatusPending, Description: "Test agent connection"},
	}
}

func rank(s Status) int {
	switch s {
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return 0
	}
}

// advance moves a task forward; terminal statuses are never reverted by a
// later, weaker signal.
func advance(t *Task, next Status) {
	if rank(next) > rank(t.Status) {
		t.Status = next
	}
}

// ApplyText derives task statuses from the accumulated progress log. The log
// is the concatenation of all text deltas received so far; matching is
// against the whole log, so replaying a longer log is always safe.
func ApplyText(tasks []Task, accumulated string) []Task {
	out := clone(tasks)
	create, install, verify := &out[0], &out[1], &out[2]

	if strings.Contains(accumulated, setup.MatchCreating) {
		advance(create, StatusInProgress)
	}
	if strings.Contains(accumulated, setup.MatchCreated) {
		advance(create, StatusCompleted)
	}
	if strings.Contains(accumulated, setup.MatchInstalling) {
		advance(install, StatusInProgress)
	}
	if strings.Contains(accumulated, setup.MatchInstallDone) {
		advance(install, StatusCompleted)
	}
	if strings.Contains(accumulated, setup.MatchInstallWarn) {
		// Install failures are soft; the stage still completes.
		advance(install, StatusCompleted)
		if install.Details == "" {
			install.Details = "install reported a non-zero exit; continuing"
		}
	}
	if strings.Contains(accumulated, setup.MatchTesting) {
		advance(verify, StatusInProgress)
	}
	if strings.Contains(accumulated, setup.MatchVerified) {
		advance(verify, StatusCompleted)
	}
	if strings.Contains(accumulated, setup.MatchFailed) {
		failCurrent(out, "")
	}
	return out
}

// ApplyDescriptor derives task statuses from the terminal descriptor. This
// path is authoritative once the final frame arrives.
func ApplyDescriptor(tasks []Task, d *sandbox.Descriptor) []Task {
	out := clone(tasks)
	if d == nil {
		return out
	}
	create, install, verify := &out[0], &out[1], &out[2]

	if d.ID != "" {
		advance(create, StatusCompleted)
		create.Details = d.ID
	}
	if ir := d.InstallResult; ir != nil {
		advance(install, StatusCompleted)
		if ir.Warning != "" {
			install.Details = ir.Warning
		}
	}
	if er := d.EnvironmentResult; er != nil {
		if er.Configured {
			advance(verify, StatusCompleted)
		} else {
			advance(verify, StatusFailed)
			verify.Error = er.Error
		}
	}
	return out
}

// ApplyError marks the stage that was underway as failed. Used when the
// stream ends in an error-info frame without a descriptor.
func ApplyError(tasks []Task, msg string) []Task {
	out := clone(tasks)
	failCurrent(out, msg)
	return out
}

// failCurrent fails the first task that has not completed.
func failCurrent(tasks []Task, msg string) {
	for i := range tasks {
		if tasks[i].Status != StatusCompleted {
			advance(&tasks[i], StatusFailed)
			if msg != "" && tasks[i].Error == "" {
				tasks[i].Error = msg
			}
			return
		}
	}
}

func clone(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
