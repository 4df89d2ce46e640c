package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/setup"
)

func statuses(tasks []Task) []Status {
	out := make([]Status, len(tasks))
	for i, t := range tasks {
		out[i] = t.Status
	}
	return out
}

func TestNewTasksAllPending(t *testing.T) {
	tasks := NewTasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, TaskCreateSandbox, tasks[0].ID)
	assert.Equal(t, TaskInstallTool, tasks[1].ID)
	assert.Equal(t, TaskTestConnection, tasks[2].ID)
	assert.Equal(t, []Status{StatusPending, StatusPending, StatusPending}, statuses(tasks))
}

func TestApplyTextHappyPath(t *testing.T) {
	log := ""
	tasks := NewTasks()

	step := func(line string, want []Status) {
		t.Helper()
		log += line
		tasks = ApplyText(tasks, log)
		assert.Equal(t, want, statuses(tasks), "after %q", line)
	}

	step(fmt.Sprintf(setup.MsgCreating, 10),
		[]Status{StatusInProgress, StatusPending, StatusPending})
	step(fmt.Sprintf(setup.MsgCreated, "sbx-1"),
		[]Status{StatusCompleted, StatusPending, StatusPending})
	step(fmt.Sprintf(setup.MsgInstalling, "Claude Code"),
		[]Status{StatusCompleted, StatusInProgress, StatusPending})
	step(setup.MsgInstallDone,
		[]Status{StatusCompleted, StatusCompleted, StatusPending})
	step(fmt.Sprintf(setup.MsgTesting, "Claude Code"),
		[]Status{StatusCompleted, StatusCompleted, StatusInProgress})
	step(setup.MsgVerified,
		[]Status{StatusCompleted, StatusCompleted, StatusCompleted})
}

func TestApplyTextInstallWarningCompletesStage(t *testing.T) {
	log := fmt.Sprintf(setup.MsgCreating, 10) +
		fmt.Sprintf(setup.MsgCreated, "sbx-1") +
		fmt.Sprintf(setup.MsgInstalling, "Claude Code") +
		fmt.Sprintf(setup.MsgInstallWarn, 1)

	tasks := ApplyText(NewTasks(), log)
	assert.Equal(t, StatusCompleted, tasks[1].Status)
	assert.NotEmpty(t, tasks[1].Details)
}

func TestApplyTextFailureMarksCurrentStage(t *testing.T) {
	// Failure during verification: the first two stages stay completed.
	log := fmt.Sprintf(setup.MsgCreating, 10) +
		fmt.Sprintf(setup.MsgCreated, "sbx-1") +
		fmt.Sprintf(setup.MsgInstalling, "Claude Code") +
		setup.MsgInstallDone +
		fmt.Sprintf(setup.MsgTesting, "Claude Code") +
		fmt.Sprintf(setup.MsgFailed, "invalid api key")

	tasks := ApplyText(NewTasks(), log)
	assert.Equal(t, []Status{StatusCompleted, StatusCompleted, StatusFailed}, statuses(tasks))

	// Failure during creation: only the first stage fails.
	log = fmt.Sprintf(setup.MsgCreating, 10) +
		fmt.Sprintf(setup.MsgFailed, "quota exhausted")
	tasks = ApplyText(NewTasks(), log)
	assert.Equal(t, []Status{StatusFailed, StatusPending, StatusPending}, statuses(tasks))
}

func TestApplyTextMonotonic(t *testing.T) {
	full := fmt.Sprintf(setup.MsgCreating, 10) +
		fmt.Sprintf(setup.MsgCreated, "sbx-1") +
		fmt.Sprintf(setup.MsgInstalling, "Claude Code") +
		setup.MsgInstallDone

	tasks := ApplyText(NewTasks(), full)
	require.Equal(t, StatusCompleted, tasks[1].Status)

	// Replaying the same log never moves a task backwards.
	again := ApplyText(tasks, full)
	assert.Equal(t, statuses(tasks), statuses(again))
}

func TestApplyTextDoesNotMutateInput(t *testing.T) {
	tasks := NewTasks()
	_ = ApplyText(tasks, fmt.Sprintf(setup.MsgCreating, 10))
	assert.Equal(t, StatusPending, tasks[0].Status)
}

func TestApplyDescriptorSuccess(t *testing.T) {
	d := &sandbox.Descriptor{
		ID:                "sbx-1",
		InstallResult:     &sandbox.InstallResult{Installed: true},
		EnvironmentResult: &sandbox.EnvironmentResult{Configured: true},
	}
	tasks := ApplyDescriptor(NewTasks(), d)
	assert.Equal(t, []Status{StatusCompleted, StatusCompleted, StatusCompleted}, statuses(tasks))
	assert.Equal(t, "sbx-1", tasks[0].Details)
}

func TestApplyDescriptorVerificationFailure(t *testing.T) {
	d := &sandbox.Descriptor{
		ID:            "sbx-1",
		InstallResult: &sandbox.InstallResult{Installed: false, ExitCode: 1, Warning: "EACCES"},
		EnvironmentResult: &sandbox.EnvironmentResult{
			Configured: false,
			Error:      "invalid api key",
		},
	}
	tasks := ApplyDescriptor(NewTasks(), d)
	assert.Equal(t, []Status{StatusCompleted, StatusCompleted, StatusFailed}, statuses(tasks))
	assert.Equal(t, "EACCES", tasks[1].Details)
	assert.Equal(t, "invalid api key", tasks[2].Error)
}

func TestApplyDescriptorNil(t *testing.T) {
	tasks := ApplyDescriptor(NewTasks(), nil)
	assert.Equal(t, []Status{StatusPending, StatusPending, StatusPending}, statuses(tasks))
}

func TestTextAndDescriptorAgree(t *testing.T) {
	// The live text path and the authoritative descriptor path must land on
	// the same final states for the same run.
	log := fmt.Sprintf(setup.MsgCreating, 10) +
		fmt.Sprintf(setup.MsgCreated, "sbx-1") +
		fmt.Sprintf(setup.MsgInstalling, "Claude Code") +
		fmt.Sprintf(setup.MsgInstallWarn, 1) +
		fmt.Sprintf(setup.MsgTesting, "Claude Code") +
		setup.MsgVerified
	fromText := ApplyText(NewTasks(), log)

	d := &sandbox.Descriptor{
		ID:                "sbx-1",
		InstallResult:     &sandbox.InstallResult{Installed: false, ExitCode: 1, Warning: "EACCES"},
		EnvironmentResult: &sandbox.EnvironmentResult{Configured: true},
	}
	fromDescriptor := ApplyDescriptor(NewTasks(), d)

	assert.Equal(t, statuses(fromText), statuses(fromDescriptor))
}

func TestApplyError(t *testing.T) {
	tasks := ApplyText(NewTasks(), fmt.Sprintf(setup.MsgCreating, 10)+
		fmt.Sprintf(setup.MsgCreated, "sbx-1")+
		fmt.Sprintf(setup.MsgInstalling, "Claude Code"))

	tasks = ApplyError(tasks, "stream interrupted")
	assert.Equal(t, []Status{StatusCompleted, StatusFailed, StatusPending}, statuses(tasks))
	assert.Equal(t, "stream interrupted", tasks[1].Error)
}
