package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownTools(t *testing.T) {
	for _, id := range IDs() {
		d, err := Resolve(id)
		require.NoError(t, err)
		require.Equal(t, id, d.ID)
	}
}

func TestResolveUnknownTool(t *testing.T) {
	for _, id := range []string{"", "copilot", "CLAUDE-CODE", "claude-code "} {
		_, err := Resolve(id)
		assert.ErrorIs(t, err, ErrUnknownTool, "id %q", id)
	}
}

func TestExtractSessionIDTotal(t *testing.T) {
	claude, err := Resolve(ClaudeCode)
	require.NoError(t, err)

	// Any input yields an id or "", never a panic.
	inputs := []string{
		"",
		"not json at all",
		"{broken",
		"42",
		`"just a string"`,
		"null",
		`{"other":"field"}`,
		`[1,2,3]`,
		`[{"nope":true},"text"]`,
	}
	for _, in := range inputs {
		assert.Empty(t, claude.ExtractSessionID(in), "input %q", in)
	}
}

func TestExtractSessionIDObject(t *testing.T) {
	claude, _ := Resolve(ClaudeCode)
	got := claude.ExtractSessionID(`{"type":"result","result":"hi","session_id":"sess-1"}`)
	assert.Equal(t, "sess-1", got)

	// Idempotent: the same input always yields the same id.
	assert.Equal(t, got, claude.ExtractSessionID(`{"type":"result","result":"hi","session_id":"sess-1"}`))
}

func TestExtractSessionIDArray(t *testing.T) {
	claude, _ := Resolve(ClaudeCode)
	raw := `[{"type":"system"},{"type":"assistant","session_id":"sess-2"},{"session_id":"sess-3"}]`
	assert.Equal(t, "sess-2", claude.ExtractSessionID(raw), "first carrier wins")
}

func TestExtractSessionIDCursorFieldOrder(t *testing.T) {
	cursor, _ := Resolve(CursorCLI)
	// chatId is scanned before session_id.
	assert.Equal(t, "chat-1", cursor.ExtractSessionID(`{"chatId":"chat-1","session_id":"sess-1"}`))
	assert.Equal(t, "sess-1", cursor.ExtractSessionID(`{"session_id":"sess-1"}`))
}

func TestApplyAPIKeyEnvInjection(t *testing.T) {
	claude, _ := Resolve(ClaudeCode)
	inv := claude.NewPromptArgs("hello")

	env, args := claude.ApplyAPIKey(inv, "sk-test")
	assert.Equal(t, map[string]string{"ANTHROPIC_API_KEY": "sk-test"}, env)
	assert.Equal(t, inv.Args, args, "env injection leaves args untouched")
	assert.NotContains(t, args, "sk-test")
}

func TestApplyAPIKeyFlagSubstitution(t *testing.T) {
	cursor, _ := Resolve(CursorCLI)
	inv := cursor.NewPromptArgs("hello")
	require.Contains(t, inv.Args, APIKeyPlaceholder)

	env, args := cursor.ApplyAPIKey(inv, "key-123")
	assert.Nil(t, env)
	assert.Contains(t, args, "key-123")
	assert.NotContains(t, args, APIKeyPlaceholder)
	// The original invocation is not mutated.
	assert.Contains(t, inv.Args, APIKeyPlaceholder)
}

func TestInvocationShapes(t *testing.T) {
	claude, _ := Resolve(ClaudeCode)

	resume := claude.ResumeArgs("abc123", "continue please")
	assert.Equal(t, "claude", resume.Bin)
	assert.Contains(t, resume.Args, "--resume")
	assert.Contains(t, resume.Args, "abc123")

	cont := claude.ContinueArgs("hi")
	assert.Contains(t, cont.Args, "--continue")
	assert.NotContains(t, cont.Args, "--resume")

	fresh := claude.NewPromptArgs("hi")
	assert.NotContains(t, fresh.Args, "--resume")
	assert.NotContains(t, fresh.Args, "--continue")
}
