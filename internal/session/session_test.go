package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(store.NewMemoryStore())
}

func TestSaveAndList(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(Record{SessionID: "a", ToolID: "claude-code", SandboxID: "sbx-1", CreatedAt: base, LastUsedAt: base}))
	require.NoError(t, s.Save(Record{SessionID: "b", ToolID: "claude-code", SandboxID: "sbx-2", CreatedAt: base, LastUsedAt: base.Add(time.Minute)}))

	records, err := s.List("claude-code")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].SessionID, "most recently used first")
}

func TestCapEvictsLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Save 11 distinct sessions with increasing LastUsedAt.
	for i := 0; i < 11; i++ {
		require.NoError(t, s.Save(Record{
			SessionID:  fmt.Sprintf("sess-%02d", i),
			ToolID:     "claude-code",
			CreatedAt:  base,
			LastUsedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := s.List("claude-code")
	require.NoError(t, err)
	require.Len(t, records, MaxPerTool)

	// The oldest (sess-00) was evicted; the 10 most recent remain, newest first.
	assert.Equal(t, "sess-10", records[0].SessionID)
	assert.Equal(t, "sess-01", records[9].SessionID)
	for _, r := range records {
		assert.NotEqual(t, "sess-00", r.SessionID)
	}
}

func TestUpsertReplacesBySessionID(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(Record{SessionID: "a", ToolID: "claude-code", SandboxID: "sbx-1", LastUsedAt: base}))
	require.NoError(t, s.Save(Record{SessionID: "a", ToolID: "claude-code", SandboxID: "sbx-2", LastUsedAt: base.Add(time.Hour)}))

	records, err := s.List("claude-code")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sbx-2", records[0].SandboxID)
}

func TestTouchBumpsAndCreates(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Touch on an unknown session creates it.
	require.NoError(t, s.Touch("claude-code", "a", "sbx-1", base))
	records, _ := s.List("claude-code")
	require.Len(t, records, 1)
	assert.Equal(t, base, records[0].CreatedAt)

	// Touch on a known session bumps LastUsedAt and rebinds the sandbox.
	require.NoError(t, s.Touch("claude-code", "a", "sbx-2", base.Add(time.Hour)))
	records, _ = s.List("claude-code")
	require.Len(t, records, 1)
	assert.Equal(t, "sbx-2", records[0].SandboxID)
	assert.Equal(t, base.Add(time.Hour), records[0].LastUsedAt)
	assert.Equal(t, base, records[0].CreatedAt, "CreatedAt is preserved")
}

func TestToolsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Save(Record{SessionID: "a", ToolID: "claude-code", LastUsedAt: now}))
	require.NoError(t, s.Save(Record{SessionID: "b", ToolID: "cursor-cli", LastUsedAt: now}))

	claude, _ := s.List("claude-code")
	cursor, _ := s.List("cursor-cli")
	require.Len(t, claude, 1)
	require.Len(t, cursor, 1)

	require.NoError(t, s.Clear("claude-code"))
	claude, _ = s.List("claude-code")
	cursor, _ = s.List("cursor-cli")
	assert.Empty(t, claude)
	assert.Len(t, cursor, 1)
}
