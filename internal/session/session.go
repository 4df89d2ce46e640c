// Package session keeps a small per-tool cache of recently used CLI sessions
// so a user can resume a conversation on a fresh sandbox.
//
// This is a convenience cache, not a correctness-critical store: concurrent
// writers are last-writer-wins and records are never expired by time, only
// evicted beyond the per-tool cap.
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/store"
)

// MaxPerTool caps the number of records kept per tool; the least recently
// used record beyond the cap is evicted.
const MaxPerTool = 10

// Record identifies one resumable CLI session. Identity is (ToolID, SessionID).
type Record struct {
	SessionID  string    `json:"sessionId"`
	ToolID     string    `json:"toolId"`
	SandboxID  string    `json:"sandboxId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Store persists session records keyed "sessions:<toolId>".
type Store struct {
	kv store.Store
}

func NewStore(kv store.Store) *Store {
	return &Store{kv: kv}
}

func key(toolID string) string {
	return fmt.Sprintf("sessions:%s", toolID)
}

// List returns the records for toolID ordered by LastUsedAt descending.
// Length is always <= MaxPerTool.
func (s *Store) List(toolID string) ([]Record, error) {
	var records []Record
	if _, err := store.GetJSON(s.kv, key(toolID), &records); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// Save upserts rec by SessionID, bumping it to the front, and truncates the
// collection to MaxPerTool.
func (s *Store) Save(rec Record) error {
	records, err := s.List(rec.ToolID)
	if err != nil {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].SessionID == rec.SessionID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	sortRecords(records)
	if len(records) > MaxPerTool {
		records = records[:MaxPerTool]
	}
	return store.SetJSON(s.kv, key(rec.ToolID), records)
}

// Touch bumps LastUsedAt (and optionally the sandbox binding) for an existing
// session, creating the record if it was never saved.
func (s *Store) Touch(toolID, sessionID, sandboxID string, now time.Time) error {
	records, err := s.List(toolID)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].SessionID == sessionID {
			records[i].LastUsedAt = now
			if sandboxID != "" {
				records[i].SandboxID = sandboxID
			}
			return s.Save(records[i])
		}
	}
	return s.Save(Record{
		SessionID:  sessionID,
		ToolID:     toolID,
		SandboxID:  sandboxID,
		CreatedAt:  now,
		LastUsedAt: now,
	})
}

// Clear removes all records for toolID.
func (s *Store) Clear(toolID string) error {
	return s.kv.Remove(key(toolID))
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastUsedAt.After(records[j].LastUsedAt)
	})
}
