package sandbox

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/store"
)

const creationStateKey = "creation-state"
const selectedToolKey = "selected-tool"

// Registry persists sandbox descriptors, the pending creation state, and the
// small per-tool client preferences on top of the KV store.
type Registry struct {
	kv store.Store
}

func NewRegistry(kv store.Store) *Registry {
	return &Registry{kv: kv}
}

func sandboxKey(id string) string {
	return fmt.Sprintf("sandbox:%s", id)
}

func apiKeyKey(toolID string) string {
	return fmt.Sprintf("api-key:%s", toolID)
}

// Sandbox returns the stored descriptor for id, or nil if absent.
func (r *Registry) Sandbox(id string) (*Descriptor, error) {
	var d Descriptor
	ok, err := store.GetJSON(r.kv, sandboxKey(id), &d)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

// SetSandbox stores d under its real id. Descriptors without an id are
// ignored so a provisioning placeholder can never claim a keyed slot.
func (r *Registry) SetSandbox(d *Descriptor) error {
	if d == nil || d.ID == "" {
		log.Warn().Msg("ignoring sandbox descriptor without id")
		return nil
	}
	return store.SetJSON(r.kv, sandboxKey(d.ID), d)
}

// RemoveSandbox deletes the descriptor for id.
func (r *Registry) RemoveSandbox(id string) error {
	return r.kv.Remove(sandboxKey(id))
}

// EvictIfExpired removes the descriptor when it has outlived its timeout.
// Returns the descriptor (nil if absent or evicted) and whether eviction
// happened. This is the lazy/pull eviction path; there is no background sweep.
func (r *Registry) EvictIfExpired(id string, now time.Time) (*Descriptor, bool, error) {
	d, err := r.Sandbox(id)
	if err != nil || d == nil {
		return nil, false, err
	}
	if d.Expired(now) {
		if err := r.RemoveSandbox(id); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	return d, false, nil
}

// CreationState returns the pending creation attempt, or nil.
func (r *Registry) CreationState() (*CreationState, error) {
	var cs CreationState
	ok, err := store.GetJSON(r.kv, creationStateKey, &cs)
	if err != nil || !ok {
		return nil, err
	}
	return &cs, nil
}

// SetCreationState stores cs, unconditionally overwriting any prior attempt.
// An overwrite is logged: at most one creation should be in flight, and a
// second submission abandons the first.
func (r *Registry) SetCreationState(cs *CreationState) error {
	if prev, err := r.CreationState(); err == nil && prev != nil {
		log.Warn().
			Str("tool", prev.ToolID).
			Time("started", prev.CreatedAt).
			Msg("overwriting pending creation state")
	}
	return store.SetJSON(r.kv, creationStateKey, cs)
}

// ClearCreationState drops the pending attempt. Safe to call when none exists.
func (r *Registry) ClearCreationState() error {
	return r.kv.Remove(creationStateKey)
}

// SelectedTool returns the last tool the user picked, or "".
func (r *Registry) SelectedTool() (string, error) {
	var id string
	if _, err := store.GetJSON(r.kv, selectedToolKey, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Registry) SetSelectedTool(id string) error {
	return store.SetJSON(r.kv, selectedToolKey, id)
}

// APIKey returns the stored key for toolID, or "".
func (r *Registry) APIKey(toolID string) (string, error) {
	var key string
	if _, err := store.GetJSON(r.kv, apiKeyKey(toolID), &key); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Registry) SetAPIKey(toolID, key string) error {
	return store.SetJSON(r.kv, apiKeyKey(toolID), key)
}
