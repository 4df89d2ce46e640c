// Package store provides the flat key-value persistence layer used by the
// client-side state (sessions, sandbox descriptors, creation state).
//
// Values are opaque JSON blobs wrapped in a versioned envelope so future
// shape changes can be detected instead of silently misparsed. The store is
// last-writer-wins: concurrent writers are not coordinated.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is stamped into every persisted envelope.
const SchemaVersion = 1

// ErrVersionMismatch indicates a persisted value was written by an
// incompatible schema version.
var ErrVersionMismatch = errors.New("stored value has incompatible schema version")

// Store is a string-keyed blob store. Implementations must tolerate keys
// containing ':' separators (e.g. "sessions:claude-code", "api-key:cursor-cli").
type Store interface {
	// Get returns the raw value for key. The second return is false if the
	// key is absent.
	Get(key string) ([]byte, bool, error)

	// Set writes the value for key, overwriting any previous value.
	Set(key string, value []byte) error

	// Remove deletes the key. Removing an absent key is a no-op.
	Remove(key string) error
}

// envelope wraps persisted JSON values with a schema version tag.
type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// SetJSON marshals v into a versioned envelope and stores it under key.
func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling value for %q: %w", key, err)
	}
	raw, err := json.Marshal(envelope{V: SchemaVersion, Data: data})
	if err != nil {
		return err
	}
	return s.Set(key, raw)
}

// GetJSON loads the envelope under key and unmarshals its payload into out.
// Returns false if the key is absent.
func GetJSON(s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("parsing envelope for %q: %w", key, err)
	}
	if env.V != SchemaVersion {
		return false, fmt.Errorf("%w: key %q has v=%d, want %d", ErrVersionMismatch, key, env.V, SchemaVersion)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("parsing value for %q: %w", key, err)
	}
	return true, nil
}
