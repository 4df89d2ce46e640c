package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/trancethehuman/claude-code-on-the-cloud/internal/config"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/sandbox"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/session"
	"github.com/trancethehuman/claude-code-on-the-cloud/internal/store"
)

// clientState bundles the config and the persisted client-side stores.
type clientState struct {
	cfg      *config.Config
	registry *sandbox.Registry
	sessions *session.Store
}

func openState() (*clientState, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	var kv store.Store
	if cfg.StateDir != "" {
		fs, err := store.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		kv = fs
	} else {
		kv = store.NewMemoryStore()
	}

	return &clientState{
		cfg:      cfg,
		registry: sandbox.NewRegistry(kv),
		sessions: session.NewStore(kv),
	}, nil
}

// postJSON sends a JSON body and returns the raw response. The caller closes
// the body.
func (s *clientState) postJSON(path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, s.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Cloudcode-API-Key", s.cfg.APIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server at %s: %w (is it running?)", s.cfg.ServerURL, err)
	}
	return resp, nil
}

// readAPIError extracts the {success:false,error} body from a failed
// response.
func readAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
