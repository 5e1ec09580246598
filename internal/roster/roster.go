// Package roster persists onboarded agent definitions through the blob
// store, one level above the audit chain's chains/ tree in the data root.
// The roundtable CLI writes it on onboard; agentbridge reads it to pick
// the agent it serves.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"

	"ioacore/internal/storage"
)

// Path is where agent definitions live under the data root.
const Path = "agents/roster.json"

// AgentDef is one onboarded agent, as parsed from an onboarding manifest
// and as persisted. Vendor selects the capability backend; APIKeyEnv
// names the environment variable holding its credential, never the
// credential itself.
type AgentDef struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Capabilities []string `json:"capabilities"`
	Weight       float64  `json:"weight"`
	Vendor       string   `json:"vendor"` // "anthropic" | "gemini"
	Model        string   `json:"model"`
	APIKeyEnv    string   `json:"api_key_env"`
}

func (a AgentDef) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent definition missing id")
	}
	if a.Vendor != "anthropic" && a.Vendor != "gemini" {
		return fmt.Errorf("agent %q: vendor must be \"anthropic\" or \"gemini\", got %q", a.ID, a.Vendor)
	}
	if a.Model == "" {
		return fmt.Errorf("agent %q: model is required", a.ID)
	}
	if a.APIKeyEnv == "" {
		return fmt.Errorf("agent %q: api_key_env is required", a.ID)
	}
	return nil
}

// Roster is the full set of onboarded agent definitions, keyed by id.
type Roster struct {
	Agents map[string]AgentDef `json:"agents"`
}

// Load reads the roster from store, returning an empty roster when none
// has been written yet.
func Load(store storage.BlobStore) (Roster, error) {
	data, err := store.Get(Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Roster{Agents: map[string]AgentDef{}}, nil
		}
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	var r Roster
	if err := json.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("decode roster: %w", err)
	}
	if r.Agents == nil {
		r.Agents = map[string]AgentDef{}
	}
	return r, nil
}

// Save atomically rewrites the roster in store.
func Save(store storage.BlobStore, r Roster) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	return store.AtomicReplace(Path, data)
}
