// Package syncmeta persists the JSON sync metadata document: the
// local/remote sync tokens, per-item revisions, and the
// remote-to-local id mapping a two-way sync needs to detect
// conflicting edits across runs.
package syncmeta

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata is the persisted state one sync pair carries between runs.
// Unknown keys are ignored on load; missing keys default to empty
// because FromJSON decodes onto New()'s initialized maps and replaces
// any map the document sets to null with an empty one.
type Metadata struct {
	LocalSyncToken        string            `json:"LocalSyncToken"`
	RemoteSyncToken       string            `json:"RemoteSyncToken"`
	LocalRevisions        map[string]string `json:"LocalRevisions"`
	RemoteRevisions       map[string]string `json:"RemoteRevisions"`
	RemoteToLocalMapping  map[string]string `json:"RemoteToLocalMapping"`
}

// New returns an empty Metadata with initialized maps, representing
// the "empty metadata" baseline that triggers an initial sync.
func New() *Metadata {
	return &Metadata{
		LocalRevisions:       map[string]string{},
		RemoteRevisions:      map[string]string{},
		RemoteToLocalMapping: map[string]string{},
	}
}

// FromJSON parses a previous sync's metadata document. An empty
// string is not an error: it returns a fresh Metadata, matching the
// spec's "empty triggers initial sync" rule.
func FromJSON(data string) (*Metadata, error) {
	if data == "" {
		return New(), nil
	}
	m := New()
	if err := json.Unmarshal([]byte(data), m); err != nil {
		return nil, fmt.Errorf("syncmeta: parsing metadata: %w", err)
	}
	if m.LocalRevisions == nil {
		m.LocalRevisions = map[string]string{}
	}
	if m.RemoteRevisions == nil {
		m.RemoteRevisions = map[string]string{}
	}
	if m.RemoteToLocalMapping == nil {
		m.RemoteToLocalMapping = map[string]string{}
	}
	return m, nil
}

// ToJSON serializes m for persistence (the `metadata_updated` callback
// payload.
func (m *Metadata) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("syncmeta: marshaling metadata: %w", err)
	}
	return string(data), nil
}

// Load reads a metadata document from path. A missing file is treated
// as empty metadata, matching FromJSON("").
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("syncmeta: reading %s: %w", path, err)
	}
	return FromJSON(string(data))
}

// Save persists m to path.
func (m *Metadata) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("syncmeta: marshaling metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("syncmeta: writing %s: %w", path, err)
	}
	return nil
}
