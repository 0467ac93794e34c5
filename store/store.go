// Package store persists which plugins the user has installed.
//
// Installation records user intent only. An installed plugin still goes
// through the full registry trust path before any of its code loads, because
// revocation status and signature validity can change after install time.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/99designs/keyring"
)

const (
	// serviceName scopes our keyring entries away from other applications.
	serviceName = "lumilio-studio"
	// recordsKey is the single entry holding the JSON array of installed
	// plugin records. Bump the suffix if the record shape ever changes
	// incompatibly.
	recordsKey = "studio.installed-plugins.v1"
)

// InstalledPluginRecord marks one plugin version as installed by the user.
type InstalledPluginRecord struct {
	PluginID    string    `json:"pluginId"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installedAt"`
}

// Store reads and writes the installed-plugin collection. All records live
// under one storage entry; every write persists the full collection.
type Store struct {
	ring keyring.Keyring
	// now is replaced in tests for stable install timestamps.
	now func() time.Time
}

// Open returns a Store backed by the platform keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return New(ring), nil
}

// New returns a Store backed by the given keyring. Tests pass
// keyring.NewArrayKeyring to stay in memory.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring, now: time.Now}
}

// Read returns the installed-plugin records sorted by plugin ID.
//
// Read is self-healing: a missing entry, unreadable data, or a type mismatch
// yields an empty collection instead of an error. Corrupted local state must
// never take the host down.
func (s *Store) Read() []InstalledPluginRecord {
	item, err := s.ring.Get(recordsKey)
	if err != nil {
		return []InstalledPluginRecord{}
	}
	var records []InstalledPluginRecord
	if err := json.Unmarshal(item.Data, &records); err != nil || records == nil {
		return []InstalledPluginRecord{}
	}
	sortRecords(records)
	return records
}

// Install records that the user installed pluginID at version, replacing any
// existing record for the same plugin ID, and returns the new full
// collection.
func (s *Store) Install(pluginID, version string) ([]InstalledPluginRecord, error) {
	if pluginID == "" {
		return nil, fmt.Errorf("plugin id cannot be empty")
	}
	records := s.Read()
	kept := records[:0]
	for _, r := range records {
		if r.PluginID != pluginID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, InstalledPluginRecord{
		PluginID:    pluginID,
		Version:     version,
		InstalledAt: s.now().UTC(),
	})
	sortRecords(kept)
	if err := s.persist(kept); err != nil {
		return nil, err
	}
	return kept, nil
}

// Uninstall removes the record for pluginID if present and returns the new
// full collection. Uninstalling a plugin that is not installed is a no-op.
func (s *Store) Uninstall(pluginID string) ([]InstalledPluginRecord, error) {
	records := s.Read()
	kept := records[:0]
	for _, r := range records {
		if r.PluginID != pluginID {
			kept = append(kept, r)
		}
	}
	if err := s.persist(kept); err != nil {
		return nil, err
	}
	return kept, nil
}

// IsInstalled reports whether a record exists for pluginID. When version is
// non-empty the record's version must also match exactly.
func (s *Store) IsInstalled(pluginID, version string) bool {
	for _, r := range s.Read() {
		if r.PluginID == pluginID {
			return version == "" || r.Version == version
		}
	}
	return false
}

func (s *Store) persist(records []InstalledPluginRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to serialize installed plugins: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:   recordsKey,
		Data:  data,
		Label: "Lumilio Studio installed plugins",
	})
	if err != nil {
		return fmt.Errorf("failed to store installed plugins in keyring: %w", err)
	}
	return nil
}

func sortRecords(records []InstalledPluginRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PluginID < records[j].PluginID
	})
}
