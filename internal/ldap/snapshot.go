package ldap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-ldap/ldap/v3"
)

// snapshotVersion is bumped whenever the on-disk layout changes.
const snapshotVersion = 1

// SnapshotEntry is the state of one directory entry as of the last pass.
type SnapshotEntry struct {
	DN string `json:"dn"`
	// Attributes holds the raw values of the tracked attributes and the user id.
	Attributes map[string][][]byte `json:"attributes"`
	// Modified is the raw last_modified value, when that attribute is mapped.
	Modified []byte `json:"modified,omitempty"`
}

// Entry rebuilds the search entry the snapshot was taken from.
func (e *SnapshotEntry) Entry() *ldap.Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for name, values := range e.Attributes {
		strs := make([]string, len(values))
		for i, v := range values {
			strs[i] = string(v)
		}
		attrs[name] = strs
	}
	return ldap.NewEntry(e.DN, attrs)
}

// Snapshot is the persisted directory state, keyed by the hex encoded user id.
type Snapshot struct {
	Version int                       `json:"version"`
	Entries map[string]*SnapshotEntry `json:"entries"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Version: snapshotVersion, Entries: make(map[string]*SnapshotEntry)}
}

// LoadSnapshot reads the snapshot at path. A missing file yields an empty
// snapshot and found == false.
func LoadSnapshot(path string) (snapshot *Snapshot, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSnapshot(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}

	snapshot = NewSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, false, fmt.Errorf("cache deserialization failed: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return nil, false, fmt.Errorf("unsupported cache version %d", snapshot.Version)
	}
	if snapshot.Entries == nil {
		snapshot.Entries = make(map[string]*SnapshotEntry)
	}
	return snapshot, true, nil
}

// Save writes the snapshot to path atomically.
func (s *Snapshot) Save(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Keys returns the cached keys in sorted order.
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.Entries))
}
