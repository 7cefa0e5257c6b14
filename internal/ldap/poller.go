package ldap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

// EntryStatus classifies an entry against the previous snapshot.
type EntryStatus int

const (
	EntryNew EntryStatus = iota
	EntryChanged
	EntryRemoved
)

func (s EntryStatus) String() string {
	switch s {
	case EntryNew:
		return "new"
	case EntryChanged:
		return "changed"
	case EntryRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// EntryEvent is one difference between the directory and the snapshot.
// Old is set for changed and removed entries, Entry for new and changed ones.
type EntryEvent struct {
	Status EntryStatus
	Key    string
	Entry  *ldap.Entry
	Old    *ldap.Entry
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Search                 UserSearchConfig
	CachePath              string
	CheckForDeletedEntries bool
	DryRun                 bool // the snapshot is never written
}

// Poller compares the current directory content with the snapshot of the
// previous pass.
type Poller struct {
	searcher *UserSearcher
	config   PollerConfig
}

// PollResult holds the events of one poll and the snapshot to commit.
type PollResult struct {
	Events   []EntryEvent
	previous *Snapshot
	next     *Snapshot
}

// NewPoller creates a poller searching through client.
func NewPoller(client Client, config PollerConfig) *Poller {
	return &Poller{
		searcher: NewUserSearcher(client, config.Search),
		config:   config,
	}
}

// Poll searches the directory and diffs it with the cached snapshot. A
// missing snapshot makes every entry new.
func (p *Poller) Poll(ctx context.Context) (*PollResult, error) {
	logger := logging.New(ctx, logging.SubsystemLDAP)

	previous, found, err := LoadSnapshot(p.config.CachePath)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Info("LDAP sync cache missing", map[string]any{"cache_path": p.config.CachePath})
	}

	entries, err := p.searcher.SearchUsers(ctx)
	if err != nil {
		return nil, err
	}

	result := &PollResult{previous: previous, next: NewSnapshot()}
	attrs := p.config.Search.Attributes
	seen := make(map[string]bool, len(entries))

	for _, entry := range entries {
		pid := entry.GetEqualFoldRawAttributeValue(attrs.UserID.Name)
		if len(pid) == 0 {
			logger.Warn("Skipping entry without user id", map[string]any{
				"dn":        entry.DN,
				"attribute": attrs.UserID.Name,
			})
			continue
		}

		key := hex.EncodeToString(pid)
		if seen[key] {
			logger.Warn("Skipping entry with duplicate user id", map[string]any{"dn": entry.DN, "key": key})
			continue
		}
		seen[key] = true

		current := snapshotEntry(entry, attrs)
		result.next.Entries[key] = current

		cached, ok := previous.Entries[key]
		switch {
		case !ok:
			result.Events = append(result.Events, EntryEvent{Status: EntryNew, Key: key, Entry: entry})
		case unmodified(cached, current):
			continue
		case !sameTracked(cached, current, attrs):
			result.Events = append(result.Events, EntryEvent{
				Status: EntryChanged,
				Key:    key,
				Entry:  entry,
				Old:    cached.Entry(),
			})
		}
	}

	for _, key := range previous.Keys() {
		if seen[key] {
			continue
		}
		if !p.config.CheckForDeletedEntries {
			result.next.Entries[key] = previous.Entries[key]
			continue
		}
		result.Events = append(result.Events, EntryEvent{
			Status: EntryRemoved,
			Key:    key,
			Old:    previous.Entries[key].Entry(),
		})
	}

	logger.Debug("Directory poll completed", map[string]any{
		"entries": len(entries),
		"events":  len(result.Events),
		"cached":  len(previous.Entries),
	})

	return result, nil
}

// Reject keeps the previous state of key in the snapshot to commit, so the
// entry is reported again by the next poll.
func (r *PollResult) Reject(key string) {
	if old, ok := r.previous.Entries[key]; ok {
		r.next.Entries[key] = old
		return
	}
	delete(r.next.Entries, key)
}

// Commit persists the snapshot of result. Dry runs never write.
func (p *Poller) Commit(ctx context.Context, result *PollResult) error {
	if p.config.DryRun {
		logging.New(ctx, logging.SubsystemLDAP).Warn("Not writing LDAP cache during a dry run", nil)
		return nil
	}
	if err := result.next.Save(p.config.CachePath); err != nil {
		return fmt.Errorf("persist LDAP cache: %w", err)
	}
	return nil
}

// snapshotEntry captures the user id and tracked attributes of entry.
func snapshotEntry(entry *ldap.Entry, attrs user.AttributeMap) *SnapshotEntry {
	se := &SnapshotEntry{
		DN:         entry.DN,
		Attributes: make(map[string][][]byte),
	}

	for _, m := range append(attrs.Tracked(), attrs.UserID) {
		if m.Name == "" {
			continue
		}
		if values := entry.GetEqualFoldRawAttributeValues(m.Name); len(values) > 0 {
			se.Attributes[m.Name] = values
		}
	}

	if attrs.LastModified != nil && attrs.LastModified.Name != "" {
		se.Modified = entry.GetEqualFoldRawAttributeValue(attrs.LastModified.Name)
	}
	return se
}

func unmodified(cached, current *SnapshotEntry) bool {
	return len(cached.Modified) > 0 && bytes.Equal(cached.Modified, current.Modified)
}

func sameTracked(cached, current *SnapshotEntry, attrs user.AttributeMap) bool {
	for _, m := range attrs.Tracked() {
		if !slices.EqualFunc(cached.Attributes[m.Name], current.Attributes[m.Name], bytes.Equal) {
			return false
		}
	}
	return true
}
