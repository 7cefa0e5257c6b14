// Package source implements the sources a sync pass reads users from: an
// LDAP directory, a CSV export and an HTTP disable-list.
package source

import (
	"context"
	"fmt"

	"github.com/isometry/ldap-sync/internal/ldap"
	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

// EntryPoller reports directory changes since the last committed pass.
type EntryPoller interface {
	Poll(ctx context.Context) (*ldap.PollResult, error)
	Commit(ctx context.Context, result *ldap.PollResult) error
}

// LDAP reports new, changed and removed directory users.
type LDAP struct {
	poller EntryPoller
	attrs  user.AttributeMap
}

// NewLDAP creates an LDAP source normalizing entries with attrs.
func NewLDAP(poller EntryPoller, attrs user.AttributeMap) *LDAP {
	return &LDAP{poller: poller, attrs: attrs}
}

// Name returns the source name used in logs.
func (s *LDAP) Name() string {
	return "LDAP"
}

// GetDiff polls the directory and normalizes every reported entry. Entries
// that cannot be normalized are logged, left out of the diff and kept out of
// the snapshot so the next pass reports them again.
func (s *LDAP) GetDiff(ctx context.Context) (user.SourceDiff, error) {
	logger := logging.New(ctx, logging.SubsystemSource)

	result, err := s.poller.Poll(ctx)
	if err != nil {
		return user.SourceDiff{}, fmt.Errorf("failed to sync/fetch data from LDAP: %w", err)
	}

	formats := s.attrs.Formats()
	var diff user.SourceDiff

	for _, ev := range result.Events {
		switch ev.Status {
		case ldap.EntryNew:
			u, err := s.normalize(ldap.NewEntryRecord(ev.Entry, formats))
			if err != nil {
				s.reject(logger, result, ev, err)
				continue
			}
			logger.Debug("New entry", map[string]any{"dn": ev.Entry.DN, "user": u.String()})
			diff.NewUsers = append(diff.NewUsers, u)

		case ldap.EntryChanged:
			old, err := s.normalize(ldap.NewEntryRecord(ev.Old, formats))
			if err != nil {
				s.reject(logger, result, ev, err)
				continue
			}
			u, err := s.normalize(ldap.NewEntryRecord(ev.Entry, formats))
			if err != nil {
				s.reject(logger, result, ev, err)
				continue
			}
			logger.Debug("Changed entry", map[string]any{"dn": ev.Entry.DN, "user": u.String()})
			diff.ChangedUsers = append(diff.ChangedUsers, user.ChangedUser{Old: old, New: u})

		case ldap.EntryRemoved:
			id, err := user.Resolve(ldap.NewEntryRecord(ev.Old, formats), s.attrs.UserID)
			if err != nil {
				s.reject(logger, result, ev, err)
				continue
			}
			logger.Debug("Deleted entry", map[string]any{"dn": ev.Old.DN, "user_id": id.String()})
			diff.DeletedUserIDs = append(diff.DeletedUserIDs, user.NickID(id.String()))
		}
	}

	if err := s.poller.Commit(ctx, result); err != nil {
		return user.SourceDiff{}, err
	}

	logger.Info("Finished syncing LDAP data", map[string]any{
		"new":     len(diff.NewUsers),
		"changed": len(diff.ChangedUsers),
		"removed": len(diff.DeletedUserIDs),
	})
	return diff, nil
}

func (s *LDAP) normalize(rec user.Record) (user.User, error) {
	return user.Normalize(rec, s.attrs, s.attrs.DisableBitmasks)
}

func (s *LDAP) reject(logger *logging.SubsystemLogger, result *ldap.PollResult, ev ldap.EntryEvent, err error) {
	result.Reject(ev.Key)
	logger.Error("Skipping unsyncable entry", map[string]any{
		"status": ev.Status.String(),
		"key":    ev.Key,
		"error":  err.Error(),
	})
}
