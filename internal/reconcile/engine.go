package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
	"github.com/isometry/ldap-sync/internal/zitadel"
)

// Messages the provider reports for phone numbers it refuses.
const (
	createPhoneSignature = "invalid ImportHumanUserRequest.Phone"
	updatePhoneSignature = "invalid UpdateHumanPhoneRequest.Phone"
)

const (
	metadataPreferredUsername = "preferred_username"
	metadataLocalpart         = "localpart"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	OrganizationID string
	ProjectID      string
	IDPID          string
	Features       Features
}

// Report counts the outcome of applying one set of buckets. Dry runs count
// the operations they would have issued.
type Report struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Failed  int
}

// Fields returns r as log fields.
func (r Report) Fields() map[string]any {
	return map[string]any{
		"created": r.Created,
		"updated": r.Updated,
		"deleted": r.Deleted,
		"skipped": r.Skipped,
		"failed":  r.Failed,
	}
}

// Engine applies classified operations to a Directory.
type Engine struct {
	dir    Directory
	config EngineConfig
}

// NewEngine creates an engine mutating dir.
func NewEngine(dir Directory, config EngineConfig) *Engine {
	return &Engine{dir: dir, config: config}
}

// Apply runs the buckets in order disable, delete, enable, update, create.
// Each item is independent: its failure is logged and counted.
func (e *Engine) Apply(ctx context.Context, b Buckets) Report {
	logger := logging.New(ctx, logging.SubsystemSync)
	var r Report

	for _, u := range b.Disable {
		r.count(logger, "disable", u.String(), e.disableUser(ctx, u), &r.Deleted)
	}
	for _, id := range b.Delete {
		r.count(logger, "delete", id.String(), e.deleteUser(ctx, id), &r.Deleted)
	}

	if e.config.Features.DeactivateOnly {
		skipped := len(b.Enable) + len(b.Update) + len(b.Create)
		if skipped > 0 {
			logger.Info("Deactivate-only mode, skipping create and update operations", map[string]any{
				"enable": len(b.Enable),
				"update": len(b.Update),
				"create": len(b.Create),
			})
		}
		r.Skipped += skipped
		return r
	}

	for _, u := range b.Enable {
		r.count(logger, "enable", u.String(), e.createUser(ctx, u), &r.Created)
	}
	for _, c := range b.Update {
		r.count(logger, "update", c.New.String(), e.updateUser(ctx, c.Old, c.New), &r.Updated)
	}
	for _, u := range b.Create {
		r.count(logger, "create", u.String(), e.createUser(ctx, u), &r.Created)
	}

	return r
}

// errSkipped marks an item that needed no provider call.
var errSkipped = errors.New("skipped")

func (r *Report) count(logger *logging.SubsystemLogger, op, target string, err error, done *int) {
	switch {
	case err == nil:
		*done++
	case errors.Is(err, errSkipped):
		r.Skipped++
	default:
		r.Failed++
		logger.Error("Failed to "+op+" user", map[string]any{"user": target, "error": err.Error()})
	}
}

// ImportRequest builds the provider create request for u.
func (e *Engine) ImportRequest(u user.User) zitadel.ImportHumanUserRequest {
	f := e.config.Features
	req := zitadel.ImportHumanUserRequest{
		UserName: u.Email.String(),
		Profile: zitadel.Profile{
			FirstName:   u.FirstName.String(),
			LastName:    u.LastName.String(),
			NickName:    u.ExternalUserID.String(),
			DisplayName: u.DisplayName(),
			Gender:      zitadel.GenderUnspecified,
		},
		Email: zitadel.Email{
			Email:           u.Email.String(),
			IsEmailVerified: !f.RequireEmailVerification,
		},
		RequestPasswordlessRegistration: true,
	}
	if u.Phone != nil {
		req.Phone = &zitadel.Phone{
			Phone:           u.Phone.String(),
			IsPhoneVerified: !f.RequirePhoneVerification,
		}
	}
	if f.SSOLogin {
		req.IDPs = []zitadel.IDPLink{{
			ConfigID:       e.config.IDPID,
			ExternalUserID: u.ExternalUserID.String(),
			DisplayName:    u.DisplayName(),
		}}
	}
	return req
}

func (e *Engine) createUser(ctx context.Context, u user.User) error {
	logger := logging.New(ctx, logging.SubsystemSync)

	if e.config.Features.DryRun {
		logger.Info("Would create user", logging.SanitizeFields(withState(u, "new")))
		return nil
	}

	id, err := e.dir.CreateHumanUser(ctx, e.config.OrganizationID, e.ImportRequest(u))
	if err != nil && u.Phone != nil && isInvalidPhone(err, createPhoneSignature) {
		logger.Warn("Invalid phone number, retrying user creation without it", map[string]any{
			"user":  u.String(),
			"error": err.Error(),
		})
		id, err = e.dir.CreateHumanUser(ctx, e.config.OrganizationID, e.ImportRequest(u.WithoutPhone()))
		if err != nil {
			return fmt.Errorf("create user without phone: %w", err)
		}
		logger.Info("Created user without phone number", map[string]any{"user": u.String()})
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if err := e.dir.SetUserMetadata(ctx, e.config.OrganizationID, id, metadataPreferredUsername, u.PreferredUsername.Bytes()); err != nil {
		return fmt.Errorf("set %s metadata: %w", metadataPreferredUsername, err)
	}
	if err := e.dir.SetUserMetadata(ctx, e.config.OrganizationID, id, metadataLocalpart, []byte(u.LinkID().String())); err != nil {
		return fmt.Errorf("set %s metadata: %w", metadataLocalpart, err)
	}
	if err := e.dir.AddUserGrant(ctx, e.config.OrganizationID, id, e.config.ProjectID, []string{UserRole}); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}

	logger.Info("Created user", map[string]any{"user": u.String(), "user_id": id})
	return nil
}

func (e *Engine) updateUser(ctx context.Context, old, cur user.User) error {
	logger := logging.New(ctx, logging.SubsystemSync)

	if e.config.Features.DryRun {
		fields := withState(old, "old")
		for k, v := range withState(cur, "new") {
			fields[k] = v
		}
		logger.Info("Would update user", logging.SanitizeFields(fields))
		return nil
	}

	found, err := e.dir.GetUserByLoginName(ctx, old.Email.String())
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if found == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, old.Email)
	}

	org, id := e.config.OrganizationID, found.ID

	if !old.Email.Equal(cur.Email) {
		logger.Warn("User email changed, updating login name", map[string]any{
			"user_id": id,
			"old":     old.Email.String(),
			"new":     cur.Email.String(),
		})
		if err := e.dir.UpdateHumanUserName(ctx, org, id, cur.Email.String()); err != nil {
			return fmt.Errorf("update login name: %w", err)
		}
	}

	if !old.FirstName.Equal(cur.FirstName) || !old.LastName.Equal(cur.LastName) {
		profile := zitadel.Profile{
			FirstName:   cur.FirstName.String(),
			LastName:    cur.LastName.String(),
			NickName:    cur.ExternalUserID.String(),
			DisplayName: cur.DisplayName(),
			Gender:      zitadel.GenderUnspecified,
		}
		if err := e.dir.UpdateHumanProfile(ctx, org, id, profile); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
	}

	if !old.Email.Equal(cur.Email) {
		email := zitadel.Email{Email: cur.Email.String(), IsEmailVerified: !e.config.Features.RequireEmailVerification}
		if err := e.dir.UpdateHumanEmail(ctx, org, id, email); err != nil {
			return fmt.Errorf("update email: %w", err)
		}
	}

	if !old.PreferredUsername.Equal(cur.PreferredUsername) {
		if err := e.dir.SetUserMetadata(ctx, org, id, metadataPreferredUsername, cur.PreferredUsername.Bytes()); err != nil {
			return fmt.Errorf("set %s metadata: %w", metadataPreferredUsername, err)
		}
	}

	err = e.updatePhone(ctx, id, old.Phone, cur.Phone)
	if err != nil && cur.Phone != nil && isInvalidPhone(err, updatePhoneSignature) {
		logger.Warn("Invalid phone number, retrying user update without it", map[string]any{
			"user":  cur.String(),
			"error": err.Error(),
		})
		if err := e.updatePhone(ctx, id, old.Phone, nil); err != nil {
			return fmt.Errorf("update user without phone: %w", err)
		}
		logger.Info("Updated user without phone number", map[string]any{"user": cur.String()})
		return nil
	}
	if err != nil {
		return err
	}

	logger.Debug("Updated user", map[string]any{"user": cur.String(), "user_id": id})
	return nil
}

// updatePhone issues at most one call bringing the phone from old to cur.
func (e *Engine) updatePhone(ctx context.Context, id string, old, cur *user.AttributeValue) error {
	if user.OptionalEqual(old, cur) {
		return nil
	}
	if cur == nil {
		if err := e.dir.RemoveHumanPhone(ctx, e.config.OrganizationID, id); err != nil {
			return fmt.Errorf("remove phone: %w", err)
		}
		return nil
	}

	phone := zitadel.Phone{Phone: cur.String(), IsPhoneVerified: !e.config.Features.RequirePhoneVerification}
	if err := e.dir.UpdateHumanPhone(ctx, e.config.OrganizationID, id, phone); err != nil {
		return fmt.Errorf("update phone: %w", err)
	}
	return nil
}

// disableUser removes a user that became disabled at the source.
func (e *Engine) disableUser(ctx context.Context, u user.User) error {
	return e.deleteUser(ctx, user.LoginID(u.Email.String()))
}

// deleteUser resolves id and removes the user. Missing login and nick name
// targets are already gone and count as skipped; a missing directory id is
// an error.
func (e *Engine) deleteUser(ctx context.Context, id user.UserID) error {
	logger := logging.New(ctx, logging.SubsystemSync)

	var (
		found *zitadel.User
		err   error
	)
	switch id.Kind {
	case user.UserIDLogin:
		found, err = e.dir.GetUserByLoginName(ctx, id.Value)
	case user.UserIDNick:
		found, err = e.dir.GetUserByNickName(ctx, e.config.OrganizationID, id.Value)
	case user.UserIDDirectory:
		found = &zitadel.User{ID: id.Value}
	default:
		return fmt.Errorf("unsupported user id kind %s", id.Kind)
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if found == nil {
		logger.Info("User to delete not found, nothing to do", map[string]any{"user": id.String()})
		return errSkipped
	}

	if e.config.Features.DryRun {
		logger.Info("Would delete user", map[string]any{"user": id.String(), "user_id": found.ID})
		return nil
	}

	if err := e.dir.RemoveUser(ctx, found.ID); err != nil {
		if zitadel.IsNotFound(err) && id.Kind == user.UserIDDirectory {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id.Value)
		}
		if zitadel.IsNotFound(err) {
			logger.Info("User to delete not found, nothing to do", map[string]any{"user": id.String()})
			return errSkipped
		}
		return fmt.Errorf("remove user: %w", err)
	}

	logger.Info("Deleted user", map[string]any{"user": id.String(), "user_id": found.ID})
	return nil
}

func isInvalidPhone(err error, signature string) bool {
	return zitadel.IsInvalidArgument(err) && strings.Contains(err.Error(), signature)
}

// withState prefixes the log fields of u.
func withState(u user.User, prefix string) map[string]any {
	fields := make(map[string]any)
	for k, v := range u.LogFields() {
		fields[prefix+"_"+k] = v
	}
	return fields
}
