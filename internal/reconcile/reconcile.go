// Package reconcile converges the identity provider with the users reported
// by the configured sources.
//
// A pass asks every source for its diff, classifies the diff into operation
// buckets and applies each bucket item by item. Failures of one item or one
// source are logged and never stop the rest of the pass.
package reconcile

import (
	"context"
	"errors"

	"github.com/isometry/ldap-sync/internal/user"
	"github.com/isometry/ldap-sync/internal/zitadel"
)

// UserRole is the project role granted to every created user.
const UserRole = "User"

// ErrUserNotFound is returned when the provider has no user matching an
// update or delete target.
var ErrUserNotFound = errors.New("user not found")

// Source produces the changes of one sync pass.
type Source interface {
	Name() string
	GetDiff(ctx context.Context) (user.SourceDiff, error)
}

// Directory is the identity provider surface the engine mutates.
// *zitadel.Client implements it.
type Directory interface {
	CreateHumanUser(ctx context.Context, org string, req zitadel.ImportHumanUserRequest) (string, error)
	UpdateHumanUserName(ctx context.Context, org, id, userName string) error
	UpdateHumanProfile(ctx context.Context, org, id string, profile zitadel.Profile) error
	UpdateHumanEmail(ctx context.Context, org, id string, email zitadel.Email) error
	UpdateHumanPhone(ctx context.Context, org, id string, phone zitadel.Phone) error
	RemoveHumanPhone(ctx context.Context, org, id string) error
	SetUserMetadata(ctx context.Context, org, id, key string, value []byte) error
	AddUserGrant(ctx context.Context, org, id, project string, roles []string) error
	GetUserByLoginName(ctx context.Context, loginName string) (*zitadel.User, error)
	GetUserByNickName(ctx context.Context, org, nickName string) (*zitadel.User, error)
	RemoveUser(ctx context.Context, id string) error
}

var _ Directory = (*zitadel.Client)(nil)

// Features are the boolean toggles of a pass.
type Features struct {
	DryRun                   bool
	DeactivateOnly           bool
	RequireEmailVerification bool
	RequirePhoneVerification bool
	SSOLogin                 bool
}
