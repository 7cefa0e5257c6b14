// Package user holds the source-agnostic user model shared by every source
// adapter and the reconciliation engine, together with the attribute
// resolution and normalization rules that build it from raw records.
package user

import "fmt"

// User is the canonical representation of a directory user.
type User struct {
	FirstName         AttributeValue
	LastName          AttributeValue
	PreferredUsername AttributeValue
	Email             AttributeValue
	Phone             *AttributeValue
	ExternalUserID    AttributeValue
	Enabled           bool
}

// DisplayName returns "Last, First".
func (u User) DisplayName() string {
	return fmt.Sprintf("%s, %s", u.LastName, u.FirstName)
}

// String identifies the user in log output.
func (u User) String() string {
	return "email=" + u.Email.String()
}

// WithoutPhone returns a copy of u with the phone number removed.
func (u User) WithoutPhone() User {
	u.Phone = nil
	return u
}

// LogFields returns the user state as log fields.
func (u User) LogFields() map[string]any {
	fields := map[string]any{
		"first_name":         u.FirstName.String(),
		"last_name":          u.LastName.String(),
		"preferred_username": u.PreferredUsername.String(),
		"email":              u.Email.String(),
		"external_user_id":   u.ExternalUserID.String(),
		"enabled":            u.Enabled,
	}
	if u.Phone != nil {
		fields["phone"] = u.Phone.String()
	}
	return fields
}

// ChangedUser is one directory entry observed in two states.
type ChangedUser struct {
	Old User
	New User
}

// UserIDKind selects how a deletion target is looked up at the provider.
type UserIDKind int

const (
	// UserIDLogin identifies a user by login name (e-mail).
	UserIDLogin UserIDKind = iota
	// UserIDNick identifies a user by nick name (external id).
	UserIDNick
	// UserIDDirectory identifies a user by the provider's own id.
	UserIDDirectory
)

func (k UserIDKind) String() string {
	switch k {
	case UserIDLogin:
		return "login"
	case UserIDNick:
		return "nick"
	case UserIDDirectory:
		return "directory_id"
	default:
		return "unknown"
	}
}

// UserID identifies a user to delete.
type UserID struct {
	Kind  UserIDKind
	Value string
}

// LoginID identifies a user by login name.
func LoginID(login string) UserID {
	return UserID{Kind: UserIDLogin, Value: login}
}

// NickID identifies a user by nick name.
func NickID(nick string) UserID {
	return UserID{Kind: UserIDNick, Value: nick}
}

// DirectoryID identifies a user by provider id.
func DirectoryID(id string) UserID {
	return UserID{Kind: UserIDDirectory, Value: id}
}

func (id UserID) String() string {
	return id.Kind.String() + ":" + id.Value
}

// SourceDiff is the set of changes a source reports for one pass.
type SourceDiff struct {
	NewUsers       []User
	ChangedUsers   []ChangedUser
	DeletedUserIDs []UserID
}

// IsEmpty reports whether the diff carries no changes.
func (d SourceDiff) IsEmpty() bool {
	return len(d.NewUsers) == 0 && len(d.ChangedUsers) == 0 && len(d.DeletedUserIDs) == 0
}
