package reconcile

import "github.com/isometry/ldap-sync/internal/user"

// Buckets are the operations derived from one source diff.
type Buckets struct {
	Create  []user.User
	Disable []user.User
	Enable  []user.User
	Update  []user.ChangedUser
	Delete  []user.UserID
}

// Classify partitions diff by enabled-state transition. New users that
// start disabled and changed users that stay disabled produce no operation.
func Classify(diff user.SourceDiff) Buckets {
	var b Buckets

	for _, u := range diff.NewUsers {
		if u.Enabled {
			b.Create = append(b.Create, u)
		}
	}

	for _, c := range diff.ChangedUsers {
		switch {
		case c.Old.Enabled && !c.New.Enabled:
			b.Disable = append(b.Disable, c.New)
		case !c.Old.Enabled && c.New.Enabled:
			b.Enable = append(b.Enable, c.New)
		case c.New.Enabled:
			b.Update = append(b.Update, c)
		}
	}

	b.Delete = append(b.Delete, diff.DeletedUserIDs...)
	return b
}

// Len returns the number of operations in b.
func (b Buckets) Len() int {
	return len(b.Create) + len(b.Disable) + len(b.Enable) + len(b.Update) + len(b.Delete)
}
