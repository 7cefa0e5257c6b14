package user

import "github.com/google/uuid"

// LinkNamespace is the UUIDv5 namespace for link ids. It must never change:
// link ids already stored at the provider are derived from it.
var LinkNamespace = uuid.MustParse("d9979cff-abee-4666-bc88-1ec45a843fb8")

// LinkID derives the deterministic link id (localpart) from the raw bytes of
// an external user id.
func LinkID(externalUserID AttributeValue) uuid.UUID {
	return uuid.NewSHA1(LinkNamespace, externalUserID.Bytes())
}

// LinkID returns the link id of u.
func (u User) LinkID() uuid.UUID {
	return LinkID(u.ExternalUserID)
}
