package domain

import "github.com/google/uuid"

// MemberID identifies one signaling connection. It is assigned by the server
// and is unique per connection, so a reconnecting client gets a fresh one.
type MemberID string

func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// Less orders member ids; the lower id of a pair is the polite side during
// offer collisions.
func (id MemberID) Less(other MemberID) bool {
	return id < other
}
