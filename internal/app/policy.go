package app

import "github.com/dkeye/Mesh/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomName, sid domain.MemberID) BackpressureAction
}

// SimplePolicy kicks slow members: a lost negotiation message leaves their
// peer links half-open anyway, and a reconnect recovers them.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, domain.MemberID) BackpressureAction {
	return KickMember
}
