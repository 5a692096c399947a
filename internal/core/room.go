package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/domain"
)

var (
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
	ErrUnknownTarget = errors.New("target not in room")
	ErrRoomClosed    = errors.New("room closed")
)

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []domain.MemberID
}

func (p *PublishResult) add(sid domain.MemberID, conn SignalConnection, f Frame) {
	if err := conn.TrySend(f); err != nil {
		p.Dropped = append(p.Dropped, sid)
		return
	}
	p.SendTo++
}

// Room is one member set. Every mutation and every frame emitted on behalf of
// a mutation happens inside the room's lock, so all members observe the
// room's events in the same order. Frames are only enqueued, never written.
type Room struct {
	name domain.RoomName

	mu      sync.Mutex
	members map[domain.MemberID]SignalConnection
	closed  bool
}

func NewRoom(name domain.RoomName) *Room {
	return &Room{
		name:    name,
		members: make(map[domain.MemberID]SignalConnection),
	}
}

func (r *Room) Name() domain.RoomName { return r.name }

// Join adds sid, sends greet(existing members) to it and notice to everybody
// else. A closed room must be re-fetched from the manager.
func (r *Room) Join(
	sid domain.MemberID,
	conn SignalConnection,
	greet func(existing []domain.MemberID) Frame,
	notice Frame,
) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res PublishResult
	if r.closed {
		return res, ErrRoomClosed
	}
	if _, ok := r.members[sid]; ok {
		return res, ErrAlreadyMember
	}

	existing := r.sortedLocked()
	res.add(sid, conn, greet(existing))
	for _, other := range existing {
		res.add(other, r.members[other], notice)
	}
	r.members[sid] = conn
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member joined")
	return res, nil
}

// Leave removes sid and sends notice to the remaining members.
func (r *Room) Leave(sid domain.MemberID, notice Frame) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res PublishResult
	if _, ok := r.members[sid]; !ok {
		return res, ErrNotMember
	}
	delete(r.members, sid)
	for other, conn := range r.members {
		res.add(other, conn, notice)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member left")
	return res, nil
}

// SendTo delivers f to one member, provided the sender is co-located.
func (r *Room) SendTo(from, to domain.MemberID, f Frame) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res PublishResult
	if _, ok := r.members[from]; !ok {
		return res, ErrNotMember
	}
	conn, ok := r.members[to]
	if !ok || to == from {
		return res, ErrUnknownTarget
	}
	res.add(to, conn, f)
	return res, nil
}

func (r *Room) Members() []domain.MemberID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// closeIfEmpty marks an empty room closed so late joiners re-create it.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) sortedLocked() []domain.MemberID {
	out := make([]domain.MemberID, 0, len(r.members))
	for sid := range r.members {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
