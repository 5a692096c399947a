package app

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
)

var ErrUnknownSession = errors.New("unknown session")

// Relay is the signaling relay: it mutates room membership and forwards
// negotiation payloads between co-located members. It never inspects them.
type Relay struct {
	Registry *Registry
	Rooms    *core.RoomManager
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewRelay(reg *Registry, rooms *core.RoomManager, policy Policy, m *metrics.Metrics) *Relay {
	return &Relay{Registry: reg, Rooms: rooms, Policy: policy, Metrics: m}
}

// Connect registers a fresh signaling connection that is not in a room yet.
func (r *Relay) Connect(sid domain.MemberID, conn core.SignalConnection, cancel func(), client string) {
	r.Registry.Bind(sid, conn, cancel, client)
	r.Metrics.ConnectionOpened()
}

// Join adds sid to name. Joining the room it is already in is a no-op;
// joining another room moves it there.
func (r *Relay) Join(sid domain.MemberID, name domain.RoomName) error {
	conn, ok := r.Registry.Conn(sid)
	if !ok {
		return ErrUnknownSession
	}
	if cur, ok := r.Registry.RoomOf(sid); ok {
		if cur == name {
			log.Debug().Str("module", "app.relay").Str("sid", string(sid)).Str("room", string(name)).Msg("already joined")
			return nil
		}
		log.Info().Str("module", "app.relay").Str("sid", string(sid)).Str("from_room", string(cur)).Str("room", string(name)).Msg("moving to another room")
		r.Leave(sid)
	}

	notice := encode(protocol.UserJoined(sid))
	greet := func(existing []domain.MemberID) core.Frame {
		return encode(protocol.Peers(existing))
	}
	for {
		room := r.Rooms.GetOrCreate(name)
		res, err := room.Join(sid, conn, greet, notice)
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if errors.Is(err, core.ErrAlreadyMember) {
			return nil
		}
		r.Registry.UpdateRoom(sid, name)
		r.Metrics.MemberJoined()
		r.Metrics.SetRooms(r.Rooms.Count())
		r.handleDropped(name, res)
		return nil
	}
}

// Signal forwards data from one member to another in the same room. A missing
// or departed addressee is not an error; the message is dropped.
func (r *Relay) Signal(from, to domain.MemberID, roomHint domain.RoomName, data json.RawMessage) bool {
	cur, ok := r.Registry.RoomOf(from)
	if !ok || (roomHint != "" && roomHint != cur) {
		r.Metrics.Dropped(metrics.DropNotColocated, 1)
		return false
	}
	room, ok := r.Rooms.Get(cur)
	if !ok {
		r.Metrics.Dropped(metrics.DropNotColocated, 1)
		return false
	}

	res, err := room.SendTo(from, to, encode(protocol.Forward(from, data)))
	switch {
	case errors.Is(err, core.ErrUnknownTarget):
		log.Debug().Str("module", "app.relay").Str("from", string(from)).Str("to", string(to)).Msg("signal target gone, dropped")
		r.Metrics.Dropped(metrics.DropUnknownTarget, 1)
		return false
	case err != nil:
		r.Metrics.Dropped(metrics.DropNotColocated, 1)
		return false
	}
	r.handleDropped(cur, res)
	if res.SendTo == 0 {
		return false
	}
	r.Metrics.SignalRelayed()
	return true
}

// Leave removes sid from its room without closing the connection.
func (r *Relay) Leave(sid domain.MemberID) bool {
	name, ok := r.Registry.RemoveRoom(sid)
	if !ok {
		return false
	}
	r.leaveRoom(sid, name)
	return true
}

// Disconnect is called once the connection is gone. Idempotent.
func (r *Relay) Disconnect(sid domain.MemberID) {
	name, bound := r.Registry.Unbind(sid)
	if !bound {
		return
	}
	r.Metrics.ConnectionClosed()
	if name != "" {
		r.leaveRoom(sid, name)
	}
}

func (r *Relay) leaveRoom(sid domain.MemberID, name domain.RoomName) {
	room, ok := r.Rooms.Get(name)
	if !ok {
		return
	}
	res, err := room.Leave(sid, encode(protocol.UserLeft(sid)))
	if err != nil {
		return
	}
	r.Metrics.MemberLeft()
	if r.Rooms.Prune(name) {
		r.Metrics.SetRooms(r.Rooms.Count())
	}
	r.handleDropped(name, res)
}

// handleDropped runs outside any room lock: kicking ends up in Disconnect,
// which takes the room lock again.
func (r *Relay) handleDropped(name domain.RoomName, res core.PublishResult) {
	r.Metrics.Dropped(metrics.DropBackpressure, len(res.Dropped))
	if r.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(name, slow) {
		case KickMember:
			log.Warn().Str("module", "app.relay").Str("sid", string(slow)).Str("room", string(name)).Msg("kicking slow member")
			r.Registry.Cancel(slow)
		case NoAction:
		}
	}
}

func encode(m protocol.Message) core.Frame {
	b, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("type", string(m.Type)).Msg("encode")
		return nil
	}
	return b
}
