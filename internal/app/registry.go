package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type sessionEntry struct {
	Room   domain.RoomName
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Client string
}

// Registry tracks every open signaling connection and the room it occupies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.MemberID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.MemberID]*sessionEntry)}
}

func (r *Registry) Bind(sid domain.MemberID, conn core.SignalConnection, cancel context.CancelFunc, client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel, Client: client}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("client", client).Msg("bound session")
}

// Unbind forgets sid and reports the room it was still in, if any. Only the
// first call for a given sid reports bound=true.
func (r *Registry) Unbind(sid domain.MemberID) (room domain.RoomName, bound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return e.Room, true
}

func (r *Registry) Conn(sid domain.MemberID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Client(sid domain.MemberID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Client
	}
	return ""
}

func (r *Registry) RoomOf(sid domain.MemberID) (domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) UpdateRoom(sid domain.MemberID, room domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Room = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("updated room")
	return true
}

// RemoveRoom clears the room association and returns the previous room.
func (r *Registry) RemoveRoom(sid domain.MemberID) (domain.RoomName, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" {
		return "", false
	}
	prev := e.Room
	e.Room = ""
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(prev)).Msg("removed room association")
	return prev, true
}

// Cancel stops the connection's pumps; the adapter then calls Disconnect.
func (r *Registry) Cancel(sid domain.MemberID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
