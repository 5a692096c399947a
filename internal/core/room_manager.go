package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/domain"
)

// RoomManager maps room names to rooms. Rooms are created on first join and
// pruned lazily once empty.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomName]*Room)}
}

func (m *RoomManager) GetOrCreate(name domain.RoomName) *Room {
	m.mu.RLock()
	room, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[name]; ok {
		return room
	}
	room = NewRoom(name)
	m.rooms[name] = room
	log.Info().Str("module", "core.rooms").Str("room", string(name)).Msg("room created")
	return room
}

func (m *RoomManager) Get(name domain.RoomName) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[name]
	return room, ok
}

// Prune drops the room if it has no members left.
func (m *RoomManager) Prune(name domain.RoomName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[name]
	if !ok || !room.closeIfEmpty() {
		return false
	}
	delete(m.rooms, name)
	log.Info().Str("module", "core.rooms").Str("room", string(name)).Msg("room pruned")
	return true
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, domain.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
