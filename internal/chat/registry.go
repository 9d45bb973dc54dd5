package chat

import (
	"sync"

	"github.com/cortexuvula/roomrelay/internal/identity"
)

// Membership is a connection's current room association.
type Membership struct {
	Identity string
	RoomID   string
}

// Registry tracks which connections belong to which room and owns the
// per-room membership index. Thread-safe via sync.RWMutex.
type Registry struct {
	mu      sync.RWMutex
	gen     *identity.Generator
	members map[string]Membership
	// rooms indexes connection ids by room for O(members) fan-out and
	// O(1) member counts.
	rooms map[string]map[string]struct{}
}

// NewRegistry creates an empty registry using gen for display names.
func NewRegistry(gen *identity.Generator) *Registry {
	return &Registry{
		gen:     gen,
		members: make(map[string]Membership),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Join allocates a fresh identity and records the association.
// If the connection was already joined, the prior membership is
// removed and returned so the caller can notify the old room.
func (r *Registry) Join(connID, roomID string) (Membership, *Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prior *Membership
	if old, ok := r.members[connID]; ok {
		p := old
		prior = &p
		r.removeLocked(connID, old.RoomID)
	}

	m := Membership{Identity: r.gen.Generate(), RoomID: roomID}
	r.members[connID] = m
	conns := r.rooms[roomID]
	if conns == nil {
		conns = make(map[string]struct{})
		r.rooms[roomID] = conns
	}
	conns[connID] = struct{}{}
	return m, prior
}

// Leave removes the association if present and returns the former
// membership for notification purposes.
func (r *Registry) Leave(connID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return Membership{}, false
	}
	r.removeLocked(connID, m.RoomID)
	return m, true
}

func (r *Registry) removeLocked(connID, roomID string) {
	delete(r.members, connID)
	if conns := r.rooms[roomID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Get returns the membership for a connection.
func (r *Registry) Get(connID string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[connID]
	return m, ok
}

// MemberCount returns the number of connections currently in a room.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Connections returns a snapshot of the connection ids in a room.
func (r *Registry) Connections(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.rooms[roomID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// CountsByRoom returns a snapshot of all non-zero room member counts.
func (r *Registry) CountsByRoom() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for roomID, conns := range r.rooms {
		out[roomID] = len(conns)
	}
	return out
}
