package room

import "sync"

// Table tracks per-room session membership. All methods are safe for
// concurrent use. Join/leave gameplay semantics (spawning player bodies,
// entity_list, despawn fanout) live in the gameserver world handler; Table
// is membership and iteration only.
type Table struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool // roomID → set of session ids
}

// NewTable creates an empty room Table.
func NewTable() *Table {
	return &Table{rooms: make(map[string]map[string]bool)}
}

// Add puts sessionID into roomID's membership.
//
// Precondition: roomID and sessionID must be non-empty.
// Postcondition: Members(roomID) contains sessionID.
func (t *Table) Add(roomID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[string]bool)
	}
	t.rooms[roomID][sessionID] = true
}

// Remove deletes sessionID from roomID's membership. No-op if absent.
func (t *Table) Remove(roomID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.rooms[roomID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(t.rooms, roomID)
		}
	}
}

// RemoveEverywhere deletes sessionID from every room and returns the room
// ids it was removed from.
func (t *Table) RemoveEverywhere(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for roomID, set := range t.rooms {
		if set[sessionID] {
			delete(set, sessionID)
			removed = append(removed, roomID)
			if len(set) == 0 {
				delete(t.rooms, roomID)
			}
		}
	}
	return removed
}

// Contains reports whether sessionID is a member of roomID.
func (t *Table) Contains(roomID, sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[roomID][sessionID]
}

// Members returns a snapshot of session ids in roomID.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (t *Table) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.rooms[roomID]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MembersExcept returns a snapshot of session ids in roomID excluding one.
func (t *Table) MembersExcept(roomID, excludedSessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.rooms[roomID]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		if id != excludedSessionID {
			out = append(out, id)
		}
	}
	return out
}

// RoomIDs returns a snapshot of all rooms that currently have members.
func (t *Table) RoomIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the number of sessions in roomID.
func (t *Table) MemberCount(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID])
}
