package entity

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/status"
)

// Registry tracks all live entities by id, with room and owner indexes.
// All methods are safe for concurrent use; gameplay mutation happens only
// from the tick loop and session join/leave handlers.
//
// Invariant: the room index and entity records always agree on RoomID.
// Invariant: at most one player entity exists per session.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Entity
	byRoom  map[string]map[string]bool // roomID → entity ids
	byOwner map[string]map[string]bool // ownerSessionID → entity ids
	counter atomic.Uint64
	log     *zap.Logger
	debug   bool
}

// NewRegistry creates an empty Registry.
//
// Precondition: log must be non-nil.
func NewRegistry(log *zap.Logger, debugEntity bool) *Registry {
	return &Registry{
		byID:    make(map[string]*Entity),
		byRoom:  make(map[string]map[string]bool),
		byOwner: make(map[string]map[string]bool),
		log:     log,
		debug:   debugEntity,
	}
}

// CreatePlayerForSession creates (or rebinds) the player body for sessionID
// in roomID. Idempotent per session: an existing owned entity is rewritten
// back to a player body: kind reset, ownership re-established, stray
// spawn-point and prototype fields cleared.
//
// Postcondition: exactly one player entity owned by sessionID exists.
func (r *Registry) CreatePlayerForSession(sessionID, roomID string) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.byOwner[sessionID] {
		e := r.byID[id]
		if e == nil || e.Kind == KindNode {
			continue
		}
		if e.Kind != KindPlayer {
			// InvariantViolation: an owned non-player body; rebind it.
			r.log.Error("rebinding mistyped player entity",
				zap.String("entity_id", e.ID),
				zap.String("kind", string(e.Kind)),
				zap.String("session_id", sessionID),
			)
		}
		e.Kind = KindPlayer
		e.OwnerSessionID = sessionID
		e.ProtoID = ""
		e.SpawnPointID = 0
		e.SpawnID = ""
		r.moveLocked(e, roomID)
		return e
	}

	e := r.newEntityLocked(KindPlayer, roomID)
	e.OwnerSessionID = sessionID
	e.Alive = true
	r.indexOwnerLocked(e)
	return e
}

// CreateNpcEntity creates an NPC entity in roomID with the given model.
func (r *Registry) CreateNpcEntity(roomID, model string) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.newEntityLocked(KindNPC, roomID)
	e.Model = model
	e.Alive = true
	return e
}

// CreatePet creates a pet entity owned by ownerEntityID.
func (r *Registry) CreatePet(roomID, model, ownerEntityID string) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.newEntityLocked(KindPet, roomID)
	e.Model = model
	e.OwnerEntityID = ownerEntityID
	e.Alive = true
	return e
}

// CreateNode creates a personal resource node owned by ownerSessionID.
func (r *Registry) CreateNode(roomID, model, ownerSessionID string) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.newEntityLocked(KindNode, roomID)
	e.Model = model
	e.OwnerSessionID = ownerSessionID
	e.Alive = true
	r.indexOwnerLocked(e)
	return e
}

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// ByOwner returns a snapshot of entities owned by sessionID.
func (r *Registry) ByOwner(sessionID string) []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byOwner[sessionID]
	out := make([]*Entity, 0, len(ids))
	for id := range ids {
		if e, ok := r.byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// PlayerForSession returns the player body owned by sessionID.
func (r *Registry) PlayerForSession(sessionID string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byOwner[sessionID] {
		if e, ok := r.byID[id]; ok && e.Kind == KindPlayer {
			return e, true
		}
	}
	return nil, false
}

// InRoom returns a snapshot of all entities in roomID.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (r *Registry) InRoom(roomID string) []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byRoom[roomID]
	out := make([]*Entity, 0, len(ids))
	for id := range ids {
		if e, ok := r.byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// SetPosition updates the entity's pose. Non-finite coordinates are a
// ConfigFault: rejected with a warning, no mutation.
func (r *Registry) SetPosition(id string, x, y, z float64) error {
	if !finite(x) || !finite(y) || !finite(z) {
		r.log.Warn("rejecting non-finite position",
			zap.String("entity_id", id),
			zap.Float64("x", x), zap.Float64("y", y), zap.Float64("z", z),
		)
		return fmt.Errorf("entity %q: non-finite position", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("entity %q not found", id)
	}
	e.X, e.Y, e.Z = x, y, z
	return nil
}

// MoveToRoom relocates the entity to newRoomID, keeping both indexes
// consistent. Moving to the current room is a no-op.
func (r *Registry) MoveToRoom(id, newRoomID string) error {
	if newRoomID == "" {
		return fmt.Errorf("entity.Registry.MoveToRoom: newRoomID must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("entity %q not found", id)
	}
	if e.RoomID == newRoomID {
		return nil
	}
	r.moveLocked(e, newRoomID)
	return nil
}

// RemoveEntity deletes the entity from all indexes. It does not broadcast;
// callers own despawn fanout.
func (r *Registry) RemoveEntity(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("entity %q not found", id)
	}
	r.unindexRoomLocked(e)
	if e.OwnerSessionID != "" {
		if set, ok := r.byOwner[e.OwnerSessionID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byOwner, e.OwnerSessionID)
			}
		}
	}
	delete(r.byID, id)
	if r.debug {
		r.log.Debug("entity removed", zap.String("entity_id", id), zap.String("kind", string(e.Kind)))
	}
	return nil
}

// All returns a snapshot of every live entity.
func (r *Registry) All() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

// Count returns the number of live entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) newEntityLocked(kind Kind, roomID string) *Entity {
	n := r.counter.Add(1)
	e := &Entity{
		ID:        fmt.Sprintf("e%d", n),
		Kind:      kind,
		RoomID:    roomID,
		Alive:     true,
		Effects:   status.NewSet(),
		CreatedAt: time.Now(),
	}
	r.byID[e.ID] = e
	r.indexRoomLocked(e)
	if r.debug {
		r.log.Debug("entity created",
			zap.String("entity_id", e.ID),
			zap.String("kind", string(kind)),
			zap.String("room_id", roomID),
		)
	}
	return e
}

func (r *Registry) moveLocked(e *Entity, newRoomID string) {
	r.unindexRoomLocked(e)
	e.RoomID = newRoomID
	r.indexRoomLocked(e)
}

func (r *Registry) indexRoomLocked(e *Entity) {
	if r.byRoom[e.RoomID] == nil {
		r.byRoom[e.RoomID] = make(map[string]bool)
	}
	r.byRoom[e.RoomID][e.ID] = true
}

func (r *Registry) unindexRoomLocked(e *Entity) {
	if set, ok := r.byRoom[e.RoomID]; ok {
		delete(set, e.ID)
		if len(set) == 0 {
			delete(r.byRoom, e.RoomID)
		}
	}
}

func (r *Registry) indexOwnerLocked(e *Entity) {
	if r.byOwner[e.OwnerSessionID] == nil {
		r.byOwner[e.OwnerSessionID] = make(map[string]bool)
	}
	r.byOwner[e.OwnerSessionID][e.ID] = true
}

func finite(v float64) bool {
	return v == v && v < 1e18 && v > -1e18
}
