// Package gameserver wires the simulation core to connected clients: the
// tick engine, the websocket gateway, room join/leave orchestration, and
// message handlers.
package gameserver

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/wire"
)

// WorldHandler owns the gameplay side of session membership: player body
// creation on world-room join, entity visibility, and room fanout. It is
// the production implementation of the manager hook seams.
type WorldHandler struct {
	registry *entity.Registry
	rooms    *room.Table
	sessions *session.Table
	log      *zap.Logger

	// OnWorldJoin, when set, runs after the player body enters a world
	// room. The composition root points it at personal node spawning.
	OnWorldJoin func(s *session.Session, roomID string)
}

// NewWorldHandler creates a WorldHandler.
//
// Precondition: all collaborators must be non-nil.
func NewWorldHandler(registry *entity.Registry, rooms *room.Table, sessions *session.Table, log *zap.Logger) *WorldHandler {
	return &WorldHandler{registry: registry, rooms: rooms, sessions: sessions, log: log}
}

// ViewOf projects an entity into its client-visible form.
func ViewOf(e *entity.Entity) wire.EntityView {
	return wire.EntityView{
		ID:      e.ID,
		Kind:    string(e.Kind),
		Name:    e.Name,
		Model:   e.Model,
		RoomID:  e.RoomID,
		X:       e.X,
		Y:       e.Y,
		Z:       e.Z,
		RotY:    e.RotY,
		HP:      e.HP,
		MaxHP:   e.MaxHP,
		Alive:   e.Alive,
		OwnerID: e.OwnerSessionID,
	}
}

// visibleTo applies the listing filter: other players always show, shared
// (ownerless) entities show, personally-owned entities show only to their
// owner.
func visibleTo(viewerSessionID string, e *entity.Entity) bool {
	if e.Kind == entity.KindPlayer {
		return true
	}
	if e.OwnerSessionID == "" {
		return true
	}
	return e.OwnerSessionID == viewerSessionID
}

// JoinRoom moves the session into roomID. Non-world rooms are membership
// only. World rooms create (or rebind) the player body, seed its pose from
// the attached character, send the filtered entity_list, and announce the
// spawn to the rest of the room.
func (w *WorldHandler) JoinRoom(s *session.Session, roomID string) {
	if s.RoomID == roomID && w.rooms.Contains(roomID, s.ID) {
		return
	}
	if s.RoomID != "" && s.RoomID != roomID {
		w.LeaveRoom(s, s.RoomID)
	}
	w.rooms.Add(roomID, s.ID)
	s.RoomID = roomID

	if err := w.sessions.Send(s.ID, wire.OpRoomJoined, wire.RoomJoinedPayload{RoomID: roomID}); err != nil {
		w.log.Debug("room_joined send failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	if !room.IsWorldRoomID(roomID) {
		return
	}

	e := w.registry.CreatePlayerForSession(s.ID, roomID)
	if char := s.Character; char != nil {
		e.Name = char.Name
		e.X, e.Y, e.Z, e.RotY = char.X, char.Y, char.Z, char.RotY
		e.MaxHP = char.MaxHP
		e.HP = char.CurrentHP
		if e.HP <= 0 {
			e.HP = char.MaxHP
		}
	} else if e.Name == "" {
		e.Name = s.Name
	}
	if e.MaxHP == 0 {
		e.MaxHP = 100
		e.HP = 100
	}

	views := []wire.EntityView{ViewOf(e)}
	others := w.registry.InRoom(roomID)
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })
	for _, other := range others {
		if other.ID == e.ID || !visibleTo(s.ID, other) {
			continue
		}
		views = append(views, ViewOf(other))
	}
	if err := w.sessions.Send(s.ID, wire.OpEntityList, wire.EntityListPayload{RoomID: roomID, Entities: views}); err != nil {
		w.log.Debug("entity_list send failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	w.BroadcastExcept(roomID, s.ID, wire.OpEntitySpawn, ViewOf(e))

	if w.OnWorldJoin != nil {
		w.OnWorldJoin(s, roomID)
	}
}

// LeaveRoom removes the session from roomID. World rooms despawn the
// session's personal entities (fanout included), then the player body.
func (w *WorldHandler) LeaveRoom(s *session.Session, roomID string) {
	w.rooms.Remove(roomID, s.ID)
	if s.RoomID == roomID {
		s.RoomID = ""
	}
	if err := w.sessions.Send(s.ID, wire.OpRoomLeft, wire.RoomLeftPayload{RoomID: roomID}); err != nil {
		w.log.Debug("room_left send failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	if !room.IsWorldRoomID(roomID) {
		return
	}
	for _, e := range w.registry.ByOwner(s.ID) {
		if e.RoomID != roomID {
			continue
		}
		w.DespawnEntity(e.ID)
	}
}

// DisconnectSession tears down all room state for a closing session.
func (w *WorldHandler) DisconnectSession(s *session.Session) {
	for _, roomID := range w.rooms.RemoveEverywhere(s.ID) {
		if !room.IsWorldRoomID(roomID) {
			continue
		}
		for _, e := range w.registry.ByOwner(s.ID) {
			if e.RoomID == roomID {
				w.DespawnEntity(e.ID)
			}
		}
	}
	s.RoomID = ""
}

// Broadcast sends op/payload to every member of roomID.
func (w *WorldHandler) Broadcast(roomID string, op wire.Opcode, payload any) {
	w.sessions.SendTo(w.rooms.Members(roomID), op, payload)
}

// BroadcastExcept sends op/payload to every member of roomID but one.
func (w *WorldHandler) BroadcastExcept(roomID, excludedSessionID string, op wire.Opcode, payload any) {
	w.sessions.SendTo(w.rooms.MembersExcept(roomID, excludedSessionID), op, payload)
}

// Say broadcasts a chat line to a room (manager Say hook).
func (w *WorldHandler) Say(roomID, speaker, text string) {
	w.Broadcast(roomID, wire.OpChat, wire.ChatPayload{From: speaker, Text: text})
}

// SayTo sends a chat line to one session.
func (w *WorldHandler) SayTo(sessionID, text string) {
	if err := w.sessions.Send(sessionID, wire.OpChat, wire.ChatPayload{Text: text}); err != nil {
		w.log.Debug("chat send failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// DespawnEntity removes the entity with despawn fanout. Ordering: the
// despawn message follows all prior updates about the entity, and nothing
// further references it.
func (w *WorldHandler) DespawnEntity(entityID string) {
	e, ok := w.registry.Get(entityID)
	if !ok {
		return
	}
	roomID := e.RoomID
	if err := w.registry.RemoveEntity(entityID); err != nil {
		w.log.Debug("entity removal failed", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	w.Broadcast(roomID, wire.OpEntityDespawn, wire.EntityDespawnPayload{ID: entityID})
}

// EntitySpawned fans out a spawn to the entity's room (spawn hook).
func (w *WorldHandler) EntitySpawned(e *entity.Entity) {
	if e.OwnerSessionID != "" && e.Kind != entity.KindPlayer {
		// Personal entities only ever show to their owner.
		if err := w.sessions.Send(e.OwnerSessionID, wire.OpEntitySpawn, ViewOf(e)); err != nil {
			w.log.Debug("personal spawn send failed", zap.String("session_id", e.OwnerSessionID), zap.Error(err))
		}
		return
	}
	w.Broadcast(e.RoomID, wire.OpEntitySpawn, ViewOf(e))
}

// EntityDespawned fans out removal of a still-registered entity, then
// removes it (spawn/death hook).
func (w *WorldHandler) EntityDespawned(e *entity.Entity) {
	roomID := e.RoomID
	if err := w.registry.RemoveEntity(e.ID); err == nil {
		w.Broadcast(roomID, wire.OpEntityDespawn, wire.EntityDespawnPayload{ID: e.ID})
	}
}

// EntityUpdated fans out a full-delta update to the entity's room.
func (w *WorldHandler) EntityUpdated(e *entity.Entity) {
	hp, maxHP := e.HP, e.MaxHP
	alive := e.Alive
	x, y, z, rotY := e.X, e.Y, e.Z, e.RotY
	w.Broadcast(e.RoomID, wire.OpEntityUpdate, wire.EntityUpdatePayload{
		ID: e.ID, HP: &hp, MaxHP: &maxHP, Alive: &alive,
		X: &x, Y: &y, Z: &z, RotY: &rotY,
	})
}

// EntityMoved fans out a room transition: despawn to the old room, spawn to
// the new one.
func (w *WorldHandler) EntityMoved(e *entity.Entity, fromRoomID string) {
	w.Broadcast(fromRoomID, wire.OpEntityDespawn, wire.EntityDespawnPayload{ID: e.ID})
	w.EntitySpawned(e)
}

// CharacterForSession resolves the character attached to a session
// (manager CharacterFor hook).
func (w *WorldHandler) CharacterForSession(sessionID string) *character.Character {
	s, ok := w.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return s.Character
}

// ReapIdle disconnects sessions idle past the cutoff.
func (w *WorldHandler) ReapIdle(cutoff time.Time) int {
	reaped := 0
	for _, id := range w.sessions.IdleSince(cutoff) {
		s, err := w.sessions.Remove(id)
		if err != nil {
			continue
		}
		w.DisconnectSession(s)
		reaped++
		w.log.Info("idle session reaped", zap.String("session_id", id))
	}
	return reaped
}
