package npc

import (
	"time"

	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/threat"
)

// meleeRange is the same-room engagement distance in world units.
const meleeRange = 4.0

// EngageInput parameterises one target validity check.
type EngageInput struct {
	Now time.Time
	// Target is the candidate; nil fails with ReasonDead.
	Target *entity.Entity
	// AttackerRoomID is where the attacker stands.
	AttackerRoomID string
	// AllowCrossRoom permits out-of-room targets (pack assist, pursuit).
	AllowCrossRoom bool
}

// IsValidCombatTarget is the engage state law: the single place that decides
// whether a target may be attacked. Stealth is a hard block even when
// cross-room engagement is allowed.
//
// Postcondition: !ok implies Reason is one of stealth, out_of_room, dead,
// protected.
func IsValidCombatTarget(in EngageInput) threat.Validation {
	t := in.Target
	if t == nil || !t.Alive {
		return threat.Validation{Reason: threat.ReasonDead}
	}
	if t.Protected() {
		return threat.Validation{Reason: threat.ReasonProtected}
	}
	if t.Effects != nil && t.Effects.HasTag("stealth", in.Now) {
		return threat.Validation{Reason: threat.ReasonStealth}
	}
	if t.RoomID != in.AttackerRoomID && !in.AllowCrossRoom {
		return threat.Validation{Reason: threat.ReasonOutOfRoom}
	}
	return threat.Validation{OK: true}
}

// validatorFor builds the threat-table validate callback for one NPC.
func (m *Manager) validatorFor(npcEnt *entity.Entity, now time.Time, allowCrossRoom bool) func(string) threat.Validation {
	return func(targetID string) threat.Validation {
		target, _ := m.registry.Get(targetID)
		return IsValidCombatTarget(EngageInput{
			Now:            now,
			Target:         target,
			AttackerRoomID: npcEnt.RoomID,
			AllowCrossRoom: allowCrossRoom,
		})
	}
}
