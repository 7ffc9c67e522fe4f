package npc

import (
	"time"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/region"
)

// PlayerView is one player as seen by an NPC this tick.
type PlayerView struct {
	EntityID  string
	SessionID string
	Name      string
	HP        int
	MaxHP     int
	Alive     bool
	Role      character.CombatRole
	// CrimeSeverity is the player's unexpired crime grade.
	CrimeSeverity character.CrimeSeverity
	// DistanceXZ is the horizontal distance from the NPC.
	DistanceXZ float64
	Stealthed  bool
}

// Perception is the per-tick world snapshot handed to an NPC brain.
// It is rebuilt every tick and never retained.
type Perception struct {
	SelfID   string
	RoomID   string
	HP       int
	MaxHP    int
	Alive    bool
	Behavior Behavior
	Guard    GuardProfile
	// RoomIsSafeHub marks sanctuary tiles without an active breach.
	RoomIsSafeHub bool
	// Hostile is baseline hostility after the regional aggro-mode veto.
	Hostile bool
	Players []PlayerView
	// TargetID is the threat-selected combat target; empty when none.
	TargetID string
	// LastAggroAt and LastAttackerID come from the threat table.
	LastAggroAt    time.Time
	LastAttackerID string
}

// PlayerByEntityID returns the perceived player with the given entity id.
func (p *Perception) PlayerByEntityID(id string) (PlayerView, bool) {
	for _, pv := range p.Players {
		if pv.EntityID == id {
			return pv, true
		}
	}
	return PlayerView{}, false
}

// buildPerception assembles the snapshot for one NPC. The target must
// already be selected so brains observe a consistent view.
func (m *Manager) buildPerception(npcEnt *entity.Entity, proto *Prototype, rt *Runtime, flags region.Flags, targetID string, now time.Time) Perception {
	p := Perception{
		SelfID:         npcEnt.ID,
		RoomID:         npcEnt.RoomID,
		HP:             npcEnt.HP,
		MaxHP:          npcEnt.MaxHP,
		Alive:          npcEnt.Alive,
		Behavior:       proto.Behavior,
		Guard:          proto.Guard,
		Hostile:        proto.Hostile() && flags.NpcAggroMode != region.AggroRetaliateOnly,
		RoomIsSafeHub:  flags.Sanctuary && !m.sanctuary.BreachActive(npcEnt.RoomID, now),
		TargetID:       targetID,
		LastAggroAt:    rt.Threat.LastAggroAt,
		LastAttackerID: rt.Threat.LastAttackerID,
	}

	for _, e := range m.registry.InRoom(npcEnt.RoomID) {
		if e.Kind != entity.KindPlayer {
			continue
		}
		pv := PlayerView{
			EntityID:   e.ID,
			SessionID:  e.OwnerSessionID,
			Name:       e.Name,
			HP:         e.HP,
			MaxHP:      e.MaxHP,
			Alive:      e.Alive,
			Role:       character.RoleDPS,
			DistanceXZ: npcEnt.DistanceXZ(e.X, e.Z),
			Stealthed:  e.Effects != nil && e.Effects.HasTag("stealth", now),
		}
		if char := m.characterFor(e.OwnerSessionID); char != nil {
			pv.Role = char.Role()
			if char.HasRecentCrime(now, character.CrimeSevere) {
				pv.CrimeSeverity = character.CrimeSevere
			} else if char.HasRecentCrime(now, character.CrimeMinor) {
				pv.CrimeSeverity = character.CrimeMinor
			}
		}
		p.Players = append(p.Players, pv)
	}
	return p
}
