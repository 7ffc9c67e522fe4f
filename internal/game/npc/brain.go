package npc

import (
	"sync"
	"time"

	"github.com/piratewind/worldcore/internal/game/character"
)

// DecisionKind discriminates the brain decision union.
type DecisionKind string

const (
	DecideAttackEntity DecisionKind = "attack_entity"
	DecideFlee         DecisionKind = "flee"
	DecideSay          DecisionKind = "say"
	DecideMoveToRoom   DecisionKind = "move_to_room"
	DecideIdle         DecisionKind = "idle"
)

// Decision is one brain output. Exactly the fields for its kind are set:
// AttackEntity carries TargetEntityID, Say carries Text, MoveToRoom carries
// RoomID; Flee and Idle carry nothing.
type Decision struct {
	Kind           DecisionKind
	TargetEntityID string
	Text           string
	RoomID         string
}

// Brain decides an NPC's action from its perception. Implementations must
// not retain the perception past the call.
type Brain interface {
	Decide(p Perception, dt time.Duration) (Decision, bool)
}

// BrainFunc adapts a function to the Brain interface.
type BrainFunc func(p Perception, dt time.Duration) (Decision, bool)

// Decide calls f.
func (f BrainFunc) Decide(p Perception, dt time.Duration) (Decision, bool) {
	return f(p, dt)
}

// Registry maps brain names to implementations. Prototype brain scripts
// resolve here first; unknown names fall back to the behavior default.
type Registry struct {
	mu     sync.RWMutex
	brains map[string]Brain
}

// NewRegistry creates a brain registry preloaded with the built-in
// behavior brains.
func NewRegistry() *Registry {
	r := &Registry{brains: make(map[string]Brain)}
	r.Register("aggressive", BrainFunc(aggressiveBrain))
	r.Register("guard", BrainFunc(guardBrain))
	r.Register("coward", BrainFunc(cowardBrain))
	r.Register("passive", BrainFunc(passiveBrain))
	return r
}

// Register stores a brain under name, replacing any existing entry.
func (r *Registry) Register(name string, b Brain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brains[name] = b
}

// Get returns the brain registered under name.
func (r *Registry) Get(name string) (Brain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brains[name]
	return b, ok
}

// ForPrototype resolves the brain for a prototype: its script name when
// registered, else its behavior's built-in.
func (r *Registry) ForPrototype(p *Prototype) Brain {
	if p.BrainScript != "" {
		if b, ok := r.Get(p.BrainScript); ok {
			return b
		}
	}
	if b, ok := r.Get(string(p.Behavior)); ok {
		return b
	}
	return BrainFunc(passiveBrain)
}

// aggressiveBrain attacks its threat target when present in the room,
// otherwise picks the nearest eligible player in an aggro-enabled room.
func aggressiveBrain(p Perception, _ time.Duration) (Decision, bool) {
	if !p.Alive {
		return Decision{}, false
	}
	if p.TargetID != "" {
		if _, inRoom := p.PlayerByEntityID(p.TargetID); inRoom {
			return Decision{Kind: DecideAttackEntity, TargetEntityID: p.TargetID}, true
		}
	}
	if !p.Hostile || p.RoomIsSafeHub {
		return Decision{Kind: DecideIdle}, true
	}
	if pv, ok := nearestEligible(p); ok {
		return Decision{Kind: DecideAttackEntity, TargetEntityID: pv.EntityID}, true
	}
	return Decision{Kind: DecideIdle}, true
}

// guardBrain prioritises criminals: severe crime first, then its threat
// target. Guards never aggro clean players.
func guardBrain(p Perception, _ time.Duration) (Decision, bool) {
	if !p.Alive {
		return Decision{}, false
	}
	if pv, ok := worstCriminal(p); ok {
		return Decision{Kind: DecideAttackEntity, TargetEntityID: pv.EntityID}, true
	}
	if p.TargetID != "" {
		if _, inRoom := p.PlayerByEntityID(p.TargetID); inRoom {
			return Decision{Kind: DecideAttackEntity, TargetEntityID: p.TargetID}, true
		}
	}
	return Decision{Kind: DecideIdle}, true
}

// cowardBrain flees the moment it has been hurt or engaged.
func cowardBrain(p Perception, _ time.Duration) (Decision, bool) {
	if !p.Alive {
		return Decision{}, false
	}
	if p.HP < p.MaxHP || p.TargetID != "" || p.LastAttackerID != "" {
		return Decision{Kind: DecideFlee}, true
	}
	return Decision{Kind: DecideIdle}, true
}

func passiveBrain(Perception, time.Duration) (Decision, bool) {
	return Decision{Kind: DecideIdle}, true
}

// nearestEligible returns the closest living, non-stealthed player.
func nearestEligible(p Perception) (PlayerView, bool) {
	best := PlayerView{}
	found := false
	for _, pv := range p.Players {
		if !pv.Alive || pv.Stealthed {
			continue
		}
		if !found || pv.DistanceXZ < best.DistanceXZ {
			best, found = pv, true
		}
	}
	return best, found
}

// worstCriminal returns the severe-crime player nearest to the guard.
func worstCriminal(p Perception) (PlayerView, bool) {
	best := PlayerView{}
	found := false
	for _, pv := range p.Players {
		if !pv.Alive || pv.Stealthed || pv.CrimeSeverity != character.CrimeSevere {
			continue
		}
		if !found || pv.DistanceXZ < best.DistanceXZ {
			best, found = pv, true
		}
	}
	return best, found
}
