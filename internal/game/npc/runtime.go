package npc

import (
	"time"

	"github.com/piratewind/worldcore/internal/game/threat"
)

// Runtime is the per-NPC mutable AI state, keyed by entity id and owned
// exclusively by the Manager. Lifetime never exceeds the entity's.
type Runtime struct {
	EntityID string
	// ProtoID is the stable prototype identity.
	ProtoID string
	// SpawnRoomID is the NPC's immutable home room.
	SpawnRoomID string
	// Threat is this NPC's threat table.
	Threat *threat.State
	// Fleeing is set once a coward commits to running; the entity despawns.
	Fleeing bool
	// TrainReturning walks the NPC home via the drift pass.
	TrainReturning bool
	// TrainMovedAt prevents double room moves within one tick.
	TrainMovedAt time.Time
	// PursuitStartedAt drives the pursue timeout; zero when idle.
	PursuitStartedAt time.Time
	// DriftHops counts drift-reaggro reacquisitions since going home.
	DriftHops int
	// LastAttackAt throttles synthesized attacks (800 ms fallback cooldown).
	LastAttackAt time.Time
	// LastTauntLineAt throttles flavor barks per line index.
	LastTauntLineAt map[int]time.Time
	// RewardsGranted makes the death pipeline idempotent per lifetime.
	RewardsGranted bool
	// LifecycleScheduled guards double corpse/respawn scheduling.
	LifecycleScheduled bool
}

// NewRuntime creates the runtime record for one NPC entity.
func NewRuntime(entityID, protoID string) *Runtime {
	return &Runtime{
		EntityID:        entityID,
		ProtoID:         protoID,
		Threat:          threat.NewState(),
		LastTauntLineAt: make(map[int]time.Time),
	}
}

// MovedThisTick reports whether the NPC already took a room step at now.
func (r *Runtime) MovedThisTick(now time.Time) bool {
	return r.TrainMovedAt.Equal(now)
}

// ClearPursuit resets chase bookkeeping after a disengage or kill.
func (r *Runtime) ClearPursuit() {
	r.PursuitStartedAt = time.Time{}
}
