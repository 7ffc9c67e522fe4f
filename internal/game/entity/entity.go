// Package entity provides the indexed store of live world entities.
package entity

import (
	"math"
	"time"

	"github.com/piratewind/worldcore/internal/game/status"
)

// Kind classifies an entity.
type Kind string

const (
	KindPlayer  Kind = "player"
	KindNPC     Kind = "npc"
	KindNode    Kind = "node"
	KindPet     Kind = "pet"
	KindObject  Kind = "object"
	KindMailbox Kind = "mailbox"
)

// Entity is one live world object. Optional fields are typed and zero-valued
// when absent; there is no dynamic attribute bag.
//
// Invariant: SpawnX/Y/Z are set at creation and never mutated by movement.
type Entity struct {
	// ID uniquely identifies this entity.
	ID string
	// Kind classifies the entity.
	Kind Kind
	// RoomID is the room the entity currently occupies.
	RoomID string
	// OwnerSessionID is set for player bodies and personal nodes.
	OwnerSessionID string
	// OwnerEntityID is set for pets.
	OwnerEntityID string

	// Mutable pose.
	X, Y, Z, RotY float64
	// Immutable spawn-home pose, captured at creation.
	SpawnX, SpawnY, SpawnZ float64

	HP    int
	MaxHP int
	Alive bool

	Name  string
	Model string

	// ProtoID is the stable prototype identity (quest/crime credit).
	ProtoID string
	// TemplateID is the resolved stat variant.
	TemplateID string
	VariantID  string
	// SpawnPointID links back to the spawn catalog record; 0 when unset.
	SpawnPointID int64
	// SpawnID is the spawn authority token ("anchor:...", "seed:...", ...).
	SpawnID  string
	RegionID string

	// Invulnerable entities ignore all damage.
	Invulnerable bool
	// ServiceProvider marks protected service NPCs (banker, mailbox).
	ServiceProvider bool

	// Effects is the entity's status effect store.
	Effects *status.Set

	// InCombatUntil marks recent combat participation.
	InCombatUntil time.Time

	CreatedAt time.Time
}

// Protected reports whether combat must not touch this entity.
func (e *Entity) Protected() bool {
	return e.Invulnerable || e.ServiceProvider
}

// DistanceXZ returns the horizontal distance to the given point.
func (e *Entity) DistanceXZ(x, z float64) float64 {
	dx := e.X - x
	dz := e.Z - z
	return math.Sqrt(dx*dx + dz*dz)
}

// DistanceFromSpawnXZ returns the horizontal distance from the spawn home.
func (e *Entity) DistanceFromSpawnXZ() float64 {
	return e.DistanceXZ(e.SpawnX, e.SpawnZ)
}

// InCombat reports whether the entity was tagged in-combat recently.
func (e *Entity) InCombat(now time.Time) bool {
	return e.InCombatUntil.After(now)
}

// MarkInCombat tags the entity as in-combat for the given window.
func (e *Entity) MarkInCombat(now time.Time, window time.Duration) {
	until := now.Add(window)
	if until.After(e.InCombatUntil) {
		e.InCombatUntil = until
	}
}
