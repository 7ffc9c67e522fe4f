// Package status provides per-entity status effect storage: stacking
// policies, expiry, absorb shields, crowd-control break, and HOT/DOT
// descriptors.
package status

import "time"

// SourceKind identifies what produced an effect.
type SourceKind string

const (
	SourceSpell       SourceKind = "spell"
	SourceAbility     SourceKind = "ability"
	SourceItem        SourceKind = "item"
	SourceEnvironment SourceKind = "environment"
)

// StackPolicy determines how repeat applications of an effect combine.
type StackPolicy int

const (
	// StackLegacyAdd keeps one instance; stacks increment and clamp;
	// expiry extends to the later of existing and new.
	StackLegacyAdd StackPolicy = iota
	// StackRefresh keeps one instance; expiry refreshes; stacks unchanged.
	StackRefresh
	// StackOverwrite replaces the instance wholesale.
	StackOverwrite
	// StackDenyIfPresent rejects the application when present.
	StackDenyIfPresent
	// StackAdd keeps one instance; stacks increment and clamp; expiry refreshes.
	StackAdd
	// StackVersionedByApplier keys instances by (applier, version key);
	// at most one instance per applier.
	StackVersionedByApplier
)

// String returns the policy's wire name.
func (p StackPolicy) String() string {
	switch p {
	case StackLegacyAdd:
		return "legacy_add"
	case StackRefresh:
		return "refresh"
	case StackOverwrite:
		return "overwrite"
	case StackDenyIfPresent:
		return "deny_if_present"
	case StackAdd:
		return "stack_add"
	case StackVersionedByApplier:
		return "versioned_by_applier"
	default:
		return "unknown"
	}
}

// HotSpec describes a heal-over-time component.
type HotSpec struct {
	// TickInterval is the period between heal ticks.
	TickInterval time.Duration
	// PerTickHeal is the amount healed each tick.
	PerTickHeal int
	// NextTickAt is when the next tick is due; set on apply.
	NextTickAt time.Time
}

// DotSpec describes a damage-over-time component.
type DotSpec struct {
	TickInterval  time.Duration
	PerTickDamage int
	// School is the damage school used for absorb matching.
	School string
	// NextTickAt is when the next tick is due; set on apply.
	NextTickAt time.Time
}

// AbsorbSpec describes a damage-absorbing shield bucket.
type AbsorbSpec struct {
	// Remaining is the damage left in the bucket.
	Remaining int
	// Priority orders bucket consumption; higher drains first.
	Priority int
	// Schools restricts absorption to the named damage schools.
	// Empty means the bucket matches all schools.
	Schools map[string]bool
}

// Matches reports whether the bucket absorbs the given school.
func (a *AbsorbSpec) Matches(school string) bool {
	if len(a.Schools) == 0 {
		return true
	}
	return a.Schools[school]
}

// Modifiers influences game math while an effect is active.
type Modifiers struct {
	// ThreatTransferTo redirects a share of generated threat to another entity.
	ThreatTransferTo string
	// ThreatTransferPct is the redirected share in [0, 1].
	ThreatTransferPct float64
	// Values holds named numeric modifiers consumed by game math.
	Values map[string]float64
}

// Effect is one active status effect instance on an entity.
type Effect struct {
	// ID uniquely identifies this instance.
	ID string
	// Source is what kind of thing produced the effect.
	Source SourceKind
	// SourceID identifies the producing spell/ability/item. It is also the
	// default stacking group.
	SourceID string
	// AppliedByKind and AppliedByID attribute the effect for credit.
	AppliedByKind string
	AppliedByID   string
	// StackGroup overrides the stacking group; empty falls back to SourceID.
	StackGroup string
	// VersionKey distinguishes versioned_by_applier variants.
	VersionKey string
	// Policy is the stacking policy for repeat applications.
	Policy StackPolicy
	// Stacks is the current stack count; at least 1.
	Stacks int
	// MaxStacks caps stacking; 0 means unstackable (always 1).
	MaxStacks int
	// ExpiresAt is when the effect lapses.
	ExpiresAt time.Time
	// Tags label the effect ("fear", "break-on-damage", "stealth", ...).
	Tags map[string]bool
	// Modifiers influence game math while active.
	Modifiers Modifiers
	Hot       *HotSpec
	Dot       *DotSpec
	Absorb    *AbsorbSpec
}

// HasTag reports whether the effect carries the given tag.
func (e *Effect) HasTag(tag string) bool {
	return e.Tags[tag]
}

// Expired reports whether the effect has lapsed at now.
func (e *Effect) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// group returns the effective stacking group.
func (e *Effect) group() string {
	if e.StackGroup != "" {
		return e.StackGroup
	}
	return e.SourceID
}
