// Package threat provides per-NPC threat accounting: damage and heal
// credit, taunt (forced target) semantics, role-aware decay, and
// deterministic target selection.
//
// All operations mutate a State owned by the NPC manager and keyed by
// entity id; nothing here touches entities or rooms directly.
package threat

import (
	"math"
	"sort"
	"time"

	"github.com/piratewind/worldcore/internal/game/character"
)

// State is one NPC's threat table.
//
// Invariant: every stored threat value is > 0; LastAttackerID is either
// empty or a key of Threat.
type State struct {
	// Threat maps target entity id to accumulated threat.
	Threat map[string]float64
	// LastAttackerID is the most recent damaging entity.
	LastAttackerID string
	// LastAggroAt is when threat last increased from damage.
	LastAggroAt time.Time
	// ForcedTargetID overrides selection until ForcedUntil (taunt).
	ForcedTargetID string
	ForcedUntil    time.Time
	// LastTauntAt is when the current forced target was set.
	LastTauntAt time.Time
	// lastDecayAt makes Decay idempotent at a fixed now.
	lastDecayAt time.Time
}

// NewState creates an empty threat table.
func NewState() *State {
	return &State{Threat: make(map[string]float64)}
}

// Empty reports whether the table holds no threat.
func (s *State) Empty() bool {
	return len(s.Threat) == 0
}

// Value returns the threat held toward targetID.
func (s *State) Value(targetID string) float64 {
	return s.Threat[targetID]
}

// LastAttacker returns the most recent damaging entity id.
func (s *State) LastAttacker() string {
	return s.LastAttackerID
}

// Redirect describes an active threat-transfer effect on an attacker.
type Redirect struct {
	// ToEntityID receives the redirected share.
	ToEntityID string
	// Pct is the redirected share in [0, 1].
	Pct float64
}

// RecordDamage adds threat for a damage event. At least 1 threat is always
// credited. When redirect is non-nil, pct·amount goes to the redirect
// target (without touching LastAttackerID) and the rest to the attacker.
//
// Postcondition: LastAttackerID == attackerID; LastAggroAt == now; the
// table reflects the full event including the transfer.
func (s *State) RecordDamage(attackerID string, amount float64, now time.Time, redirect *Redirect) {
	if attackerID == "" {
		return
	}
	if amount < 1 {
		amount = 1
	}
	if redirect != nil && redirect.ToEntityID != "" && redirect.Pct > 0 {
		pct := redirect.Pct
		if pct > 1 {
			pct = 1
		}
		s.add(redirect.ToEntityID, amount*pct)
		s.add(attackerID, amount*(1-pct))
	} else {
		s.add(attackerID, amount)
	}
	s.LastAttackerID = attackerID
	s.LastAggroAt = now
}

// AddOptions modulates Add.
type AddOptions struct {
	// SetLastAttacker rewrites LastAttackerID to LastAttackerID below.
	SetLastAttacker bool
	LastAttackerID  string
}

// Add credits delta threat onto targetID without necessarily rewriting the
// last attacker. Used by healing credit and pack-assist seeding. Negative
// deltas reduce threat; entries at or below zero are removed.
func (s *State) Add(targetID string, delta float64, now time.Time, opts AddOptions) {
	if targetID == "" || delta == 0 {
		return
	}
	s.add(targetID, delta)
	if opts.SetLastAttacker {
		s.LastAttackerID = opts.LastAttackerID
		s.LastAggroAt = now
	}
}

// TauntOptions parameterises ApplyTaunt.
type TauntOptions struct {
	Duration    time.Duration
	ThreatBoost float64
	Now         time.Time
	// ImmunityWindow rejects a forced-target change from a different
	// taunter within this span of the previous taunt. 0 disables.
	ImmunityWindow time.Duration
}

// ApplyTaunt forces the NPC's target onto taunterID for the duration.
// Re-taunts from the same entity always land; a different taunter inside
// the immunity window is rejected (the threat boost still applies).
//
// Postcondition: Returns true when the forced target was set.
func (s *State) ApplyTaunt(taunterID string, opts TauntOptions) bool {
	if taunterID == "" {
		return false
	}
	if opts.ThreatBoost > 0 {
		s.add(taunterID, opts.ThreatBoost)
	}
	if opts.ImmunityWindow > 0 && s.ForcedTargetID != "" && s.ForcedTargetID != taunterID {
		if opts.Now.Sub(s.LastTauntAt) < opts.ImmunityWindow {
			return false
		}
	}
	s.ForcedTargetID = taunterID
	s.ForcedUntil = opts.Now.Add(opts.Duration)
	s.LastTauntAt = opts.Now
	return true
}

// ValidationReason explains why a target is invalid.
type ValidationReason string

const (
	ReasonOK        ValidationReason = ""
	ReasonStealth   ValidationReason = "stealth"
	ReasonOutOfRoom ValidationReason = "out_of_room"
	ReasonDead      ValidationReason = "dead"
	ReasonProtected ValidationReason = "protected"
)

// Validation is the result of checking one candidate target.
type Validation struct {
	OK     bool
	Reason ValidationReason
}

// DecayOptions parameterises Decay.
type DecayOptions struct {
	Now time.Time
	// HalfLife is the base threat half-life. Zero uses DefaultHalfLife.
	HalfLife time.Duration
	// RoleFor maps a target entity id to its combat role; nil treats all
	// targets as DPS.
	RoleFor func(entityID string) character.CombatRole
	// Validate checks target liveness; nil treats all targets as valid.
	Validate func(entityID string) Validation
}

// DefaultHalfLife is the base threat half-life used by Decay.
const DefaultHalfLife = 30 * time.Second

// Floor below which a decayed entry is dropped.
const decayFloor = 0.5

// Decay applies deterministic exponential decay to every entry since the
// previous Decay call. Tanks decay at half rate; out-of-room targets decay
// at double rate; stealthed or dead targets are removed outright.
//
// Idempotence: Decay(Decay(s, now), now) == Decay(s, now).
func (s *State) Decay(opts DecayOptions) {
	now := opts.Now
	if s.lastDecayAt.IsZero() {
		s.lastDecayAt = now
		return
	}
	elapsed := now.Sub(s.lastDecayAt)
	if elapsed <= 0 {
		return
	}
	s.lastDecayAt = now

	halfLife := opts.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	for id, v := range s.Threat {
		rateMult := 1.0
		if opts.Validate != nil {
			check := opts.Validate(id)
			switch check.Reason {
			case ReasonStealth, ReasonDead:
				s.remove(id)
				continue
			case ReasonOutOfRoom:
				rateMult *= 2
			}
		}
		if opts.RoleFor != nil && opts.RoleFor(id) == character.RoleTank {
			rateMult *= 0.5
		}
		factor := math.Pow(0.5, elapsed.Seconds()*rateMult/halfLife.Seconds())
		nv := v * factor
		if nv < decayFloor {
			s.remove(id)
		} else {
			s.Threat[id] = nv
		}
	}
}

// SelectTarget returns the current combat target: the unexpired, valid
// forced target when present, else the highest-threat valid entry with
// lexicographic id tie-break. Invalid entries are pruned; an expired forced
// target is cleared.
//
// Postcondition: Returns ("", false) when no valid target remains.
func (s *State) SelectTarget(now time.Time, validate func(entityID string) Validation) (string, bool) {
	if s.ForcedTargetID != "" {
		if now.After(s.ForcedUntil) {
			s.ForcedTargetID = ""
		} else if validate == nil {
			return s.ForcedTargetID, true
		} else {
			check := validate(s.ForcedTargetID)
			if check.OK {
				return s.ForcedTargetID, true
			}
			if check.Reason == ReasonDead || check.Reason == ReasonStealth {
				s.remove(s.ForcedTargetID)
				s.ForcedTargetID = ""
			}
			// Out-of-room forced targets stay forced but are skipped.
		}
	}

	ids := make([]string, 0, len(s.Threat))
	for id := range s.Threat {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestV := 0.0
	for _, id := range ids {
		if validate != nil {
			check := validate(id)
			if !check.OK {
				if check.Reason == ReasonDead || check.Reason == ReasonStealth {
					s.remove(id)
				}
				continue
			}
		}
		if v := s.Threat[id]; v > bestV {
			best, bestV = id, v
		}
	}
	return best, best != ""
}

// TopTarget returns the highest-threat entry without validation.
func (s *State) TopTarget() (string, bool) {
	ids := make([]string, 0, len(s.Threat))
	for id := range s.Threat {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best := ""
	bestV := 0.0
	for _, id := range ids {
		if v := s.Threat[id]; v > bestV {
			best, bestV = id, v
		}
	}
	return best, best != ""
}

// Clear wipes the table including any forced target.
func (s *State) Clear() {
	s.Threat = make(map[string]float64)
	s.LastAttackerID = ""
	s.ForcedTargetID = ""
}

func (s *State) add(id string, delta float64) {
	if s.Threat == nil {
		s.Threat = make(map[string]float64)
	}
	nv := s.Threat[id] + delta
	if nv <= 0 {
		s.remove(id)
		return
	}
	s.Threat[id] = nv
}

func (s *State) remove(id string) {
	delete(s.Threat, id)
	if s.LastAttackerID == id {
		s.LastAttackerID = ""
	}
}
