package status

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ApplyOutcome reports how an application resolved.
type ApplyOutcome int

const (
	// OutcomeApplied means a new instance was stored.
	OutcomeApplied ApplyOutcome = iota
	// OutcomeStacked means an existing instance gained stacks.
	OutcomeStacked
	// OutcomeRefreshed means an existing instance's expiry was refreshed.
	OutcomeRefreshed
	// OutcomeReplaced means an existing instance was overwritten.
	OutcomeReplaced
	// OutcomeDenied means the policy rejected the application
	// (status_already_present).
	OutcomeDenied
)

// Set tracks all status effects on one entity. It is not safe for
// concurrent use; the tick loop serialises access.
type Set struct {
	effects map[string]*Effect // instance id → effect
}

// NewSet creates an empty effect Set.
func NewSet() *Set {
	return &Set{effects: make(map[string]*Effect)}
}

// Apply adds eff to the set under its stacking policy.
//
// Precondition: eff must be non-nil with a non-empty SourceID.
// Postcondition: the set reflects the policy's outcome; eff.ID is assigned
// when the instance is stored and was empty.
func (s *Set) Apply(eff *Effect, now time.Time) ApplyOutcome {
	s.expire(now)

	if eff.Stacks < 1 {
		eff.Stacks = 1
	}
	existing := s.findGroup(eff)

	if existing == nil {
		if eff.ID == "" {
			eff.ID = uuid.New().String()
		}
		if eff.Hot != nil && eff.Hot.NextTickAt.IsZero() {
			eff.Hot.NextTickAt = now.Add(eff.Hot.TickInterval)
		}
		if eff.Dot != nil && eff.Dot.NextTickAt.IsZero() {
			eff.Dot.NextTickAt = now.Add(eff.Dot.TickInterval)
		}
		s.effects[eff.ID] = eff
		return OutcomeApplied
	}

	switch eff.Policy {
	case StackLegacyAdd:
		existing.Stacks = clampStacks(existing.Stacks+eff.Stacks, existing.MaxStacks)
		if eff.ExpiresAt.After(existing.ExpiresAt) {
			existing.ExpiresAt = eff.ExpiresAt
		}
		return OutcomeStacked
	case StackRefresh:
		existing.ExpiresAt = eff.ExpiresAt
		return OutcomeRefreshed
	case StackOverwrite:
		delete(s.effects, existing.ID)
		eff.ID = existing.ID
		s.effects[eff.ID] = eff
		return OutcomeReplaced
	case StackDenyIfPresent:
		return OutcomeDenied
	case StackAdd:
		existing.Stacks = clampStacks(existing.Stacks+eff.Stacks, existing.MaxStacks)
		existing.ExpiresAt = eff.ExpiresAt
		return OutcomeStacked
	case StackVersionedByApplier:
		// One instance per applier: same applier refreshes in place.
		delete(s.effects, existing.ID)
		eff.ID = existing.ID
		s.effects[eff.ID] = eff
		return OutcomeReplaced
	default:
		return OutcomeDenied
	}
}

// findGroup locates the existing instance eff would stack with.
func (s *Set) findGroup(eff *Effect) *Effect {
	for _, e := range s.effects {
		if e.group() != eff.group() {
			continue
		}
		if eff.Policy == StackVersionedByApplier {
			if e.AppliedByID == eff.AppliedByID && e.VersionKey == eff.VersionKey {
				return e
			}
			continue
		}
		return e
	}
	return nil
}

// Active returns all non-expired effects, ordered by instance id for
// deterministic iteration.
func (s *Set) Active(now time.Time) []*Effect {
	s.expire(now)
	out := make([]*Effect, 0, len(s.effects))
	for _, e := range s.effects {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasTag reports whether any active effect carries tag.
func (s *Set) HasTag(tag string, now time.Time) bool {
	for _, e := range s.Active(now) {
		if e.HasTag(tag) {
			return true
		}
	}
	return false
}

// ClearAll removes every effect.
func (s *Set) ClearAll() {
	s.effects = make(map[string]*Effect)
}

// ClearByTags removes all active effects carrying any of the given tags and
// returns the removed instances.
func (s *Set) ClearByTags(now time.Time, tags ...string) []*Effect {
	var removed []*Effect
	for _, e := range s.Active(now) {
		for _, tag := range tags {
			if e.HasTag(tag) {
				delete(s.effects, e.ID)
				removed = append(removed, e)
				break
			}
		}
	}
	return removed
}

// BreakOnDamage removes effects tagged break-on-damage (mez, sleep, incap)
// and returns them. Called by the combat pipeline when an entity takes a
// non-fatal hit.
func (s *Set) BreakOnDamage(now time.Time) []*Effect {
	return s.ClearByTags(now, "break-on-damage")
}

// Absorb consumes shield buckets against incoming damage of the given
// school. Buckets drain in descending priority order; a bucket with no
// schools matches all. Fully drained buckets are removed.
//
// Postcondition: absorbed + remaining == damage; absorbed >= 0.
func (s *Set) Absorb(damage int, school string, now time.Time) (absorbed, remaining int) {
	if damage <= 0 {
		return 0, damage
	}
	buckets := make([]*Effect, 0, 4)
	for _, e := range s.Active(now) {
		if e.Absorb != nil && e.Absorb.Remaining > 0 && e.Absorb.Matches(school) {
			buckets = append(buckets, e)
		}
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Absorb.Priority != buckets[j].Absorb.Priority {
			return buckets[i].Absorb.Priority > buckets[j].Absorb.Priority
		}
		return buckets[i].ID < buckets[j].ID
	})

	remaining = damage
	for _, e := range buckets {
		if remaining == 0 {
			break
		}
		take := e.Absorb.Remaining
		if take > remaining {
			take = remaining
		}
		e.Absorb.Remaining -= take
		absorbed += take
		remaining -= take
		if e.Absorb.Remaining == 0 {
			delete(s.effects, e.ID)
		}
	}
	return absorbed, remaining
}

// ThreatRedirect returns the active threat-transfer redirect with the
// highest pct, tie-broken by lexicographic instance id. ok is false when no
// redirect is active.
func (s *Set) ThreatRedirect(now time.Time) (toEntityID string, pct float64, ok bool) {
	for _, e := range s.Active(now) {
		m := e.Modifiers
		if m.ThreatTransferTo == "" || m.ThreatTransferPct <= 0 {
			continue
		}
		if !ok || m.ThreatTransferPct > pct {
			toEntityID, pct, ok = m.ThreatTransferTo, m.ThreatTransferPct, true
		}
	}
	if pct > 1 {
		pct = 1
	}
	return toEntityID, pct, ok
}

// Len returns the number of stored (possibly expired) instances.
func (s *Set) Len() int { return len(s.effects) }

// expire drops lapsed instances.
func (s *Set) expire(now time.Time) {
	for id, e := range s.effects {
		if e.Expired(now) {
			delete(s.effects, id)
		}
	}
}

func clampStacks(v, max int) int {
	if max <= 0 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}
