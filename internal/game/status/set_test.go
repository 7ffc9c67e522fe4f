package status_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/piratewind/worldcore/internal/game/status"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func buff(sourceID string, policy status.StackPolicy, ttl time.Duration) *status.Effect {
	return &status.Effect{
		Source:    status.SourceSpell,
		SourceID:  sourceID,
		Policy:    policy,
		ExpiresAt: t0.Add(ttl),
	}
}

func TestApply_FirstApplicationStores(t *testing.T) {
	s := status.NewSet()
	eff := buff("regrowth", status.StackRefresh, time.Minute)

	got := s.Apply(eff, t0)
	assert.Equal(t, status.OutcomeApplied, got)
	assert.NotEmpty(t, eff.ID)
	assert.Equal(t, 1, eff.Stacks)
	assert.Len(t, s.Active(t0), 1)
}

func TestApply_RefreshExtendsExpiryOnly(t *testing.T) {
	s := status.NewSet()
	first := buff("regrowth", status.StackRefresh, time.Minute)
	first.Stacks = 3
	require.Equal(t, status.OutcomeApplied, s.Apply(first, t0))

	second := buff("regrowth", status.StackRefresh, 2*time.Minute)
	assert.Equal(t, status.OutcomeRefreshed, s.Apply(second, t0))

	active := s.Active(t0)
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].Stacks)
	assert.Equal(t, t0.Add(2*time.Minute), active[0].ExpiresAt)
}

func TestApply_StackAddClampsAndRefreshes(t *testing.T) {
	s := status.NewSet()
	first := buff("sunder", status.StackAdd, time.Minute)
	first.MaxStacks = 3
	require.Equal(t, status.OutcomeApplied, s.Apply(first, t0))

	for i := 0; i < 5; i++ {
		next := buff("sunder", status.StackAdd, time.Minute+time.Duration(i)*time.Second)
		next.MaxStacks = 3
		assert.Equal(t, status.OutcomeStacked, s.Apply(next, t0))
	}

	active := s.Active(t0)
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].Stacks)
	assert.Equal(t, t0.Add(time.Minute+4*time.Second), active[0].ExpiresAt)
}

func TestApply_LegacyAddKeepsLaterExpiry(t *testing.T) {
	s := status.NewSet()
	first := buff("venom", status.StackLegacyAdd, 2*time.Minute)
	first.MaxStacks = 5
	require.Equal(t, status.OutcomeApplied, s.Apply(first, t0))

	// A shorter re-application must not truncate the existing expiry.
	second := buff("venom", status.StackLegacyAdd, 30*time.Second)
	second.MaxStacks = 5
	assert.Equal(t, status.OutcomeStacked, s.Apply(second, t0))

	active := s.Active(t0)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Stacks)
	assert.Equal(t, t0.Add(2*time.Minute), active[0].ExpiresAt)
}

func TestApply_DenyIfPresent(t *testing.T) {
	s := status.NewSet()
	require.Equal(t, status.OutcomeApplied, s.Apply(buff("ward", status.StackDenyIfPresent, time.Minute), t0))
	assert.Equal(t, status.OutcomeDenied, s.Apply(buff("ward", status.StackDenyIfPresent, time.Minute), t0))
	assert.Len(t, s.Active(t0), 1)
}

func TestApply_OverwriteKeepsInstanceID(t *testing.T) {
	s := status.NewSet()
	first := buff("haste", status.StackOverwrite, time.Minute)
	require.Equal(t, status.OutcomeApplied, s.Apply(first, t0))

	second := buff("haste", status.StackOverwrite, 5*time.Minute)
	assert.Equal(t, status.OutcomeReplaced, s.Apply(second, t0))
	assert.Equal(t, first.ID, second.ID)

	active := s.Active(t0)
	require.Len(t, active, 1)
	assert.Equal(t, t0.Add(5*time.Minute), active[0].ExpiresAt)
}

func TestApply_VersionedByApplier_OneInstancePerApplier(t *testing.T) {
	s := status.NewSet()
	mk := func(applier string) *status.Effect {
		e := buff("mark", status.StackVersionedByApplier, time.Minute)
		e.AppliedByID = applier
		return e
	}

	require.Equal(t, status.OutcomeApplied, s.Apply(mk("hunter-1"), t0))
	assert.Equal(t, status.OutcomeApplied, s.Apply(mk("hunter-2"), t0))
	assert.Equal(t, status.OutcomeReplaced, s.Apply(mk("hunter-1"), t0))
	assert.Len(t, s.Active(t0), 2)
}

func TestApply_StackGroupOverridesSourceID(t *testing.T) {
	s := status.NewSet()
	first := buff("lesser-armor", status.StackOverwrite, time.Minute)
	first.StackGroup = "armor"
	require.Equal(t, status.OutcomeApplied, s.Apply(first, t0))

	second := buff("greater-armor", status.StackOverwrite, time.Minute)
	second.StackGroup = "armor"
	assert.Equal(t, status.OutcomeReplaced, s.Apply(second, t0))
	assert.Len(t, s.Active(t0), 1)
}

func TestApply_ExpiredInstanceDoesNotBlock(t *testing.T) {
	s := status.NewSet()
	require.Equal(t, status.OutcomeApplied, s.Apply(buff("ward", status.StackDenyIfPresent, time.Second), t0))

	later := t0.Add(2 * time.Second)
	got := s.Apply(buff("ward", status.StackDenyIfPresent, time.Minute), later)
	assert.Equal(t, status.OutcomeApplied, got)
}

func TestApply_SetsHotAndDotFirstTick(t *testing.T) {
	s := status.NewSet()
	eff := buff("rejuv", status.StackRefresh, time.Minute)
	eff.Hot = &status.HotSpec{TickInterval: 3 * time.Second, PerTickHeal: 5}
	eff.Dot = &status.DotSpec{TickInterval: 2 * time.Second, PerTickDamage: 2, School: "nature"}

	require.Equal(t, status.OutcomeApplied, s.Apply(eff, t0))
	assert.Equal(t, t0.Add(3*time.Second), eff.Hot.NextTickAt)
	assert.Equal(t, t0.Add(2*time.Second), eff.Dot.NextTickAt)
}

func TestActive_DropsExpiredAndOrdersByID(t *testing.T) {
	s := status.NewSet()
	short := buff("short", status.StackRefresh, time.Second)
	long := buff("long", status.StackRefresh, time.Hour)
	require.Equal(t, status.OutcomeApplied, s.Apply(short, t0))
	require.Equal(t, status.OutcomeApplied, s.Apply(long, t0))

	active := s.Active(t0.Add(time.Minute))
	require.Len(t, active, 1)
	assert.Equal(t, "long", active[0].SourceID)
	assert.Equal(t, 1, s.Len())
}

func TestClearByTags(t *testing.T) {
	s := status.NewSet()
	fear := buff("fear", status.StackRefresh, time.Minute)
	fear.Tags = map[string]bool{"fear": true, "break-on-damage": true}
	shield := buff("shield", status.StackRefresh, time.Minute)
	require.Equal(t, status.OutcomeApplied, s.Apply(fear, t0))
	require.Equal(t, status.OutcomeApplied, s.Apply(shield, t0))

	removed := s.BreakOnDamage(t0)
	require.Len(t, removed, 1)
	assert.Equal(t, "fear", removed[0].SourceID)
	assert.False(t, s.HasTag("fear", t0))
	assert.Len(t, s.Active(t0), 1)
}

func TestAbsorb_DrainsByPriority(t *testing.T) {
	s := status.NewSet()
	weak := buff("weak-shield", status.StackRefresh, time.Minute)
	weak.Absorb = &status.AbsorbSpec{Remaining: 10, Priority: 1}
	strong := buff("strong-shield", status.StackRefresh, time.Minute)
	strong.Absorb = &status.AbsorbSpec{Remaining: 20, Priority: 5}
	require.Equal(t, status.OutcomeApplied, s.Apply(weak, t0))
	require.Equal(t, status.OutcomeApplied, s.Apply(strong, t0))

	absorbed, remaining := s.Absorb(25, "physical", t0)
	assert.Equal(t, 25, absorbed)
	assert.Equal(t, 0, remaining)

	// The high-priority bucket drained first and is gone.
	assert.Equal(t, 0, strong.Absorb.Remaining)
	assert.Equal(t, 5, weak.Absorb.Remaining)
	assert.Len(t, s.Active(t0), 1)
}

func TestAbsorb_SchoolFiltering(t *testing.T) {
	s := status.NewSet()
	fireWard := buff("fire-ward", status.StackRefresh, time.Minute)
	fireWard.Absorb = &status.AbsorbSpec{Remaining: 50, Priority: 10, Schools: map[string]bool{"fire": true}}
	require.Equal(t, status.OutcomeApplied, s.Apply(fireWard, t0))

	absorbed, remaining := s.Absorb(30, "frost", t0)
	assert.Equal(t, 0, absorbed)
	assert.Equal(t, 30, remaining)

	absorbed, remaining = s.Absorb(30, "fire", t0)
	assert.Equal(t, 30, absorbed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 20, fireWard.Absorb.Remaining)
}

func TestAbsorb_Overflow(t *testing.T) {
	s := status.NewSet()
	shield := buff("shield", status.StackRefresh, time.Minute)
	shield.Absorb = &status.AbsorbSpec{Remaining: 15}
	require.Equal(t, status.OutcomeApplied, s.Apply(shield, t0))

	absorbed, remaining := s.Absorb(40, "physical", t0)
	assert.Equal(t, 15, absorbed)
	assert.Equal(t, 25, remaining)
	assert.Empty(t, s.Active(t0))
}

func TestThreatRedirect_PicksHighestPct(t *testing.T) {
	s := status.NewSet()
	weak := buff("intervene", status.StackRefresh, time.Minute)
	weak.Modifiers = status.Modifiers{ThreatTransferTo: "tank-a", ThreatTransferPct: 0.3}
	strong := buff("guardian", status.StackRefresh, time.Minute)
	strong.Modifiers = status.Modifiers{ThreatTransferTo: "tank-b", ThreatTransferPct: 0.8}
	require.Equal(t, status.OutcomeApplied, s.Apply(weak, t0))
	require.Equal(t, status.OutcomeApplied, s.Apply(strong, t0))

	to, pct, ok := s.ThreatRedirect(t0)
	require.True(t, ok)
	assert.Equal(t, "tank-b", to)
	assert.InDelta(t, 0.8, pct, 1e-9)

	_, _, ok = s.ThreatRedirect(t0.Add(time.Hour))
	assert.False(t, ok)
}

func TestAbsorb_Property_Conservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := status.NewSet()
		n := rapid.IntRange(0, 5).Draw(rt, "buckets")
		total := 0
		for i := 0; i < n; i++ {
			amt := rapid.IntRange(1, 100).Draw(rt, "amt")
			total += amt
			e := buff(fmt.Sprintf("shield-%d", i), status.StackRefresh, time.Minute)
			e.Absorb = &status.AbsorbSpec{
				Remaining: amt,
				Priority:  rapid.IntRange(0, 10).Draw(rt, "prio"),
			}
			require.Equal(rt, status.OutcomeApplied, s.Apply(e, t0))
		}

		damage := rapid.IntRange(1, 400).Draw(rt, "damage")
		absorbed, remaining := s.Absorb(damage, "physical", t0)

		assert.Equal(rt, damage, absorbed+remaining)
		assert.GreaterOrEqual(rt, absorbed, 0)
		if damage >= total {
			assert.Equal(rt, total, absorbed)
		} else {
			assert.Equal(rt, damage, absorbed)
		}
	})
}
