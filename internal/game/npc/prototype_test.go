package npc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/piratewind/worldcore/internal/game/npc"
)

func validProto(id string) *npc.Prototype {
	return &npc.Prototype{
		ID:       id,
		Name:     "a test mob",
		MaxHP:    20,
		Level:    2,
		Behavior: npc.BehaviorAggressive,
	}
}

func TestPrototype_Validate_Valid(t *testing.T) {
	assert.NoError(t, validProto("wolf").Validate())
}

func TestPrototype_Validate_CollectsAllViolations(t *testing.T) {
	p := &npc.Prototype{
		Behavior:    "berserk",
		CanCallHelp: true,
		Loot:        []npc.LootEntry{{Chance: 1.5, MinQty: 0, MaxQty: 0}},
		Taunts:      []npc.TauntLine{{Text: "", Chance: -0.1}},
	}
	err := p.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "id must not be empty")
	assert.Contains(t, msg, "name must not be empty")
	assert.Contains(t, msg, "max_hp must be >= 1")
	assert.Contains(t, msg, "behavior must be one of")
	assert.Contains(t, msg, "can_call_help requires a group_id")
	assert.Contains(t, msg, "loot[0].item_id must not be empty")
	assert.Contains(t, msg, "loot[0].chance must be in [0, 1]")
	assert.Contains(t, msg, "taunts[0].text must not be empty")
}

func TestPrototype_Hostile(t *testing.T) {
	for _, tc := range []struct {
		behavior npc.Behavior
		tags     []string
		want     bool
	}{
		{npc.BehaviorAggressive, nil, true},
		{npc.BehaviorGuard, nil, true},
		{npc.BehaviorCoward, nil, true},
		{npc.BehaviorPassive, nil, false},
		{npc.BehaviorAggressive, []string{"non_hostile"}, false},
		{npc.BehaviorAggressive, []string{"resource_ore"}, false},
	} {
		p := validProto("x")
		p.Behavior = tc.behavior
		p.Tags = tc.tags
		assert.Equal(t, tc.want, p.Hostile(), "behavior=%s tags=%v", tc.behavior, tc.tags)
	}
}

func TestPrototype_TagPredicates(t *testing.T) {
	p := validProto("banker")
	p.Tags = []string{"service_banker", "non_hostile"}
	assert.True(t, p.IsService())
	assert.False(t, p.IsResource())
	assert.False(t, p.IsBeast())

	vein := validProto("copper_vein")
	vein.Tags = []string{"resource_ore"}
	assert.True(t, vein.IsResource())

	deer := validProto("deer")
	deer.Tags = []string{"beast"}
	assert.True(t, deer.IsBeast())
}

func TestPrototype_DerivedXPReward(t *testing.T) {
	p := validProto("wolf")
	p.Level = 4
	assert.Equal(t, 17, p.DerivedXPReward())
	p.XPReward = 50
	assert.Equal(t, 50, p.DerivedXPReward())
}

func TestNewCatalog_RejectsDuplicates(t *testing.T) {
	_, err := npc.NewCatalog([]*npc.Prototype{validProto("wolf"), validProto("wolf")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate prototype id "wolf"`)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	content := `
- id: wolf
  name: a gray wolf
  model: wolf
  max_hp: 30
  level: 2
  behavior: aggressive
  group_id: wolfpack
  can_call_help: true
  loot:
    - item_id: wolf_pelt
      chance: 0.6
      min_qty: 1
      max_qty: 2
- id: town_guard
  name: a town guard
  max_hp: 120
  level: 8
  behavior: guard
  guard:
    call_radius: 2
    recapture_sweep: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beasts.yaml"), []byte(content), 0o644))
	// Non-yaml files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644))

	catalog, err := npc.LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, []string{"town_guard", "wolf"}, catalog.IDs())

	wolf, ok := catalog.Get("wolf")
	require.True(t, ok)
	assert.Equal(t, "wolfpack", wolf.GroupID)
	assert.True(t, wolf.CanCallHelp)
	require.Len(t, wolf.Loot, 1)
	assert.Equal(t, "wolf_pelt", wolf.Loot[0].ItemID)

	guard, ok := catalog.Get("town_guard")
	require.True(t, ok)
	assert.Equal(t, 2, guard.Guard.CallRadius)
	assert.True(t, guard.Guard.RecaptureSweep)
}

func TestLoadCatalog_EmptyDir(t *testing.T) {
	catalog, err := npc.LoadCatalog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, catalog.Len())
}

func TestLoadCatalog_MissingDir(t *testing.T) {
	_, err := npc.LoadCatalog(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadCatalog_MalformedYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{not yaml"), 0o644))
	_, err := npc.LoadCatalog(dir)
	assert.Error(t, err)
}

func TestLoadCatalog_InvalidPrototype(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("- id: ghost\n  max_hp: 0\n"), 0o644))
	_, err := npc.LoadCatalog(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `prototype "ghost" invalid`)
}

func TestCatalog_Resolve(t *testing.T) {
	base := validProto("wolf")
	variant := validProto("wolf_alpha")
	variant.MaxHP = 60
	catalog, err := npc.NewCatalog([]*npc.Prototype{base, variant})
	require.NoError(t, err)

	// Template wins when present.
	got, ok := catalog.Resolve("wolf_alpha", "wolf")
	require.True(t, ok)
	assert.Equal(t, "wolf_alpha", got.ID)

	// Unknown template falls back to the prototype.
	got, ok = catalog.Resolve("wolf_dire", "wolf")
	require.True(t, ok)
	assert.Equal(t, "wolf", got.ID)

	_, ok = catalog.Resolve("", "missing")
	assert.False(t, ok)
}

func TestPrototype_Property_ValidatedCatalogResolves(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		protos := make([]*npc.Prototype, 0, n)
		for i := 0; i < n; i++ {
			p := validProto(rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "id"))
			p.Level = rapid.IntRange(0, 60).Draw(rt, "level")
			protos = append(protos, p)
		}
		catalog, err := npc.NewCatalog(protos)
		if err != nil {
			// Only duplicate ids may fail here.
			assert.Contains(rt, err.Error(), "duplicate prototype id")
			return
		}
		for _, p := range protos {
			got, ok := catalog.Get(p.ID)
			assert.True(rt, ok)
			assert.GreaterOrEqual(rt, got.DerivedXPReward(), 5)
		}
	})
}
