package spawn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/combat"
	"github.com/piratewind/worldcore/internal/game/dice"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/npc"
	"github.com/piratewind/worldcore/internal/game/region"
	"github.com/piratewind/worldcore/internal/game/spawn"
)

type controllerFixture struct {
	registry   *entity.Registry
	mgr        *npc.Manager
	cache      *spawn.PointCache
	ctl        *spawn.Controller
	spawned    []string
	despawned  []string
	depletedID int64
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	log := zap.NewNop()

	wolf := &npc.Prototype{ID: "wolf", Name: "a gray wolf", Model: "wolf", MaxHP: 30, Level: 2, Behavior: npc.BehaviorAggressive}
	vein := &npc.Prototype{ID: "copper_vein", Name: "a copper vein", Model: "vein", MaxHP: 10, Behavior: npc.BehaviorPassive, Tags: []string{"resource_ore"}}
	banker := &npc.Prototype{ID: "banker", Name: "the banker", Model: "human", MaxHP: 100, Level: 10, Behavior: npc.BehaviorPassive, Tags: []string{"service_banker", "non_hostile"}}
	catalog, err := npc.NewCatalog([]*npc.Prototype{wolf, vein, banker})
	require.NoError(t, err)

	registry := entity.NewRegistry(log, false)
	sim := clock.NewSimClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mgr := npc.NewManager(npc.ManagerParams{
		Registry:  registry,
		Catalog:   catalog,
		Brains:    npc.NewRegistry(),
		Pipeline:  combat.NewPipeline(registry, sim, log),
		Flags:     region.NewCache(&region.StaticProvider{}, log),
		Sanctuary: region.NewSanctuary(region.SanctuaryConfig{}, log, nil),
		Roller:    dice.NewRoller(dice.NewSeededSource(1)),
		Clock:     sim,
		Log:       log,
	})

	f := &controllerFixture{
		registry:   registry,
		mgr:        mgr,
		cache:      spawn.NewPointCache(),
		depletedID: -1,
	}
	f.ctl = spawn.NewController(registry, mgr, catalog, f.cache, spawn.GridRoomMapper(100), log, spawn.ControllerHooks{
		EntitySpawned:   func(e *entity.Entity) { f.spawned = append(f.spawned, e.ID) },
		EntityDespawned: func(e *entity.Entity) { f.despawned = append(f.despawned, e.ID) },
		NodeAvailable: func(_ *character.Character, spawnPointID int64) bool {
			return spawnPointID != f.depletedID
		},
	})
	return f
}

func npcPoint(id int64, protoID string, x, z float64) spawn.Point {
	return spawn.Point{
		ID:       id,
		SpawnID:  "seed:wilds",
		ShardID:  "overworld",
		RegionID: "wilds",
		Type:     "npc",
		ProtoID:  protoID,
		X:        x,
		Z:        z,
	}
}

func nodePoint(id int64, x, z float64) spawn.Point {
	p := npcPoint(id, "copper_vein", x, z)
	p.Type = "node"
	return p
}

func TestGridRoomMapper(t *testing.T) {
	m := spawn.GridRoomMapper(100)
	assert.Equal(t, "overworld:1,0", m(npcPoint(1, "wolf", 150, 40)))
	// Floor, not truncation, on negative coordinates.
	assert.Equal(t, "overworld:-1,-1", m(npcPoint(2, "wolf", -10, -0.5)))

	// Non-positive room sizes fall back to the default tile width.
	d := spawn.GridRoomMapper(0)
	assert.Equal(t, "overworld:1,0", d(npcPoint(3, "wolf", 150, 40)))
}

func TestSpawnNpcAtPoint(t *testing.T) {
	f := newControllerFixture(t)
	p := npcPoint(10, "wolf", 150, 40)

	e, err := f.ctl.SpawnNpcAtPoint(p)
	require.NoError(t, err)
	assert.Equal(t, "a gray wolf", e.Name)
	assert.Equal(t, 30, e.HP)
	assert.Equal(t, 30, e.MaxHP)
	assert.Equal(t, "wolf", e.ProtoID)
	assert.Equal(t, int64(10), e.SpawnPointID)
	assert.Equal(t, "seed:wilds", e.SpawnID)
	assert.Equal(t, "wilds", e.RegionID)
	assert.Equal(t, "overworld:1,0", e.RoomID)
	assert.Equal(t, 150.0, e.SpawnX)
	assert.Equal(t, 40.0, e.SpawnZ)
	assert.False(t, e.ServiceProvider)

	_, ok := f.mgr.RuntimeFor(e.ID)
	assert.True(t, ok)
	cached, ok := f.cache.Get(10)
	require.True(t, ok)
	assert.Equal(t, p, cached)
	assert.Equal(t, []string{e.ID}, f.spawned)
}

func TestSpawnNpcAtPoint_ServiceProviderIsInvulnerable(t *testing.T) {
	f := newControllerFixture(t)
	e, err := f.ctl.SpawnNpcAtPoint(npcPoint(11, "banker", 10, 10))
	require.NoError(t, err)
	assert.True(t, e.ServiceProvider)
	assert.True(t, e.Invulnerable)
}

func TestSpawnNpcAtPoint_UnknownPrototype(t *testing.T) {
	f := newControllerFixture(t)
	_, err := f.ctl.SpawnNpcAtPoint(npcPoint(12, "dragon", 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `prototype "dragon" not found`)
}

func TestSpawnNpcAtPoint_ResourcePrototypeRejected(t *testing.T) {
	// Even when the point's type claims npc, a resource prototype never
	// spawns through the shared pipeline.
	f := newControllerFixture(t)
	_, err := f.ctl.SpawnNpcAtPoint(npcPoint(13, "copper_vein", 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot spawn as shared npc")
}

func TestSpawnSharedNpcs_DedupesByLiveRoomEntities(t *testing.T) {
	f := newControllerFixture(t)
	points := []spawn.Point{
		npcPoint(20, "wolf", 150, 40),
		npcPoint(21, "wolf", 160, 40),
		nodePoint(22, 170, 40), // node-typed points are not shared NPCs
	}

	f.ctl.SpawnSharedNpcs(points)
	assert.Len(t, f.registry.InRoom("overworld:1,0"), 2)

	// A second pass sees both points already represented and spawns nothing.
	f.ctl.SpawnSharedNpcs(points)
	assert.Len(t, f.registry.InRoom("overworld:1,0"), 2)
	assert.Len(t, f.spawned, 2)
}

func TestReconcileRoom(t *testing.T) {
	f := newControllerFixture(t)
	keep := npcPoint(30, "wolf", 150, 40)
	stray := npcPoint(31, "wolf", 160, 40)
	f.ctl.SpawnSharedNpcs([]spawn.Point{keep, stray})

	// Players without spawn-point provenance are never reconciled away.
	player := f.registry.CreatePlayerForSession("s1", "overworld:1,0")

	missing := npcPoint(32, "wolf", 170, 40)
	f.ctl.ReconcileRoom("overworld:1,0", []spawn.Point{keep, missing})

	live := map[int64]bool{}
	for _, e := range f.registry.InRoom("overworld:1,0") {
		if e.SpawnPointID != 0 {
			live[e.SpawnPointID] = true
		}
	}
	assert.Equal(t, map[int64]bool{30: true, 32: true}, live)
	require.Len(t, f.despawned, 1)
	_, ok := f.mgr.RuntimeFor(f.despawned[0])
	assert.False(t, ok, "stray runtime must be dropped")
	_, ok = f.registry.Get(player.ID)
	assert.True(t, ok)
}

func TestReconcileRoom_WandererNeitherCulledNorDuplicated(t *testing.T) {
	f := newControllerFixture(t)
	home := npcPoint(60, "wolf", 150, 40) // overworld:1,0
	f.ctl.SpawnSharedNpcs([]spawn.Point{home})
	wolf := f.registry.InRoom("overworld:1,0")[0]

	// The wolf chases a target into the next room over.
	require.NoError(t, f.registry.MoveToRoom(wolf.ID, "overworld:2,0"))

	// It is a visitor there, not a stray.
	f.ctl.ReconcileRoom("overworld:2,0", nil)
	_, ok := f.registry.Get(wolf.ID)
	assert.True(t, ok)
	assert.Empty(t, f.despawned)

	// Its home point is still occupied, so no duplicate spawns.
	f.ctl.ReconcileRoom("overworld:1,0", []spawn.Point{home})
	assert.Empty(t, f.registry.InRoom("overworld:1,0"))
	assert.Len(t, f.spawned, 1)
}

func TestSpawnPersonalNodes(t *testing.T) {
	f := newControllerFixture(t)
	points := []spawn.Point{
		nodePoint(40, 150, 40),
		nodePoint(41, 160, 40),
		nodePoint(42, 500, 40), // different room, skipped
	}
	f.depletedID = 41

	f.ctl.SpawnPersonalNodes("overworld:1,0", "s1", nil, points)

	owned := f.registry.ByOwner("s1")
	require.Len(t, owned, 1)
	assert.Equal(t, entity.KindNode, owned[0].Kind)
	assert.Equal(t, int64(40), owned[0].SpawnPointID)
	assert.Equal(t, "a copper vein", owned[0].Name)

	// Reentry is a no-op for already-owned points.
	f.ctl.SpawnPersonalNodes("overworld:1,0", "s1", nil, points)
	assert.Len(t, f.registry.ByOwner("s1"), 1)

	// Another owner gets an independent copy of the same node.
	f.ctl.SpawnPersonalNodes("overworld:1,0", "s2", nil, points)
	assert.Len(t, f.registry.ByOwner("s2"), 1)
	assert.Len(t, f.registry.InRoom("overworld:1,0"), 2)
}

func TestSpawnPersonalNodes_ResourceProtoWithNpcType(t *testing.T) {
	// Legacy catalogs sometimes type resource points as npc; the prototype's
	// resource tag still routes them through the personal pipeline.
	f := newControllerFixture(t)
	p := npcPoint(50, "copper_vein", 150, 40)
	f.ctl.SpawnPersonalNodes("overworld:1,0", "s1", nil, []spawn.Point{p})
	require.Len(t, f.registry.ByOwner("s1"), 1)
	assert.Equal(t, entity.KindNode, f.registry.ByOwner("s1")[0].Kind)
}
