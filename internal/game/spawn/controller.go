package spawn

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/npc"
)

// DefaultRoomSize is the world-unit width of one room tile when mapping a
// spawn point's coordinates to a room id.
const DefaultRoomSize = 100.0

// RoomMapper maps a spawn point to the room id it lands in.
type RoomMapper func(p Point) string

// GridRoomMapper maps coordinates onto the shard's room grid.
func GridRoomMapper(roomSize float64) RoomMapper {
	if roomSize <= 0 {
		roomSize = DefaultRoomSize
	}
	return func(p Point) string {
		return fmt.Sprintf("%s:%d,%d",
			p.ShardID,
			int(math.Floor(p.X/roomSize)),
			int(math.Floor(p.Z/roomSize)),
		)
	}
}

// ControllerHooks are the Controller's outward seams.
type ControllerHooks struct {
	// EntitySpawned fans out entity_spawn to the entity's room.
	EntitySpawned func(e *entity.Entity)
	// EntityDespawned fans out entity_despawn.
	EntityDespawned func(e *entity.Entity)
	// NodeAvailable is the per-character depletion filter for personal
	// nodes; nil means every node is available.
	NodeAvailable func(char *character.Character, spawnPointID int64) bool
}

// Controller reconciles spawn points against live entities. Shared NPC
// dedupe keys off the spawnPointId carried by the room's entities; the room
// is the source of truth, not an internal set.
type Controller struct {
	registry *entity.Registry
	npcMgr   *npc.Manager
	catalog  *npc.Catalog
	cache    *PointCache
	rooms    RoomMapper
	log      *zap.Logger
	hooks    ControllerHooks

	// nodeInFlight guards per-(room, owner) personal node spawning.
	nodeInFlight map[string]bool
}

// NewController creates a spawn Controller.
//
// Precondition: registry, npcMgr, catalog, cache, and log must be non-nil.
func NewController(registry *entity.Registry, npcMgr *npc.Manager, catalog *npc.Catalog, cache *PointCache, rooms RoomMapper, log *zap.Logger, hooks ControllerHooks) *Controller {
	if rooms == nil {
		rooms = GridRoomMapper(DefaultRoomSize)
	}
	return &Controller{
		registry:     registry,
		npcMgr:       npcMgr,
		catalog:      catalog,
		cache:        cache,
		rooms:        rooms,
		log:          log,
		hooks:        hooks,
		nodeInFlight: make(map[string]bool),
	}
}

// RoomFor returns the room id a point spawns into.
func (c *Controller) RoomFor(p Point) string {
	return c.rooms(p)
}

// SpawnSharedNpcs places shared NPCs for the given points, skipping any
// point already represented by a live entity in its room.
//
// Hard rule: resource prototypes never spawn through the shared pipeline,
// even when the point's type claims npc.
func (c *Controller) SpawnSharedNpcs(points []Point) {
	for _, p := range points {
		if !p.IsNpcLike() {
			continue
		}
		roomID := c.rooms(p)
		if c.livePointIDs(roomID)[p.ID] {
			continue
		}
		if _, err := c.SpawnNpcAtPoint(p); err != nil {
			c.log.Warn("shared npc spawn failed",
				zap.Int64("spawn_point_id", p.ID),
				zap.Error(err),
			)
		}
	}
}

// ReconcileRoom aligns a room's shared NPCs with the desired point set:
// stray spawn-point entities despawn, missing points respawn. An NPC whose
// home point lies in another room is a visitor (pursuit, drift-home), not a
// stray, and its home point still counts as occupied.
func (c *Controller) ReconcileRoom(roomID string, desired []Point) {
	want := make(map[int64]Point, len(desired))
	for _, p := range desired {
		if p.IsNpcLike() && c.rooms(p) == roomID {
			want[p.ID] = p
		}
	}

	for _, e := range c.registry.InRoom(roomID) {
		if e.Kind != entity.KindNPC || e.SpawnPointID == 0 {
			continue
		}
		if _, keep := want[e.SpawnPointID]; keep {
			continue
		}
		if p, ok := c.cache.Get(e.SpawnPointID); ok && c.rooms(p) != roomID {
			continue
		}
		c.despawn(e)
	}

	live := c.liveSpawnPointIDs()
	for id, p := range want {
		if live[id] {
			continue
		}
		if _, err := c.SpawnNpcAtPoint(p); err != nil {
			c.log.Warn("reconcile respawn failed",
				zap.Int64("spawn_point_id", id),
				zap.Error(err),
			)
		}
	}
}

// SpawnNpcAtPoint creates one shared NPC from a point: prototype stats,
// spawn metadata, threat runtime, and spawn fanout.
//
// Postcondition: the returned entity carries immutable SpawnX/Y/Z and a
// registered NPC runtime.
func (c *Controller) SpawnNpcAtPoint(p Point) (*entity.Entity, error) {
	proto, ok := c.catalog.Resolve(p.VariantID, p.ProtoID)
	if !ok {
		return nil, fmt.Errorf("spawn point %d: prototype %q not found", p.ID, p.ProtoID)
	}
	if proto.IsResource() {
		return nil, fmt.Errorf("spawn point %d: resource prototype %q cannot spawn as shared npc", p.ID, proto.ID)
	}

	roomID := c.rooms(p)
	e := c.registry.CreateNpcEntity(roomID, proto.Model)
	e.Name = proto.Name
	e.MaxHP = proto.MaxHP
	e.HP = proto.MaxHP
	e.ProtoID = p.ProtoID
	e.TemplateID = p.VariantID
	e.VariantID = p.VariantID
	e.SpawnPointID = p.ID
	e.SpawnID = p.SpawnID
	e.RegionID = p.RegionID
	e.X, e.Y, e.Z = p.X, p.Y, p.Z
	e.SpawnX, e.SpawnY, e.SpawnZ = p.X, p.Y, p.Z
	if proto.IsService() {
		e.ServiceProvider = true
		e.Invulnerable = true
	}

	c.npcMgr.RegisterNpc(e)
	c.cache.Put(p)
	if c.hooks.EntitySpawned != nil {
		c.hooks.EntitySpawned(e)
	}
	c.log.Debug("shared npc spawned",
		zap.String("entity_id", e.ID),
		zap.String("proto_id", p.ProtoID),
		zap.Int64("spawn_point_id", p.ID),
		zap.String("room_id", roomID),
	)
	return e, nil
}

// SpawnPersonalNodes places per-owner resource nodes for one session in one
// room. Scoped by (roomID, ownerSessionID) with an in-flight guard against
// reentrancy; the per-character depletion filter must pass.
func (c *Controller) SpawnPersonalNodes(roomID, ownerSessionID string, char *character.Character, points []Point) {
	scope := roomID + "|" + ownerSessionID
	if c.nodeInFlight[scope] {
		return
	}
	c.nodeInFlight[scope] = true
	defer delete(c.nodeInFlight, scope)

	owned := make(map[int64]bool)
	for _, e := range c.registry.ByOwner(ownerSessionID) {
		if e.Kind == entity.KindNode && e.RoomID == roomID {
			owned[e.SpawnPointID] = true
		}
	}

	for _, p := range points {
		proto, ok := c.catalog.Resolve(p.VariantID, p.ProtoID)
		if !ok {
			continue
		}
		if !p.IsNodeLike() && !proto.IsResource() {
			continue
		}
		if c.rooms(p) != roomID || owned[p.ID] {
			continue
		}
		if c.hooks.NodeAvailable != nil && !c.hooks.NodeAvailable(char, p.ID) {
			continue
		}

		e := c.registry.CreateNode(roomID, proto.Model, ownerSessionID)
		e.Name = proto.Name
		e.MaxHP = proto.MaxHP
		e.HP = proto.MaxHP
		e.ProtoID = p.ProtoID
		e.TemplateID = p.VariantID
		e.VariantID = p.VariantID
		e.SpawnPointID = p.ID
		e.SpawnID = p.SpawnID
		e.RegionID = p.RegionID
		e.X, e.Y, e.Z = p.X, p.Y, p.Z
		e.SpawnX, e.SpawnY, e.SpawnZ = p.X, p.Y, p.Z

		// InvariantViolation: a spawned node must never come out player-typed.
		if e.Kind == entity.KindPlayer {
			c.log.Error("personal node spawned as player entity",
				zap.String("entity_id", e.ID),
				zap.Int64("spawn_point_id", p.ID),
			)
			c.despawn(e)
			continue
		}

		c.cache.Put(p)
		if c.hooks.EntitySpawned != nil {
			c.hooks.EntitySpawned(e)
		}
	}
}

// livePointIDs collects the spawnPointIds represented by live entities in
// the room.
func (c *Controller) livePointIDs(roomID string) map[int64]bool {
	out := make(map[int64]bool)
	for _, e := range c.registry.InRoom(roomID) {
		if e.SpawnPointID != 0 {
			out[e.SpawnPointID] = true
		}
	}
	return out
}

// liveSpawnPointIDs collects spawnPointIds across every room so a wandering
// NPC still occupies its home point.
func (c *Controller) liveSpawnPointIDs() map[int64]bool {
	out := make(map[int64]bool)
	for _, e := range c.registry.All() {
		if e.SpawnPointID != 0 {
			out[e.SpawnPointID] = true
		}
	}
	return out
}

func (c *Controller) despawn(e *entity.Entity) {
	if c.hooks.EntityDespawned != nil {
		c.hooks.EntityDespawned(e)
	}
	c.npcMgr.UnregisterNpc(e.ID)
	if err := c.registry.RemoveEntity(e.ID); err != nil {
		c.log.Debug("despawn cleanup failed", zap.String("entity_id", e.ID), zap.Error(err))
	}
}
