// Package death implements the canonical NPC death pipeline: idempotent
// reward grants, loot rolls, and corpse/respawn scheduling.
package death

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/config"
	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/dice"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/item"
	"github.com/piratewind/worldcore/internal/game/npc"
	"github.com/piratewind/worldcore/internal/game/spawn"
)

// Test mode collapses lifecycle delays so suites run in real time.
const (
	testCorpseDelay  = 5 * time.Millisecond
	testRespawnDelay = 60 * time.Millisecond
)

// CharacterStore is the persistence seam the pipeline needs.
type CharacterStore interface {
	GrantXp(ctx context.Context, characterID int64, amount int) error
	Save(ctx context.Context, char *character.Character) error
}

// Hooks are the pipeline's outward seams; nil fields no-op.
type Hooks struct {
	// EntityUpdated fans out the alive:false update.
	EntityUpdated func(e *entity.Entity)
	// EntityDespawned fans out corpse removal.
	EntityDespawned func(e *entity.Entity)
	// EntitySpawned fans out the respawned NPC.
	EntitySpawned func(e *entity.Entity)
	// Announce sends a world line to everyone in roomID.
	Announce func(roomID, text string)
	// AnnounceTo sends a world line to one session.
	AnnounceTo func(sessionID, text string)
	// CharacterFor resolves the character attached to a session.
	CharacterFor func(sessionID string) *character.Character
	// Async launches fire-and-forget persistence work; nil uses go.
	Async func(fn func())
}

// Pipeline runs NPC deaths end to end. Best-effort throughout: persistence
// and item failures log and continue, they never abort the death.
type Pipeline struct {
	registry   *entity.Registry
	npcMgr     *npc.Manager
	catalog    *npc.Catalog
	controller *spawn.Controller
	cache      *spawn.PointCache
	scheduler  *clock.Scheduler
	clk        clock.Clock
	roller     *dice.Roller
	store      CharacterStore
	items      item.Service
	log        *zap.Logger
	hooks      Hooks

	corpse   config.CorpseConfig
	respawn  config.RespawnConfig
	testMode bool
}

// Params collects the pipeline's collaborators.
type Params struct {
	Registry   *entity.Registry
	NpcManager *npc.Manager
	Catalog    *npc.Catalog
	Controller *spawn.Controller
	Cache      *spawn.PointCache
	Scheduler  *clock.Scheduler
	Clock      clock.Clock
	Roller     *dice.Roller
	Store      CharacterStore
	Items      item.Service
	Log        *zap.Logger
	Hooks      Hooks
	Corpse     config.CorpseConfig
	Respawn    config.RespawnConfig
	TestMode   bool
}

// NewPipeline creates a death Pipeline.
//
// Precondition: Registry, NpcManager, Catalog, Controller, Cache, Scheduler,
// Clock, Roller, and Log must be non-nil. Store and Items may be nil (no
// persistence, no loot).
func NewPipeline(p Params) *Pipeline {
	return &Pipeline{
		registry:   p.Registry,
		npcMgr:     p.NpcManager,
		catalog:    p.Catalog,
		controller: p.Controller,
		cache:      p.Cache,
		scheduler:  p.Scheduler,
		clk:        p.Clock,
		roller:     p.Roller,
		store:      p.Store,
		items:      p.Items,
		log:        p.Log,
		hooks:      p.Hooks,
		corpse:     p.Corpse,
		respawn:    p.Respawn,
		testMode:   p.TestMode,
	}
}

// HandleNpcDeath runs the canonical death flow for one NPC.
//
// Idempotent: the rewards-granted marker on the runtime short-circuits
// re-entrant calls, so a death fires rewards at most once per lifetime.
func (p *Pipeline) HandleNpcDeath(npcEntityID, killerEntityID string) {
	e, ok := p.registry.Get(npcEntityID)
	if !ok {
		return
	}
	rt, ok := p.npcMgr.RuntimeFor(npcEntityID)
	if !ok {
		return
	}
	if rt.RewardsGranted {
		return
	}
	rt.RewardsGranted = true

	e.HP = 0
	e.Alive = false
	e.Effects.ClearAll()
	rt.Threat.Clear()
	if p.hooks.EntityUpdated != nil {
		p.hooks.EntityUpdated(e)
	}

	proto, found := p.catalog.Resolve(e.TemplateID, e.ProtoID)
	if !found {
		p.log.Warn("dead npc has no prototype",
			zap.String("entity_id", npcEntityID),
			zap.String("proto_id", e.ProtoID),
		)
		p.ScheduleCorpseAndRespawn(e, rt, nil)
		return
	}

	killer := p.killerCharacter(killerEntityID)
	if killer != nil {
		p.grantRewards(e, proto, killer, killerEntityID)
	}

	if p.hooks.Announce != nil {
		p.hooks.Announce(e.RoomID, fmt.Sprintf("[world] %s dies.", e.Name))
	}
	p.ScheduleCorpseAndRespawn(e, rt, proto)
}

// grantRewards grants XP and rolls loot for the killer. All persistence is
// launched as background completions and never awaited by the tick.
func (p *Pipeline) grantRewards(e *entity.Entity, proto *npc.Prototype, killer *character.Character, killerEntityID string) {
	xp := proto.DerivedXPReward()
	killer.XP += int64(xp)
	sessionID := p.sessionForEntity(killerEntityID)
	if p.hooks.AnnounceTo != nil && sessionID != "" {
		p.hooks.AnnounceTo(sessionID, fmt.Sprintf("[world] You gain %d experience.", xp))
	}
	if p.store != nil {
		charID := killer.ID
		p.async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.store.GrantXp(ctx, charID, xp); err != nil {
				p.log.Warn("xp grant failed",
					zap.Int64("character_id", charID),
					zap.Int("xp", xp),
					zap.Error(err),
				)
			}
		})
	}

	// Loot rolls happen on the tick for determinism; delivery, its chat
	// lines, and the post-loot persist all run as one background completion.
	type lootRoll struct {
		itemID string
		qty    int
	}
	var rolls []lootRoll
	if p.items != nil {
		for _, l := range proto.Loot {
			if !p.roller.Chance(l.Chance) {
				continue
			}
			rolls = append(rolls, lootRoll{itemID: l.ItemID, qty: p.roller.Between(l.MinQty, l.MaxQty)})
		}
	}
	if len(rolls) == 0 && p.store == nil {
		return
	}

	p.async(func() {
		for _, r := range rolls {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d, err := p.items.DeliverItemToBagsOrMail(ctx, killer, r.itemID, r.qty)
			cancel()
			if err != nil {
				p.log.Warn("loot delivery failed",
					zap.String("item_id", r.itemID),
					zap.Int("qty", r.qty),
					zap.Error(err),
				)
				continue
			}
			if p.hooks.AnnounceTo == nil || sessionID == "" {
				continue
			}
			line := fmt.Sprintf("[world] You receive %s x%d.", d.ItemID, d.Quantity)
			if d.Destination == item.DestMail {
				line = fmt.Sprintf("[world] %s x%d was mailed to you (bags full).", d.ItemID, d.Quantity)
			}
			p.hooks.AnnounceTo(sessionID, line)
		}

		if p.store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.store.Save(ctx, killer); err != nil {
			p.log.Warn("character persist after loot failed",
				zap.Int64("character_id", killer.ID),
				zap.Error(err),
			)
		}
	})
}

// ScheduleCorpseAndRespawn queues corpse despawn and (for non-resources)
// respawn. Guarded so a death schedules its lifecycle at most once; spawn
// metadata is captured now so later mutation cannot move the respawn.
func (p *Pipeline) ScheduleCorpseAndRespawn(e *entity.Entity, rt *npc.Runtime, proto *npc.Prototype) {
	if rt.LifecycleScheduled {
		return
	}
	rt.LifecycleScheduled = true

	isResource := proto != nil && proto.IsResource()
	corpseDelay := p.corpseDelay(proto, isResource)
	respawnDelay := time.Duration(p.respawn.AfterCorpseMs) * time.Millisecond
	if p.testMode {
		corpseDelay = testCorpseDelay
		respawnDelay = testRespawnDelay
	}

	entityID := e.ID
	spawnPointID := e.SpawnPointID
	now := p.clk.Now()

	p.scheduler.ScheduleAfter(now, corpseDelay, func(time.Time) {
		corpse, ok := p.registry.Get(entityID)
		if !ok {
			return
		}
		if p.hooks.EntityDespawned != nil {
			p.hooks.EntityDespawned(corpse)
		}
		p.npcMgr.UnregisterNpc(entityID)
		if err := p.registry.RemoveEntity(entityID); err != nil {
			p.log.Debug("corpse removal failed", zap.String("entity_id", entityID), zap.Error(err))
		}
	})

	if isResource || spawnPointID == 0 {
		return
	}
	p.scheduler.ScheduleAfter(now, corpseDelay+respawnDelay, func(time.Time) {
		point, ok := p.cache.Get(spawnPointID)
		if !ok {
			p.log.Warn("respawn point missing from cache",
				zap.Int64("spawn_point_id", spawnPointID),
			)
			return
		}
		respawned, err := p.controller.SpawnNpcAtPoint(point)
		if err != nil {
			p.log.Warn("npc respawn failed",
				zap.Int64("spawn_point_id", spawnPointID),
				zap.Error(err),
			)
			return
		}
		if p.hooks.Announce != nil {
			p.hooks.Announce(respawned.RoomID, fmt.Sprintf("[world] %s appears.", respawned.Name))
		}
	})
}

// corpseDelay picks the category timing: resources vanish fast, beasts
// linger, everything else uses the NPC default.
func (p *Pipeline) corpseDelay(proto *npc.Prototype, isResource bool) time.Duration {
	switch {
	case isResource:
		return time.Duration(p.corpse.ResourceMs) * time.Millisecond
	case proto != nil && proto.IsBeast():
		return time.Duration(p.corpse.BeastMs) * time.Millisecond
	default:
		return time.Duration(p.corpse.NpcMs) * time.Millisecond
	}
}

// killerCharacter resolves the character behind a killer entity id.
func (p *Pipeline) killerCharacter(killerEntityID string) *character.Character {
	sessionID := p.sessionForEntity(killerEntityID)
	if sessionID == "" || p.hooks.CharacterFor == nil {
		return nil
	}
	return p.hooks.CharacterFor(sessionID)
}

func (p *Pipeline) sessionForEntity(entityID string) string {
	if entityID == "" {
		return ""
	}
	e, ok := p.registry.Get(entityID)
	if !ok {
		return ""
	}
	return e.OwnerSessionID
}

func (p *Pipeline) async(fn func()) {
	if p.hooks.Async != nil {
		p.hooks.Async(fn)
		return
	}
	go fn()
}
