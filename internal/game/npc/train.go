package npc

import (
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/config"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/region"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/threat"
)

// softLeashFloor is the minimum chase-speed factor past the soft leash.
const softLeashFloor = 0.15

// maxDriftHops bounds drift-reaggro reacquisitions per trip home.
const maxDriftHops = 3

// guardSweepSeedThreat is the threat a guard seeds on a swept intruder.
const guardSweepSeedThreat = 100

// trainParams resolves the effective pursuit tuning for one NPC, applying
// the regional profile clamp.
func (m *Manager) trainParams(flags region.Flags) config.TrainConfig {
	cfg := m.trainCfg
	if flags.PursuitProfile == region.PursuitShort {
		cfg = cfg.ClampShort()
	}
	return cfg
}

// tickDriftHome walks a returning NPC toward its spawn home. Runs before
// perception; only NPCs with an empty threat table drift.
//
// Postcondition: Returns true when the NPC's tick is consumed.
func (m *Manager) tickDriftHome(e *entity.Entity, rt *Runtime, cfg config.TrainConfig, now time.Time) bool {
	if !rt.TrainReturning || !rt.Threat.Empty() {
		return false
	}

	// Drift-reaggro: a player wandering close enough pulls the NPC back
	// into combat, a bounded number of times per trip.
	if rt.DriftHops < maxDriftHops {
		for _, p := range m.registry.InRoom(e.RoomID) {
			if p.Kind != entity.KindPlayer || !p.Alive {
				continue
			}
			if p.Effects != nil && p.Effects.HasTag("stealth", now) {
				continue
			}
			if e.DistanceXZ(p.X, p.Z) <= cfg.SoftLeash {
				rt.Threat.Add(p.ID, 1, now, threat.AddOptions{SetLastAttacker: true, LastAttackerID: p.ID})
				rt.DriftHops++
				rt.TrainReturning = false
				return false
			}
		}
	}

	if cfg.RoomsEnabled && e.RoomID != rt.SpawnRoomID {
		if next, ok := room.StepRoomToward(e.RoomID, rt.SpawnRoomID); ok && !rt.MovedThisTick(now) {
			m.moveNpcToRoom(e, rt, next, now)
		}
		return true
	}

	dist := e.DistanceFromSpawnXZ()
	if dist <= cfg.Step {
		m.setNpcPosition(e, e.SpawnX, e.SpawnY, e.SpawnZ)
		rt.TrainReturning = false
		rt.DriftHops = 0
		return true
	}
	m.stepToward(e, e.SpawnX, e.SpawnZ, cfg.Step)
	return true
}

// tickFearFlee steps a feared NPC one room away from its threat anchor and
// suppresses all other decisions this tick.
func (m *Manager) tickFearFlee(e *entity.Entity, rt *Runtime, cfg config.TrainConfig, now time.Time) bool {
	if e.Effects == nil || !e.Effects.HasTag("fear", now) {
		return false
	}
	anchorRoom := rt.SpawnRoomID
	if topID, ok := rt.Threat.TopTarget(); ok {
		if top, found := m.registry.Get(topID); found {
			anchorRoom = top.RoomID
		}
	}
	if cfg.RoomsEnabled && !rt.MovedThisTick(now) {
		if next, ok := room.StepRoomAway(e.RoomID, anchorRoom); ok {
			m.moveNpcToRoom(e, rt, next, now)
		}
	}
	// Even without room movement, fear suppresses engagement.
	return true
}

// tickSanctuaryRecapture pushes a hostile non-guard out of an unbreached
// sanctuary room: threat wiped, one step toward home.
func (m *Manager) tickSanctuaryRecapture(e *entity.Entity, rt *Runtime, proto *Prototype, flags region.Flags, cfg config.TrainConfig, now time.Time) bool {
	if !flags.Sanctuary || proto.Behavior == BehaviorGuard || !proto.Hostile() {
		return false
	}
	if m.sanctuary.BreachActive(e.RoomID, now) {
		return false
	}
	rt.Threat.Clear()
	rt.ClearPursuit()
	if cfg.RoomsEnabled && e.RoomID != rt.SpawnRoomID && !rt.MovedThisTick(now) {
		if next, ok := room.StepRoomToward(e.RoomID, rt.SpawnRoomID); ok {
			m.moveNpcToRoom(e, rt, next, now)
		}
	}
	return true
}

// tickGuardSweep lets sanctuary guards hunt nearby hostiles: any hostile NPC
// targeting a player inside the sweep range gets 100 threat seeded and the
// guard steps toward it. Siege widens the net to recently-aggressive NPCs
// when the region is morale-proactive.
func (m *Manager) tickGuardSweep(e *entity.Entity, rt *Runtime, proto *Prototype, flags region.Flags, cfg config.TrainConfig, now time.Time) bool {
	if proto.Behavior != BehaviorGuard || !flags.Sanctuary || !flags.GuardRecaptureSweep {
		return false
	}
	underSiege := m.sanctuary.UnderSiege(e.RoomID, now)
	if m.sanctuary.BreachActive(e.RoomID, now) && !underSiege {
		return false
	}

	rangeTiles := proto.Guard.CallRadius
	if underSiege && flags.GuardSortie {
		rangeTiles += flags.GuardSortieBonusTiles
	}
	if rangeTiles < 0 {
		rangeTiles = 0
	}

	intruder := m.findSweepTarget(e, rangeTiles, underSiege && flags.MoraleProactive, now)
	if intruder == nil {
		return false
	}

	rt.Threat.Add(intruder.ID, guardSweepSeedThreat, now, threat.AddOptions{
		SetLastAttacker: true,
		LastAttackerID:  intruder.ID,
	})
	if cfg.RoomsEnabled && intruder.RoomID != e.RoomID && !rt.MovedThisTick(now) {
		if next, ok := room.StepRoomToward(e.RoomID, intruder.RoomID); ok {
			if maxRooms := cfg.MaxRoomsFromSpawn; maxRooms <= 0 || roomHops(next, rt.SpawnRoomID) <= maxRooms {
				m.moveNpcToRoom(e, rt, next, now)
			}
		}
	}
	m.log.Debug("guard sweep engaged",
		zap.String("guard_id", e.ID),
		zap.String("intruder_id", intruder.ID),
		zap.Int("range_tiles", rangeTiles),
	)
	return true
}

// findSweepTarget scans rooms within rangeTiles of the guard for a hostile
// NPC engaging a player. Lex smallest id wins for determinism.
func (m *Manager) findSweepTarget(guard *entity.Entity, rangeTiles int, includeRecent bool, now time.Time) *entity.Entity {
	var best *entity.Entity
	for _, e := range m.registry.All() {
		if e.Kind != entity.KindNPC || !e.Alive || e.ID == guard.ID {
			continue
		}
		if d := room.RoomDistance(guard.RoomID, e.RoomID); d < 0 || d > rangeTiles {
			if e.RoomID != guard.RoomID {
				continue
			}
		}
		rt, ok := m.runtimes[e.ID]
		if !ok {
			continue
		}
		proto, ok := m.catalog.Resolve(e.TemplateID, e.ProtoID)
		if !ok || !proto.Hostile() || proto.Behavior == BehaviorGuard {
			continue
		}
		engaged := false
		if topID, has := rt.Threat.TopTarget(); has {
			if top, found := m.registry.Get(topID); found && top.Kind == entity.KindPlayer {
				engaged = true
			}
		}
		if !engaged && includeRecent {
			engaged = e.InCombat(now) || now.Sub(rt.Threat.LastAggroAt) < 10*time.Second
		}
		if !engaged {
			continue
		}
		if best == nil || e.ID < best.ID {
			best = e
		}
	}
	return best
}

// tickTrainChase runs the per-tick pursuit step toward the selected target.
//
// Postcondition: Returns true when pursuit consumed the tick (a room step or
// a disengage); melee-range proximity returns false so the brain may act.
func (m *Manager) tickTrainChase(e *entity.Entity, rt *Runtime, proto *Prototype, cfg config.TrainConfig, targetID string, now time.Time) bool {
	if !cfg.Enabled || targetID == "" {
		rt.ClearPursuit()
		return false
	}
	target, ok := m.registry.Get(targetID)
	if !ok {
		rt.ClearPursuit()
		return false
	}
	if rt.PursuitStartedAt.IsZero() {
		rt.PursuitStartedAt = now
	}

	if target.RoomID != e.RoomID {
		if !cfg.RoomsEnabled {
			return false
		}
		next, ok := room.StepRoomToward(e.RoomID, target.RoomID)
		if !ok || next == e.RoomID {
			return false
		}
		if m.roomIsSanctuary(next) && proto.Behavior != BehaviorGuard && !m.sanctuary.BreachActive(next, now) {
			m.disengage(e, rt, cfg, now)
			m.sanctuary.RecordPressure(next, now)
			return true
		}
		if maxRooms := cfg.MaxRoomsFromSpawn; maxRooms > 0 && roomHops(next, rt.SpawnRoomID) > maxRooms {
			m.disengage(e, rt, cfg, now)
			return true
		}
		if cfg.AssistEnabled && cfg.AssistSnapAllies && proto.CanCallHelp {
			m.CallAssist(assistCall{
				Caller:        e,
				CallerRT:      rt,
				Proto:         proto,
				OffenderID:    targetID,
				Now:           now,
				PursuitRoomID: next,
				SnapAllies:    true,
			})
		}
		if !rt.MovedThisTick(now) {
			m.moveNpcToRoom(e, rt, next, now)
		}
		return true
	}

	dist := e.DistanceXZ(target.X, target.Z)
	if dist <= meleeRange {
		// In contact; the pursue timeout only measures continuous chasing.
		rt.PursuitStartedAt = time.Time{}
		return false
	}
	timedOut := cfg.PursueTimeoutMs > 0 && now.Sub(rt.PursuitStartedAt) > cfg.PursueTimeout()
	if e.DistanceFromSpawnXZ() >= cfg.HardLeash || timedOut {
		m.disengage(e, rt, cfg, now)
		return true
	}

	f := 1.0
	if spawnDist := e.DistanceFromSpawnXZ(); spawnDist > cfg.SoftLeash && cfg.HardLeash > cfg.SoftLeash {
		f = 1 - (spawnDist-cfg.SoftLeash)/(cfg.HardLeash-cfg.SoftLeash)
		if f < softLeashFloor {
			f = softLeashFloor
		}
	}
	m.stepToward(e, target.X, target.Z, cfg.Step*f)
	rt.TrainMovedAt = now
	return false
}

// disengage ends a pursuit: threat wiped, then either a snap back to spawn
// or a drift walk home.
func (m *Manager) disengage(e *entity.Entity, rt *Runtime, cfg config.TrainConfig, now time.Time) {
	rt.Threat.Clear()
	rt.ClearPursuit()
	switch cfg.ReturnMode {
	case config.ReturnDrift:
		rt.TrainReturning = true
	default:
		if e.RoomID != rt.SpawnRoomID {
			m.moveNpcToRoom(e, rt, rt.SpawnRoomID, now)
		}
		m.setNpcPosition(e, e.SpawnX, e.SpawnY, e.SpawnZ)
	}
	m.log.Debug("pursuit disengaged",
		zap.String("entity_id", e.ID),
		zap.String("return_mode", string(cfg.ReturnMode)),
	)
}

// roomHops returns the room-grid distance, treating unparsable pairs as 0
// so non-world rooms never trip the leash.
func roomHops(aID, bID string) int {
	if d := room.RoomDistance(aID, bID); d >= 0 {
		return d
	}
	return 0
}
