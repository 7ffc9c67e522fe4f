package npc

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/config"
	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/combat"
	"github.com/piratewind/worldcore/internal/game/dice"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/region"
	"github.com/piratewind/worldcore/internal/game/threat"
)

// attackFallbackCooldown throttles synthesized attacks when the brain
// returned nothing aggressive.
const attackFallbackCooldown = 800 * time.Millisecond

// Hooks are the Manager's outward seams. All fields are optional; nil hooks
// degrade to no-ops so tests can wire only what they assert on.
type Hooks struct {
	// Say broadcasts a chat line from speaker to everyone in roomID.
	Say func(roomID, speaker, text string)
	// Despawn removes the entity with client fanout (coward flee).
	Despawn func(entityID string)
	// EntityMoved fans out a room change to both rooms' members.
	EntityMoved func(e *entity.Entity, fromRoomID string)
	// EntityUpdated fans out a pose/hp delta to the entity's room.
	EntityUpdated func(e *entity.Entity)
	// CharacterFor resolves the character attached to a session.
	CharacterFor func(sessionID string) *character.Character
	// OnPlayerKilled routes a fatal NPC hit into the player death flow.
	OnPlayerKilled func(victim *entity.Entity, killerEntityID string)
	// OnNpcKilled routes a guard kill into the NPC death pipeline.
	OnNpcKilled func(victimEntityID, killerEntityID string)
	// RegionForRoom maps a room id to its region id; nil falls back to the
	// NPC's own region.
	RegionForRoom func(roomID string) string
}

// Manager owns all per-NPC AI state: threat tables, runtime flags, brains,
// and the per-tick decision loop. It must only be driven from the tick
// goroutine.
type Manager struct {
	registry  *entity.Registry
	catalog   *Catalog
	brains    *Registry
	pipeline  *combat.Pipeline
	flags     *region.Cache
	sanctuary *region.Sanctuary
	roller    *dice.Roller
	clk       clock.Clock
	log       *zap.Logger
	hooks     Hooks

	trainCfg  config.TrainConfig
	assistCfg config.AssistConfig
	tauntCfg  config.TauntConfig
	threatCfg config.ThreatConfig

	runtimes map[string]*Runtime
	// Assist throttles and marks, keyed "<id>|<offender>" or "<group>|<offender>".
	callerCalls map[string]time.Time
	groupCalls  map[string]time.Time
	assistMarks map[string]time.Time
}

// ManagerParams collects the Manager's collaborators.
type ManagerParams struct {
	Registry  *entity.Registry
	Catalog   *Catalog
	Brains    *Registry
	Pipeline  *combat.Pipeline
	Flags     *region.Cache
	Sanctuary *region.Sanctuary
	Roller    *dice.Roller
	Clock     clock.Clock
	Log       *zap.Logger
	Hooks     Hooks
	Train     config.TrainConfig
	Assist    config.AssistConfig
	Taunt     config.TauntConfig
	Threat    config.ThreatConfig
}

// NewManager creates the NPC manager and wires itself into the combat
// pipeline's damage hook.
//
// Precondition: Registry, Catalog, Brains, Pipeline, Flags, Sanctuary,
// Roller, and Log must be non-nil.
func NewManager(p ManagerParams) *Manager {
	m := &Manager{
		registry:    p.Registry,
		catalog:     p.Catalog,
		brains:      p.Brains,
		pipeline:    p.Pipeline,
		flags:       p.Flags,
		sanctuary:   p.Sanctuary,
		roller:      p.Roller,
		clk:         p.Clock,
		log:         p.Log,
		hooks:       p.Hooks,
		trainCfg:    p.Train,
		assistCfg:   p.Assist,
		tauntCfg:    p.Taunt,
		threatCfg:   p.Threat,
		runtimes:    make(map[string]*Runtime),
		callerCalls: make(map[string]time.Time),
		groupCalls:  make(map[string]time.Time),
		assistMarks: make(map[string]time.Time),
	}
	p.Pipeline.OnNpcDamaged = m.OnNpcDamaged
	p.Pipeline.CrimeTarget = m.CrimeTarget
	return m
}

// RegisterNpc creates the runtime record for a freshly spawned NPC.
//
// Postcondition: RuntimeFor(e.ID) returns a state with an empty threat table.
func (m *Manager) RegisterNpc(e *entity.Entity) *Runtime {
	rt := NewRuntime(e.ID, e.ProtoID)
	rt.SpawnRoomID = e.RoomID
	m.runtimes[e.ID] = rt
	return rt
}

// UnregisterNpc drops the runtime record (despawn, death cleanup).
func (m *Manager) UnregisterNpc(entityID string) {
	delete(m.runtimes, entityID)
}

// RuntimeFor returns the runtime record for an NPC entity.
func (m *Manager) RuntimeFor(entityID string) (*Runtime, bool) {
	rt, ok := m.runtimes[entityID]
	return rt, ok
}

// CrimeTarget reports whether damaging the entity counts as a crime:
// law-protected civilians, not invulnerable service providers.
func (m *Manager) CrimeTarget(target *entity.Entity) bool {
	proto, ok := m.catalog.Resolve(target.TemplateID, target.ProtoID)
	if !ok {
		return false
	}
	return proto.HasTag("civilian") || proto.HasTag("lawful")
}

// OnNpcDamaged is the combat pipeline's post-damage hook: it records threat
// (applying any active threat-transfer redirect on the attacker) and fires
// pack assist.
func (m *Manager) OnNpcDamaged(target *entity.Entity, attackerEntityID string, hitDamage int, killed bool) {
	rt, ok := m.runtimes[target.ID]
	if !ok || attackerEntityID == "" {
		return
	}
	now := m.clk.Now()
	if killed {
		rt.Threat.Clear()
		rt.ClearPursuit()
		return
	}

	var redirect *threat.Redirect
	if attacker, found := m.registry.Get(attackerEntityID); found && attacker.Effects != nil {
		if to, pct, has := attacker.Effects.ThreatRedirect(now); has {
			redirect = &threat.Redirect{ToEntityID: to, Pct: pct}
		}
	}
	rt.Threat.RecordDamage(attackerEntityID, float64(hitDamage), now, redirect)

	if proto, found := m.catalog.Resolve(target.TemplateID, target.ProtoID); found && proto.CanCallHelp {
		m.CallAssist(assistCall{
			Caller:     target,
			CallerRT:   rt,
			Proto:      proto,
			OffenderID: attackerEntityID,
			Now:        now,
		})
	}
}

// RecordHeal converts healing into threat: engaged NPCs in the room that
// already track the healer or the healed gain max(1, floor(H*healMult))
// threat toward the healer. Unengaged NPCs never join.
func (m *Manager) RecordHeal(healerEntityID, healedEntityID, roomID string, amount int, now time.Time) {
	if amount <= 0 || m.threatCfg.HealMult < 0 {
		return
	}
	delta := math.Max(1, math.Floor(float64(amount)*m.threatCfg.HealMult))
	for _, e := range m.registry.InRoom(roomID) {
		rt, ok := m.runtimes[e.ID]
		if !ok {
			continue
		}
		if rt.Threat.Value(healerEntityID) > 0 || rt.Threat.Value(healedEntityID) > 0 {
			rt.Threat.Add(healerEntityID, delta, now, threat.AddOptions{})
		}
	}
}

// ApplyTaunt forces the NPC onto the taunter.
//
// Postcondition: Returns false when the taunt immunity window rejected the
// forced-target change; the threat boost lands regardless.
func (m *Manager) ApplyTaunt(npcEntityID, taunterEntityID string, duration time.Duration, boost float64, now time.Time) bool {
	rt, ok := m.runtimes[npcEntityID]
	if !ok {
		return false
	}
	return rt.Threat.ApplyTaunt(taunterEntityID, threat.TauntOptions{
		Duration:       duration,
		ThreatBoost:    boost,
		Now:            now,
		ImmunityWindow: time.Duration(m.tauntCfg.ImmunityMs) * time.Millisecond,
	})
}

// UpdateAll runs one AI tick for every registered NPC, in entity-id order
// for determinism. Each NPC's iteration is wrapped against panics so one
// broken brain never kills the tick.
func (m *Manager) UpdateAll(now time.Time, dt time.Duration) {
	start := time.Now()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m.updateOne(id, now, dt)
	}

	m.log.Debug("npc tick complete",
		zap.Int("npcs", len(ids)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (m *Manager) updateOne(id string, now time.Time, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("npc tick panicked",
				zap.String("entity_id", id),
				zap.Any("panic", r),
			)
		}
	}()

	rt, ok := m.runtimes[id]
	if !ok || rt.Fleeing {
		return
	}
	e, ok := m.registry.Get(id)
	if !ok {
		m.UnregisterNpc(id)
		return
	}
	if !e.Alive {
		return
	}
	proto, ok := m.catalog.Resolve(e.TemplateID, e.ProtoID)
	if !ok {
		m.log.Warn("npc has no prototype",
			zap.String("entity_id", id),
			zap.String("proto_id", e.ProtoID),
		)
		return
	}

	flags := m.flags.Get(m.regionForRoom(e))
	cfg := m.trainParams(flags)

	if m.tickSanctuaryRecapture(e, rt, proto, flags, cfg, now) {
		return
	}
	if m.tickDriftHome(e, rt, cfg, now) {
		return
	}
	if m.tickFearFlee(e, rt, cfg, now) {
		return
	}
	if m.tickGuardSweep(e, rt, proto, flags, cfg, now) {
		return
	}

	rt.Threat.Decay(threat.DecayOptions{
		Now:      now,
		RoleFor:  m.roleForEntity,
		Validate: m.validatorFor(e, now, false),
	})

	allowCross := cfg.Enabled && cfg.RoomsEnabled
	targetID, _ := rt.Threat.SelectTarget(now, m.validatorFor(e, now, allowCross))

	if m.tickTrainChase(e, rt, proto, cfg, targetID, now) {
		return
	}

	p := m.buildPerception(e, proto, rt, flags, targetID, now)
	brain := m.brains.ForPrototype(proto)
	decision, decided := brain.Decide(p, dt)
	decision, decided = m.applyFallbacks(decision, decided, p, rt, now)
	if !decided {
		return
	}
	m.dispatch(e, rt, proto, p, decision, now)
}

// applyFallbacks synthesizes aggression the brain failed to produce:
// aggressive and guard NPCs attack a present-in-room threat leader on an
// 800 ms cooldown, and guards always punish severe criminals.
func (m *Manager) applyFallbacks(d Decision, decided bool, p Perception, rt *Runtime, now time.Time) (Decision, bool) {
	if decided && d.Kind == DecideAttackEntity {
		return d, true
	}
	aggressiveKind := p.Behavior == BehaviorAggressive || p.Behavior == BehaviorGuard
	if !aggressiveKind {
		return d, decided
	}
	if p.Behavior == BehaviorGuard {
		if pv, ok := worstCriminal(p); ok {
			return Decision{Kind: DecideAttackEntity, TargetEntityID: pv.EntityID}, true
		}
	}
	if p.TargetID == "" {
		return d, decided
	}
	if _, inRoom := p.PlayerByEntityID(p.TargetID); !inRoom {
		return d, decided
	}
	if now.Sub(rt.LastAttackAt) < attackFallbackCooldown {
		return d, decided
	}
	return Decision{Kind: DecideAttackEntity, TargetEntityID: p.TargetID}, true
}

// dispatch executes one brain decision.
func (m *Manager) dispatch(e *entity.Entity, rt *Runtime, proto *Prototype, p Perception, d Decision, now time.Time) {
	switch d.Kind {
	case DecideIdle:
	case DecideSay:
		m.say(e.RoomID, e.Name, d.Text)
	case DecideFlee:
		m.flee(e, rt, p)
	case DecideMoveToRoom:
		if d.RoomID != "" && !rt.MovedThisTick(now) {
			m.moveNpcToRoom(e, rt, d.RoomID, now)
		}
	case DecideAttackEntity:
		m.attack(e, rt, proto, d.TargetEntityID, now)
	}
}

// flee despawns a coward: flavor bark, despawn fanout, runtime dropped.
func (m *Manager) flee(e *entity.Entity, rt *Runtime, p Perception) {
	rt.Fleeing = true
	if len(p.Players) > 0 {
		m.say(e.RoomID, e.Name, "squeals and bolts!")
	}
	if m.hooks.Despawn != nil {
		m.hooks.Despawn(e.ID)
	} else if err := m.registry.RemoveEntity(e.ID); err != nil {
		m.log.Debug("flee cleanup failed", zap.String("entity_id", e.ID), zap.Error(err))
	}
	m.UnregisterNpc(e.ID)
}

// attack re-validates the target through the engage state law and the
// melee-range gate, then lands a melee swing via the combat pipeline.
func (m *Manager) attack(e *entity.Entity, rt *Runtime, proto *Prototype, targetID string, now time.Time) {
	target, ok := m.registry.Get(targetID)
	if !ok {
		return
	}
	check := IsValidCombatTarget(EngageInput{Now: now, Target: target, AttackerRoomID: e.RoomID})
	if !check.OK {
		return
	}
	if e.DistanceXZ(target.X, target.Z) > meleeRange {
		return
	}
	rt.LastAttackAt = now

	if proto.Behavior == BehaviorGuard && proto.CanCallHelp {
		m.CallAssist(assistCall{Caller: e, CallerRT: rt, Proto: proto, OffenderID: targetID, Now: now})
	}
	m.bark(e, rt, proto, now)

	dmg := m.ComputeNpcMeleeDamage(proto)
	in := combat.DamageInput{
		TargetID:         targetID,
		Amount:           float64(dmg),
		School:           "physical",
		Tag:              "melee",
		AttackerEntityID: e.ID,
	}

	if target.Kind == entity.KindPlayer {
		res, err := m.pipeline.DamagePlayer(in)
		if err != nil {
			return
		}
		if res.Residual > 0 || res.Absorbed > 0 {
			m.say(target.RoomID, "", combatLine(e.Name, target.Name, res.Residual))
		}
		if m.hooks.EntityUpdated != nil {
			m.hooks.EntityUpdated(target)
		}
		if res.Killed && m.hooks.OnPlayerKilled != nil {
			m.hooks.OnPlayerKilled(target, e.ID)
		}
		return
	}

	// Guards swinging at hostile NPCs share the same pipeline.
	res, err := m.pipeline.DamageNPC(in)
	if err != nil {
		return
	}
	if res.Residual > 0 || res.Absorbed > 0 {
		m.say(target.RoomID, "", combatLine(e.Name, target.Name, res.Residual))
	}
	if res.Killed && m.hooks.OnNpcKilled != nil {
		m.hooks.OnNpcKilled(targetID, e.ID)
	}
}

// bark rolls the prototype's taunt lines, honoring per-line cooldowns.
func (m *Manager) bark(e *entity.Entity, rt *Runtime, proto *Prototype, now time.Time) {
	for i, line := range proto.Taunts {
		if cd := time.Duration(line.CooldownMs) * time.Millisecond; cd > 0 {
			if now.Sub(rt.LastTauntLineAt[i]) < cd {
				continue
			}
		}
		if !m.roller.Chance(line.Chance) {
			continue
		}
		rt.LastTauntLineAt[i] = now
		m.say(e.RoomID, e.Name, line.Text)
		return
	}
}

// ComputeNpcMeleeDamage rolls one melee swing: a level-scaled base with
// ±25% jitter, never below 1.
func (m *Manager) ComputeNpcMeleeDamage(proto *Prototype) int {
	base := 3 + 2*proto.Level
	spread := base / 4
	dmg := m.roller.Between(base-spread, base+spread)
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// moveNpcToRoom relocates the NPC with fanout and stamps the per-tick
// move guard.
func (m *Manager) moveNpcToRoom(e *entity.Entity, rt *Runtime, roomID string, now time.Time) {
	from := e.RoomID
	if err := m.registry.MoveToRoom(e.ID, roomID); err != nil {
		m.log.Warn("npc room move failed",
			zap.String("entity_id", e.ID),
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}
	rt.TrainMovedAt = now
	if m.hooks.EntityMoved != nil && from != roomID {
		m.hooks.EntityMoved(e, from)
	}
}

// stepToward advances the entity's XZ pose by at most dist toward (x, z).
func (m *Manager) stepToward(e *entity.Entity, x, z, dist float64) {
	dx := x - e.X
	dz := z - e.Z
	length := math.Sqrt(dx*dx + dz*dz)
	if length <= dist || length == 0 {
		m.setNpcPosition(e, x, e.Y, z)
		return
	}
	m.setNpcPosition(e, e.X+dx/length*dist, e.Y, e.Z+dz/length*dist)
}

func (m *Manager) setNpcPosition(e *entity.Entity, x, y, z float64) {
	if err := m.registry.SetPosition(e.ID, x, y, z); err != nil {
		m.log.Warn("npc position update rejected",
			zap.String("entity_id", e.ID),
			zap.Error(err),
		)
		return
	}
	if m.hooks.EntityUpdated != nil {
		m.hooks.EntityUpdated(e)
	}
}

func (m *Manager) say(roomID, speaker, text string) {
	if m.hooks.Say != nil {
		m.hooks.Say(roomID, speaker, text)
	}
}

// regionForRoom resolves the region governing the entity's current room.
func (m *Manager) regionForRoom(e *entity.Entity) string {
	if m.hooks.RegionForRoom != nil {
		if r := m.hooks.RegionForRoom(e.RoomID); r != "" {
			return r
		}
	}
	return e.RegionID
}

// roomIsSanctuary reports whether roomID lies in a sanctuary region.
func (m *Manager) roomIsSanctuary(roomID string) bool {
	if m.hooks.RegionForRoom == nil {
		return false
	}
	return m.flags.Get(m.hooks.RegionForRoom(roomID)).Sanctuary
}

// roleForEntity maps a target entity id to its combat role for decay math.
func (m *Manager) roleForEntity(entityID string) character.CombatRole {
	e, ok := m.registry.Get(entityID)
	if !ok || e.Kind != entity.KindPlayer {
		return character.RoleDPS
	}
	if char := m.characterFor(e.OwnerSessionID); char != nil {
		return char.Role()
	}
	return character.RoleDPS
}

func (m *Manager) characterFor(sessionID string) *character.Character {
	if m.hooks.CharacterFor == nil || sessionID == "" {
		return nil
	}
	return m.hooks.CharacterFor(sessionID)
}

// combatLine formats the standard melee combat line.
func combatLine(attacker, target string, dmg int) string {
	if dmg <= 0 {
		return fmt.Sprintf("[world] %s hits %s but the blow is absorbed.", attacker, target)
	}
	return fmt.Sprintf("[world] %s hits %s for %d.", attacker, target, dmg)
}
