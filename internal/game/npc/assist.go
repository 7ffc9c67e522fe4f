package npc

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/threat"
)

// assistCall is one resolved help request from a damaged pack member.
type assistCall struct {
	Caller     *entity.Entity
	CallerRT   *Runtime
	Proto      *Prototype
	OffenderID string
	Now        time.Time
	// PursuitRoomID, when set, bypasses the group throttle and is where
	// snapped allies move (train assist snap, gate-home).
	PursuitRoomID string
	// SnapAllies moves chosen allies into the pursuit room.
	SnapAllies bool
}

// CallAssist notifies pack allies that the caller was damaged by the
// offender, seeding guaranteed threat buckets so the pack converges.
//
// Postcondition: every chosen ally holds > 0 threat toward the offender.
func (m *Manager) CallAssist(call assistCall) {
	proto := call.Proto
	if !proto.CanCallHelp || proto.GroupID == "" {
		return
	}
	now := call.Now

	if cd := time.Duration(m.assistCfg.CallCooldownMs) * time.Millisecond; cd > 0 {
		key := call.Caller.ID + "|" + call.OffenderID
		if now.Sub(m.callerCalls[key]) < cd {
			return
		}
		m.callerCalls[key] = now
	}
	// Group throttle is bypassed for explicit pursuit calls so a moving
	// train can still drag its pack along.
	if w := time.Duration(m.assistCfg.OffenderWindowMs) * time.Millisecond; w > 0 && call.PursuitRoomID == "" {
		key := proto.GroupID + "|" + call.OffenderID
		if now.Sub(m.groupCalls[key]) < w {
			return
		}
		m.groupCalls[key] = now
	}

	offender, ok := m.registry.Get(call.OffenderID)
	if !ok {
		return
	}

	candidates := m.assistCandidates(call, offender, now)
	if len(candidates) == 0 {
		return
	}

	// Highest existing threat first so already-engaged allies keep the lead;
	// lex id keeps the order deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		ti := m.runtimes[candidates[i].ID].Threat.Value(call.OffenderID)
		tj := m.runtimes[candidates[j].ID].Threat.Value(call.OffenderID)
		if ti != tj {
			return ti > tj
		}
		return candidates[i].ID < candidates[j].ID
	})
	if max := m.assistCfg.MaxAlliesPerCall; max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	callerThreat := call.CallerRT.Threat.Value(call.OffenderID)
	markTTL := time.Duration(m.assistCfg.MarkTtlMs) * time.Millisecond
	snapped := 0

	for _, ally := range candidates {
		allyRT := m.runtimes[ally.ID]
		if markTTL > 0 {
			key := ally.ID + "|" + call.OffenderID
			if now.Sub(m.assistMarks[key]) < markTTL {
				continue
			}
			m.assistMarks[key] = now
		}

		existing := allyRT.Threat.Value(call.OffenderID)
		shareMin := m.assistCfg.ThreatShareMin
		var delta float64
		if existing <= 0 || existing < m.assistCfg.MinThreatDeltaToBump {
			delta = math.Max(1, shareMin)
		} else {
			delta = math.Max(shareMin, math.Ceil(m.assistCfg.ThreatSharePct*callerThreat))
		}
		if max := m.assistCfg.ThreatShareMax; max > 0 && delta > max {
			delta = max
		}
		allyRT.Threat.Add(call.OffenderID, delta, now, threat.AddOptions{})

		if call.SnapAllies && call.PursuitRoomID != "" && !allyRT.MovedThisTick(now) {
			if cap := m.trainCfg.AssistSnapMaxAllies; cap > 0 && snapped >= cap {
				continue
			}
			m.moveNpcToRoom(ally, allyRT, call.PursuitRoomID, now)
			snapped++
		}
	}

	m.log.Debug("pack assist called",
		zap.String("caller_id", call.Caller.ID),
		zap.String("group_id", proto.GroupID),
		zap.String("offender_id", call.OffenderID),
		zap.Int("allies", len(candidates)),
		zap.Int("snapped", snapped),
	)
}

// assistCandidates gathers valid same-group allies in the caller's room and,
// when cross-room assist is enabled, within the grid range of the offender.
// Cross-room reach honors the caller region's pursuit profile.
func (m *Manager) assistCandidates(call assistCall, offender *entity.Entity, now time.Time) []*entity.Entity {
	cfg := m.trainParams(m.flags.Get(m.regionForRoom(call.Caller)))
	crossRoom := cfg.AssistEnabled || call.PursuitRoomID != ""
	seen := map[string]bool{call.Caller.ID: true}
	var out []*entity.Entity

	consider := func(e *entity.Entity) {
		if seen[e.ID] || e.Kind != entity.KindNPC || !e.Alive {
			return
		}
		seen[e.ID] = true
		rt, ok := m.runtimes[e.ID]
		if !ok || rt.Fleeing {
			return
		}
		proto, ok := m.catalog.Resolve(e.TemplateID, e.ProtoID)
		if !ok || proto.GroupID != call.Proto.GroupID {
			return
		}
		check := IsValidCombatTarget(EngageInput{
			Now:            now,
			Target:         offender,
			AttackerRoomID: e.RoomID,
			AllowCrossRoom: crossRoom,
		})
		if !check.OK {
			return
		}
		out = append(out, e)
	}

	for _, e := range m.registry.InRoom(call.Caller.RoomID) {
		consider(e)
	}
	if crossRoom && offender.RoomID != call.Caller.RoomID {
		if dist := room.RoomDistance(call.Caller.RoomID, offender.RoomID); dist >= 0 && dist <= cfg.AssistRange {
			for _, e := range m.registry.InRoom(offender.RoomID) {
				consider(e)
			}
		}
	}
	return out
}
