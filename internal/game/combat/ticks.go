package combat

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/entity"
)

// KillHandler routes fatal DOT ticks into the canonical death pipeline.
type KillHandler interface {
	HandleNpcDeath(npcEntityID, killerEntityID string)
}

// TickOutput controls per-tick combat messaging.
type TickOutput struct {
	// HotTickMessages emits a line for each HOT tick.
	HotTickMessages bool
	// DotCombatLog emits a line for each DOT tick.
	DotCombatLog bool
	// Line delivers a combat line to everyone in roomID; nil discards.
	Line func(roomID, text string)
}

func (o TickOutput) line(roomID, text string) {
	if o.Line != nil {
		o.Line(roomID, text)
	}
}

// maxCatchUpTicks bounds how many missed periods one pass replays, so a
// long scheduler stall cannot burst-heal or burst-damage.
const maxCatchUpTicks = 4

// TickHots advances heal-over-time effects on living players.
//
// Postcondition: every due HOT tick at or before now has healed its target
// (clamped to max hp) and advanced its next-due stamp.
func (p *Pipeline) TickHots(now time.Time, out TickOutput) {
	for _, e := range p.registry.All() {
		if e.Kind != entity.KindPlayer || !e.Alive {
			continue
		}
		for _, eff := range e.Effects.Active(now) {
			hot := eff.Hot
			if hot == nil || hot.PerTickHeal <= 0 || hot.TickInterval <= 0 {
				continue
			}
			for i := 0; i < maxCatchUpTicks && !hot.NextTickAt.After(now); i++ {
				healed := hot.PerTickHeal
				if e.HP+healed > e.MaxHP {
					healed = e.MaxHP - e.HP
				}
				e.HP += healed
				hot.NextTickAt = hot.NextTickAt.Add(hot.TickInterval)
				if healed > 0 && out.HotTickMessages {
					out.line(e.RoomID, fmt.Sprintf("[world] %s is healed for %d by %s.", e.Name, healed, eff.SourceID))
				}
			}
		}
	}
}

// TickDots advances damage-over-time effects. Player ticks flow through
// DamagePlayer; NPC ticks flow through ApplyDotDamage so threat credit and
// the canonical death pipeline apply.
func (p *Pipeline) TickDots(now time.Time, out TickOutput, killer KillHandler) {
	for _, e := range p.registry.All() {
		if !e.Alive {
			continue
		}
		for _, eff := range e.Effects.Active(now) {
			dot := eff.Dot
			if dot == nil || dot.PerTickDamage <= 0 || dot.TickInterval <= 0 {
				continue
			}
			for i := 0; i < maxCatchUpTicks && !dot.NextTickAt.After(now); i++ {
				dot.NextTickAt = dot.NextTickAt.Add(dot.TickInterval)
				p.applyDotTick(e, eff.AppliedByID, dot.PerTickDamage, dot.School, eff.SourceID, out, killer)
				if !e.Alive || e.HP == 0 {
					break
				}
			}
		}
	}
}

// ApplyDotDamage applies one periodic damage tick to an NPC, awarding
// threat best-effort and running the death pipeline on a fatal tick.
func (p *Pipeline) ApplyDotDamage(targetID, sourceEntityID string, amount int, school, label string, out TickOutput, killer KillHandler) {
	target, ok := p.registry.Get(targetID)
	if !ok {
		return
	}
	p.applyDotTick(target, sourceEntityID, amount, school, label, out, killer)
}

func (p *Pipeline) applyDotTick(target *entity.Entity, sourceEntityID string, amount int, school, label string, out TickOutput, killer KillHandler) {
	in := DamageInput{
		TargetID:         target.ID,
		Amount:           float64(amount),
		School:           school,
		Tag:              "dot",
		AttackerEntityID: sourceEntityID,
	}
	var res DamageResult
	var err error
	if target.Kind == entity.KindPlayer {
		res, err = p.DamagePlayer(in)
	} else {
		res, err = p.DamageNPC(in)
	}
	if err != nil {
		p.log.Debug("dot tick skipped", zap.String("target_id", target.ID), zap.Error(err))
		return
	}
	if res.Residual > 0 && out.DotCombatLog {
		out.line(target.RoomID, fmt.Sprintf("[world] %s suffers %d %s damage from %s.", target.Name, res.Residual, school, label))
	}
	if res.Killed && target.Kind != entity.KindPlayer && killer != nil {
		killer.HandleNpcDeath(target.ID, sourceEntityID)
	}
}
