package combat

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/entity"
)

// inCombatWindow is how long a damage event tags both sides as in-combat.
const inCombatWindow = 10 * time.Second

// crimeHeatWindow is how long a recorded crime stays hot.
const crimeHeatWindow = 5 * time.Minute

// PvPMode selects the player-vs-player damage envelope.
type PvPMode string

const (
	ModePvE  PvPMode = "pve"
	ModeDuel PvPMode = "duel"
	ModeWar  PvPMode = "war"
)

// pvpMultiplier is the hook for mode-specific scaling; 1 for all modes in v1.
func pvpMultiplier(PvPMode) float64 { return 1 }

// DamageInput describes one damage event.
type DamageInput struct {
	TargetID string
	// Amount is the raw damage before absorb. Non-finite values are zeroed.
	Amount float64
	// School is the damage school for absorb matching ("physical", "fire", ...).
	School string
	// Tag labels the event for combat log lines.
	Tag string
	// AttackerEntityID is the damaging entity, when one exists.
	AttackerEntityID string
	// AttackerChar is set when a player character dealt the damage.
	AttackerChar *character.Character
	Mode         PvPMode
}

// DamageResult reports the outcome of one damage event.
type DamageResult struct {
	PrevHP int
	NewHP  int
	// Absorbed is the damage eaten by shield buckets.
	Absorbed int
	// Residual is the damage applied to hp.
	Residual int
	// HitDamage is absorbed + residual; drives CC break.
	HitDamage int
	WasAlive  bool
	// Killed is true when this event took the target from alive to 0 hp.
	Killed bool
	// Protected is true when the target ignored the event.
	Protected bool
	// BrokeCC lists crowd-control effects removed by the hit.
	BrokeCC []string
}

// Pipeline applies damage and healing to entities. All mutation happens on
// the tick goroutine; hooks fan results out to the NPC manager and death
// pipeline without creating package cycles.
type Pipeline struct {
	registry *entity.Registry
	clk      clock.Clock
	log      *zap.Logger

	// OnNpcDamaged fires after damage lands on a live NPC; the NPC manager
	// uses it for threat recording (including transfer) and pack assist.
	OnNpcDamaged func(target *entity.Entity, attackerEntityID string, hitDamage int, killed bool)
	// CrimeTarget reports whether damaging the entity is a crime.
	CrimeTarget func(target *entity.Entity) bool
}

// NewPipeline creates a combat Pipeline.
//
// Precondition: registry, clk, and log must be non-nil.
func NewPipeline(registry *entity.Registry, clk clock.Clock, log *zap.Logger) *Pipeline {
	return &Pipeline{registry: registry, clk: clk, log: log}
}

// NormalizeDamage canonicalises a raw amount: non-finite becomes 0, the
// value floors to an integer, and any positive raw amount deals at least 1.
func NormalizeDamage(raw float64) int {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	n := int(math.Floor(raw))
	if raw > 0 && n < 1 {
		n = 1
	}
	if n < 0 {
		n = 0
	}
	return n
}

// DamageNPC applies one damage event to an NPC (or pet/node) entity.
// Service-protected targets are a no-op returning current hp. Fatal events
// set Killed; callers route kills through the death pipeline.
//
// Postcondition: the threat table reflects the full event (via OnNpcDamaged)
// before this returns.
func (p *Pipeline) DamageNPC(in DamageInput) (DamageResult, error) {
	target, ok := p.registry.Get(in.TargetID)
	if !ok {
		return DamageResult{}, fmt.Errorf("damage target %q not found", in.TargetID)
	}
	now := p.clk.Now()

	res := DamageResult{PrevHP: target.HP, NewHP: target.HP, WasAlive: target.Alive}
	if target.Protected() {
		res.Protected = true
		return res, nil
	}

	amount := NormalizeDamage(in.Amount)
	absorbed, residual := target.Effects.Absorb(amount, in.School, now)
	res.Absorbed = absorbed
	res.Residual = residual
	res.HitDamage = absorbed + residual

	newHP := target.HP - residual
	if newHP < 0 {
		newHP = 0
	}
	target.HP = newHP
	res.NewHP = newHP
	res.Killed = res.WasAlive && newHP == 0

	if res.WasAlive && newHP > 0 && res.HitDamage > 0 {
		for _, e := range target.Effects.BreakOnDamage(now) {
			res.BrokeCC = append(res.BrokeCC, e.SourceID)
		}
	}
	if res.Killed {
		target.Effects.ClearAll()
	}

	target.MarkInCombat(now, inCombatWindow)
	if attacker, ok := p.registry.Get(in.AttackerEntityID); ok {
		attacker.MarkInCombat(now, inCombatWindow)
	}

	if in.AttackerChar != nil && p.CrimeTarget != nil && p.CrimeTarget(target) {
		severity := character.CrimeMinor
		if res.Killed {
			severity = character.CrimeSevere
		}
		in.AttackerChar.RecordCrime(now, severity, crimeHeatWindow)
	}

	if p.OnNpcDamaged != nil && res.HitDamage > 0 {
		p.OnNpcDamaged(target, in.AttackerEntityID, res.HitDamage, res.Killed)
	}
	return res, nil
}

// DamagePlayer applies one damage event to a player entity. Invulnerable
// targets no-op. On a fatal hit Killed is true; the caller owns the death
// flow and messaging.
func (p *Pipeline) DamagePlayer(in DamageInput) (DamageResult, error) {
	target, ok := p.registry.Get(in.TargetID)
	if !ok {
		return DamageResult{}, fmt.Errorf("damage target %q not found", in.TargetID)
	}
	now := p.clk.Now()

	res := DamageResult{PrevHP: target.HP, NewHP: target.HP, WasAlive: target.Alive}
	if target.Invulnerable {
		res.Protected = true
		return res, nil
	}

	mode := in.Mode
	if mode == "" {
		mode = ModePvE
	}
	amount := NormalizeDamage(in.Amount * pvpMultiplier(mode))
	absorbed, residual := target.Effects.Absorb(amount, in.School, now)
	res.Absorbed = absorbed
	res.Residual = residual
	res.HitDamage = absorbed + residual

	newHP := target.HP - residual
	if newHP < 0 {
		newHP = 0
	}
	target.HP = newHP
	res.NewHP = newHP
	res.Killed = res.WasAlive && newHP == 0

	if res.WasAlive && newHP > 0 && res.HitDamage > 0 {
		for _, e := range target.Effects.BreakOnDamage(now) {
			res.BrokeCC = append(res.BrokeCC, e.SourceID)
		}
	}
	if res.Killed {
		target.Alive = false
		target.Effects.ClearAll()
	}

	target.MarkInCombat(now, inCombatWindow)
	if attacker, ok := p.registry.Get(in.AttackerEntityID); ok {
		attacker.MarkInCombat(now, inCombatWindow)
	}
	return res, nil
}

// HealPlayer restores hp, clamped to max.
//
// Postcondition: Returns the amount actually healed (0 for dead targets).
func (p *Pipeline) HealPlayer(targetID string, amount int) (int, error) {
	target, ok := p.registry.Get(targetID)
	if !ok {
		return 0, fmt.Errorf("heal target %q not found", targetID)
	}
	if !target.Alive || amount <= 0 {
		return 0, nil
	}
	healed := amount
	if target.HP+healed > target.MaxHP {
		healed = target.MaxHP - target.HP
	}
	target.HP += healed
	return healed, nil
}
