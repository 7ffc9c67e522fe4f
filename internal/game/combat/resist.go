// Package combat provides the damage pipeline: absorb shields, resist
// mitigation, crowd-control break, HOT/DOT ticking, and NPC melee.
package combat

import "math"

// ResistConfig tunes the resist mitigation curve.
type ResistConfig struct {
	// K is the resist softcap constant; resist/K is the raw reduction.
	K float64
	// CapReduction is the maximum damage reduction fraction.
	CapReduction float64
	// MinDamage optionally enforces a non-zero floor after mitigation.
	MinDamage int
}

// DefaultResistConfig matches the live tuning.
var DefaultResistConfig = ResistConfig{K: 200, CapReduction: 0.75}

// ResistMultiplier returns the damage multiplier for a resist score:
// 1 − clamp(resist/K, 0, CapReduction).
//
// Postcondition: result in [1 − CapReduction, 1].
func ResistMultiplier(resist float64, cfg ResistConfig) float64 {
	if cfg.K <= 0 {
		cfg.K = DefaultResistConfig.K
	}
	if cfg.CapReduction <= 0 {
		cfg.CapReduction = DefaultResistConfig.CapReduction
	}
	reduction := resist / cfg.K
	if reduction < 0 {
		reduction = 0
	}
	if reduction > cfg.CapReduction {
		reduction = cfg.CapReduction
	}
	return 1 - reduction
}

// ApplyResistMitigation mitigates damage through the resist curve, flooring
// the result and optionally enforcing the configured minimum.
func ApplyResistMitigation(damage int, resist float64, cfg ResistConfig) int {
	if damage <= 0 {
		return 0
	}
	out := int(math.Floor(float64(damage) * ResistMultiplier(resist, cfg)))
	if out < cfg.MinDamage {
		out = cfg.MinDamage
	}
	return out
}
