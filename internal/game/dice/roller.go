package dice

// Roller wraps a Source with the game's common roll shapes.
type Roller struct {
	src Source
}

// NewRoller creates a Roller over src.
//
// Precondition: src must be non-nil.
func NewRoller(src Source) *Roller {
	return &Roller{src: src}
}

// Chance returns true with probability p.
//
// Precondition: p in [0, 1]. Values <= 0 never fire; values >= 1 always fire.
func (r *Roller) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	// 1e-6 resolution is plenty for drop tables.
	return r.src.Intn(1_000_000) < int(p*1_000_000)
}

// Between returns a uniform int in [min, max].
//
// Precondition: min <= max.
func (r *Roller) Between(min, max int) int {
	if min >= max {
		return min
	}
	return min + r.src.Intn(max-min+1)
}

// Pick returns a uniform index in [0, n).
//
// Precondition: n > 0.
func (r *Roller) Pick(n int) int {
	return r.src.Intn(n)
}
