package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/clock"
)

// Pass is one named per-tick stage. Passes run in registration order and
// all observe the same simNow.
type Pass struct {
	Name string
	Fn   func(now time.Time, dt time.Duration)
}

// TickEngine drives the fixed-interval simulation loop. simNow advances by
// the configured delta rather than wall clock, so tests stepping the engine
// manually are deterministic.
//
// Invariant: no two passes observe different simNow values within a tick.
type TickEngine struct {
	sim      *clock.SimClock
	interval time.Duration
	passes   []Pass
	log      *zap.Logger
}

// NewTickEngine creates a TickEngine over the given simulation clock.
//
// Precondition: sim and log must be non-nil; interval > 0.
func NewTickEngine(sim *clock.SimClock, interval time.Duration, log *zap.Logger) *TickEngine {
	return &TickEngine{sim: sim, interval: interval, log: log}
}

// AddPass appends a pass to the per-tick pipeline.
func (t *TickEngine) AddPass(name string, fn func(now time.Time, dt time.Duration)) {
	t.passes = append(t.passes, Pass{Name: name, Fn: fn})
}

// Interval returns the configured tick interval.
func (t *TickEngine) Interval() time.Duration { return t.interval }

// Now returns the current simNow.
func (t *TickEngine) Now() time.Time { return t.sim.Now() }

// StepOnce advances simNow by one interval and runs every pass against the
// new timestamp. A panicking pass is logged and swallowed; a tick never
// crashes the loop.
func (t *TickEngine) StepOnce() {
	t.sim.Advance(t.interval)
	now := t.sim.Now()
	for _, p := range t.passes {
		t.runPass(p, now)
	}
}

func (t *TickEngine) runPass(p Pass, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tick pass panicked",
				zap.String("pass", p.Name),
				zap.Any("panic", r),
			)
		}
	}()
	start := time.Now()
	p.Fn(now, t.interval)
	if elapsed := time.Since(start); elapsed > t.interval {
		t.log.Warn("tick pass overran interval",
			zap.String("pass", p.Name),
			zap.Duration("duration", elapsed),
		)
	}
}

// Run drives the loop at the configured wall interval until ctx is done.
// Ticks that fall behind are coalesced: the engine steps once per ticker
// fire regardless of how late it is.
func (t *TickEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.log.Info("tick engine started", zap.Duration("interval", t.interval))
	for {
		select {
		case <-ctx.Done():
			t.log.Info("tick engine stopped")
			return
		case <-ticker.C:
			t.StepOnce()
		}
	}
}
