package gameserver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/gameserver"
)

func TestTickEngine_StepAdvancesSimTime(t *testing.T) {
	sim := clock.NewSimClock(t0)
	eng := gameserver.NewTickEngine(sim, 50*time.Millisecond, zap.NewNop())

	var seen []time.Time
	eng.AddPass("record", func(now time.Time, dt time.Duration) {
		assert.Equal(t, 50*time.Millisecond, dt)
		seen = append(seen, now)
	})

	eng.StepOnce()
	eng.StepOnce()
	require.Len(t, seen, 2)
	assert.Equal(t, t0.Add(50*time.Millisecond), seen[0])
	assert.Equal(t, t0.Add(100*time.Millisecond), seen[1])
	assert.Equal(t, seen[1], eng.Now())
}

func TestTickEngine_PassesRunInOrderWithSameNow(t *testing.T) {
	sim := clock.NewSimClock(t0)
	eng := gameserver.NewTickEngine(sim, 50*time.Millisecond, zap.NewNop())

	var order []string
	var nows []time.Time
	for _, name := range []string{"regen", "npc", "scheduler"} {
		name := name
		eng.AddPass(name, func(now time.Time, dt time.Duration) {
			order = append(order, name)
			nows = append(nows, now)
		})
	}

	eng.StepOnce()
	assert.Equal(t, []string{"regen", "npc", "scheduler"}, order)
	assert.Equal(t, nows[0], nows[1])
	assert.Equal(t, nows[1], nows[2])
}

func TestTickEngine_PanickingPassDoesNotStopTheTick(t *testing.T) {
	sim := clock.NewSimClock(t0)
	eng := gameserver.NewTickEngine(sim, 50*time.Millisecond, zap.NewNop())

	ran := false
	eng.AddPass("explode", func(time.Time, time.Duration) { panic("boom") })
	eng.AddPass("after", func(time.Time, time.Duration) { ran = true })

	require.NotPanics(t, eng.StepOnce)
	assert.True(t, ran)

	// The engine keeps ticking on later steps too.
	eng.StepOnce()
	assert.Equal(t, t0.Add(100*time.Millisecond), eng.Now())
}

func TestTickEngine_RunStopsOnContextCancel(t *testing.T) {
	sim := clock.NewSimClock(t0)
	eng := gameserver.NewTickEngine(sim, time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	ticks := 0
	eng.AddPass("count", func(time.Time, time.Duration) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestAsyncRunner_ExecutesSubmittedWork(t *testing.T) {
	r := gameserver.NewAsyncRunner(2, 8, zap.NewNop())
	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		ok := r.Submit(func(context.Context) {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		require.True(t, ok)
	}
	wg.Wait()
	r.Close()
	assert.Len(t, got, 5)
}

func TestAsyncRunner_DropsWhenQueueFull(t *testing.T) {
	r := gameserver.NewAsyncRunner(1, 1, zap.NewNop())
	defer r.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, r.Submit(func(context.Context) {
		close(started)
		<-block
	}))
	<-started

	// One slot queues; the next submit drops.
	require.True(t, r.Submit(func(context.Context) {}))
	dropped := false
	for i := 0; i < 10; i++ {
		if !r.Submit(func(context.Context) {}) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
	close(block)
}

func TestAsyncRunner_PanicInTaskIsContained(t *testing.T) {
	r := gameserver.NewAsyncRunner(1, 4, zap.NewNop())
	done := make(chan struct{})
	require.True(t, r.Submit(func(context.Context) { panic("boom") }))
	require.True(t, r.Submit(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	r.Close()
}

func TestAsyncRunner_CloseDrainsAndIsIdempotent(t *testing.T) {
	r := gameserver.NewAsyncRunner(1, 8, zap.NewNop())
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 4; i++ {
		require.True(t, r.Submit(func(context.Context) {
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}
	r.Close()
	r.Close()
	assert.Equal(t, 4, ran)
}
