package region_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/region"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// countingProvider records fetches and blocks on a signal if asked.
type countingProvider struct {
	mu      sync.Mutex
	fetches int
	flags   map[string]region.Flags
	err     error
}

func (p *countingProvider) FetchFlags(_ context.Context, regionID string) (region.Flags, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.err != nil {
		return region.Flags{}, p.err
	}
	if f, ok := p.flags[regionID]; ok {
		return f, nil
	}
	return region.DefaultFlags, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

func TestCache_EmptyRegionSkipsProvider(t *testing.T) {
	p := &countingProvider{}
	c := region.NewCache(p, zap.NewNop())
	assert.Equal(t, region.DefaultFlags, c.Get(""))
	assert.Equal(t, 0, p.count())
}

func TestCache_MissReturnsDefaultsAndRefreshes(t *testing.T) {
	p := &countingProvider{flags: map[string]region.Flags{
		"town": {Sanctuary: true, NpcAggroMode: region.AggroRetaliateOnly},
	}}
	c := region.NewCache(p, zap.NewNop())

	// First read never blocks on the provider.
	assert.Equal(t, region.DefaultFlags, c.Get("town"))

	require.Eventually(t, func() bool {
		return c.Get("town").Sanctuary
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, region.AggroRetaliateOnly, c.Get("town").NpcAggroMode)
}

func TestCache_RefreshThrottled(t *testing.T) {
	p := &countingProvider{}
	c := region.NewCache(p, zap.NewNop())
	for i := 0; i < 50; i++ {
		c.Get("wilds")
	}
	require.Eventually(t, func() bool { return p.count() == 1 }, time.Second, 5*time.Millisecond)
	// Repeated reads inside the refresh floor never re-fetch.
	for i := 0; i < 50; i++ {
		c.Get("wilds")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.count())
}

func TestCache_PutPrimesWithoutFetching(t *testing.T) {
	p := &countingProvider{err: fmt.Errorf("flag service down")}
	c := region.NewCache(p, zap.NewNop())
	c.Put("town", region.Flags{Sanctuary: true})

	// A primed entry is fresh; reads serve it without touching the provider.
	for i := 0; i < 10; i++ {
		assert.True(t, c.Get("town").Sanctuary)
	}
	assert.Equal(t, 0, p.count())
}

func TestSettlementFlags(t *testing.T) {
	f := region.SettlementFlags()
	assert.True(t, f.Sanctuary)
	assert.True(t, f.GuardRecaptureSweep)
	assert.Equal(t, region.PursuitShort, f.PursuitProfile)
	assert.Equal(t, region.AggroDefault, f.NpcAggroMode)

	// Served as-is through a static provider.
	p := &region.StaticProvider{Flags: map[string]region.Flags{"millbrook": region.SettlementFlags()}}
	got, err := p.FetchFlags(context.Background(), "millbrook")
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestSanctuary_PressureOpensBreach(t *testing.T) {
	s := region.NewSanctuary(region.SanctuaryConfig{
		PressureWindow:    10 * time.Second,
		PressureThreshold: 3,
		BreachDuration:    30 * time.Second,
	}, zap.NewNop(), nil)

	assert.False(t, s.RecordPressure("town:0,0", t0))
	assert.False(t, s.RecordPressure("town:0,0", t0.Add(time.Second)))
	assert.False(t, s.BreachActive("town:0,0", t0.Add(time.Second)))

	assert.True(t, s.RecordPressure("town:0,0", t0.Add(2*time.Second)))
	assert.True(t, s.BreachActive("town:0,0", t0.Add(3*time.Second)))
	assert.True(t, s.UnderSiege("town:0,0", t0.Add(3*time.Second)))

	// The breach closes when its duration lapses.
	assert.False(t, s.BreachActive("town:0,0", t0.Add(40*time.Second)))
}

func TestSanctuary_PressureWindowSlides(t *testing.T) {
	s := region.NewSanctuary(region.SanctuaryConfig{
		PressureWindow:    5 * time.Second,
		PressureThreshold: 3,
		BreachDuration:    30 * time.Second,
	}, zap.NewNop(), nil)

	s.RecordPressure("town:0,0", t0)
	s.RecordPressure("town:0,0", t0.Add(time.Second))
	// The first two entries age out before the third lands.
	assert.False(t, s.RecordPressure("town:0,0", t0.Add(10*time.Second)))
	assert.False(t, s.BreachActive("town:0,0", t0.Add(10*time.Second)))
}

func TestSanctuary_PressureResetsAfterBreach(t *testing.T) {
	s := region.NewSanctuary(region.SanctuaryConfig{
		PressureWindow:    time.Minute,
		PressureThreshold: 2,
		BreachDuration:    10 * time.Second,
	}, zap.NewNop(), nil)

	s.RecordPressure("town:0,0", t0)
	assert.True(t, s.RecordPressure("town:0,0", t0.Add(time.Second)))

	// Accumulated pressure cleared; after the breach lapses escalation
	// starts over.
	assert.False(t, s.RecordPressure("town:0,0", t0.Add(20*time.Second)))
	assert.True(t, s.RecordPressure("town:0,0", t0.Add(21*time.Second)))
}

func TestSanctuary_AlarmFiresWithCooldown(t *testing.T) {
	var alarms []string
	s := region.NewSanctuary(region.SanctuaryConfig{
		PressureThreshold: 1,
		BreachDuration:    time.Second,
		AlarmRangeTiles:   2,
		AlarmCooldown:     time.Minute,
	}, zap.NewNop(), func(roomID string, rangeTiles int) {
		alarms = append(alarms, fmt.Sprintf("%s:%d", roomID, rangeTiles))
	})

	s.OpenBreach("town:0,0", t0)
	require.Equal(t, []string{"town:0,0:2"}, alarms)

	// Inside the cooldown a re-opened breach stays quiet.
	s.OpenBreach("town:0,0", t0.Add(10*time.Second))
	assert.Len(t, alarms, 1)

	s.OpenBreach("town:0,0", t0.Add(2*time.Minute))
	assert.Len(t, alarms, 2)
}

func TestSanctuary_AlarmDisabledWithoutRange(t *testing.T) {
	fired := false
	s := region.NewSanctuary(region.SanctuaryConfig{
		PressureThreshold: 1,
		BreachDuration:    time.Second,
	}, zap.NewNop(), func(string, int) { fired = true })
	s.OpenBreach("town:0,0", t0)
	assert.False(t, fired)
}
