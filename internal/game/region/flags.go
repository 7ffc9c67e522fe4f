// Package region provides region-flag caching and town sanctuary state:
// breaches, pressure accounting, and siege alarms.
package region

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AggroMode controls proactive NPC hostility within a region.
type AggroMode string

const (
	// AggroDefault permits normal proactive aggression.
	AggroDefault AggroMode = "default"
	// AggroRetaliateOnly suppresses proactive hostility; retaliation via
	// the threat table still applies.
	AggroRetaliateOnly AggroMode = "retaliate_only"
)

// PursuitProfile selects the regional train tuning envelope.
type PursuitProfile string

const (
	PursuitDefault PursuitProfile = "default"
	// PursuitShort clamps leashes, timeout, and room range, and disables assist.
	PursuitShort PursuitProfile = "short"
)

// Flags is the cached per-region policy snapshot.
type Flags struct {
	NpcAggroMode   AggroMode
	PursuitProfile PursuitProfile
	// Sanctuary marks the region's town tiles as safe-zone.
	Sanctuary bool
	// GuardRecaptureSweep lets sanctuary guards hunt intruders nearby.
	GuardRecaptureSweep bool
	// GuardSortie extends guard range during a siege.
	GuardSortie bool
	// GuardSortieBonusTiles is the extra sweep range while besieged.
	GuardSortieBonusTiles int
	// MoraleProactive widens the recapture sweep to in-combat NPCs under siege.
	MoraleProactive bool
}

// DefaultFlags is returned for unknown regions.
var DefaultFlags = Flags{NpcAggroMode: AggroDefault, PursuitProfile: PursuitDefault}

// SettlementFlags is the policy applied to regions anchored by a settlement
// when no external flag service is wired: safe-zone tiles, sweeping guards,
// and short-profile pursuit.
func SettlementFlags() Flags {
	return Flags{
		NpcAggroMode:        AggroDefault,
		PursuitProfile:      PursuitShort,
		Sanctuary:           true,
		GuardRecaptureSweep: true,
	}
}

// Provider fetches authoritative region flags. The production provider is
// an external service; tests use a static map.
type Provider interface {
	FetchFlags(ctx context.Context, regionID string) (Flags, error)
}

// StaticProvider serves flags from a fixed map. Unknown regions get defaults.
type StaticProvider struct {
	Flags map[string]Flags
}

// FetchFlags returns the configured flags for regionID.
func (p *StaticProvider) FetchFlags(_ context.Context, regionID string) (Flags, error) {
	if f, ok := p.Flags[regionID]; ok {
		return f, nil
	}
	return DefaultFlags, nil
}

// minRefreshInterval is the per-key floor between background refreshes.
const minRefreshInterval = 5 * time.Second

type cacheEntry struct {
	flags         Flags
	known         bool
	lastRefreshAt time.Time
	refreshing    bool
}

// Cache serves region flags synchronously from memory. A miss or stale
// entry triggers a throttled background refresh; the synchronous call
// returns the last known (or default) value and never blocks the tick.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	provider Provider
	log      *zap.Logger
}

// NewCache creates a Cache over the given provider.
//
// Precondition: provider and log must be non-nil.
func NewCache(provider Provider, log *zap.Logger) *Cache {
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		provider: provider,
		log:      log,
	}
}

// Get returns the cached flags for regionID, scheduling a refresh when the
// entry is missing or older than the refresh floor.
//
// Postcondition: never blocks; unknown regions return DefaultFlags.
func (c *Cache) Get(regionID string) Flags {
	if regionID == "" {
		return DefaultFlags
	}
	c.mu.Lock()
	e, ok := c.entries[regionID]
	if !ok {
		e = &cacheEntry{flags: DefaultFlags}
		c.entries[regionID] = e
	}
	needRefresh := !e.refreshing && time.Since(e.lastRefreshAt) >= minRefreshInterval
	if needRefresh {
		e.refreshing = true
		e.lastRefreshAt = time.Now()
	}
	flags := e.flags
	c.mu.Unlock()

	if needRefresh {
		go c.refresh(regionID)
	}
	return flags
}

// Put primes the cache, mainly for tests and startup preload.
func (c *Cache) Put(regionID string, flags Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[regionID] = &cacheEntry{flags: flags, known: true, lastRefreshAt: time.Now()}
}

func (c *Cache) refresh(regionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	flags, err := c.provider.FetchFlags(ctx, regionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[regionID]
	if e == nil {
		return
	}
	e.refreshing = false
	if err != nil {
		c.log.Warn("region flag refresh failed",
			zap.String("region_id", regionID),
			zap.Error(err),
		)
		return
	}
	e.flags = flags
	e.known = true
}
