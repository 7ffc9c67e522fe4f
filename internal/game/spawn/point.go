// Package spawn drives spawn-point reconciliation: shared NPC placement,
// per-owner resource nodes, and the corpse/respawn point cache.
package spawn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Authority classifies who placed a spawn point, derived from the spawnId
// prefix.
type Authority string

const (
	AuthorityAnchor Authority = "anchor"
	AuthoritySeed   Authority = "seed"
	AuthorityBrain  Authority = "brain"
	AuthorityManual Authority = "manual"
)

// Point is one authoritative spawn-point record from the external catalog.
type Point struct {
	ID int64 `yaml:"id"`
	// SpawnID is the authority token; its prefix conveys provenance
	// ("anchor:...", "seed:...", "brain:...", otherwise manual).
	SpawnID  string `yaml:"spawn_id"`
	ShardID  string `yaml:"shard_id"`
	RegionID string `yaml:"region_id"`
	// Type is the point kind: npc|mob|creature|node|resource|town|graveyard|
	// hub|city|outpost|player_start|safe_hub.
	Type      string  `yaml:"type"`
	ProtoID   string  `yaml:"proto_id"`
	VariantID string  `yaml:"variant_id"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Z         float64 `yaml:"z"`
}

// Authority returns the provenance encoded in the SpawnID prefix.
func (p Point) Authority() Authority {
	switch {
	case strings.HasPrefix(p.SpawnID, "anchor:"):
		return AuthorityAnchor
	case strings.HasPrefix(p.SpawnID, "seed:"):
		return AuthoritySeed
	case strings.HasPrefix(p.SpawnID, "brain:"):
		return AuthorityBrain
	default:
		return AuthorityManual
	}
}

// IsNpcLike reports whether the point spawns a shared NPC.
func (p Point) IsNpcLike() bool {
	switch p.Type {
	case "npc", "mob", "creature":
		return true
	}
	return false
}

// IsNodeLike reports whether the point spawns a personal resource node.
func (p Point) IsNodeLike() bool {
	return p.Type == "node" || p.Type == "resource"
}

// settlementTypes are eligible player-respawn destinations.
var settlementTypes = map[string]bool{
	"town": true, "hub": true, "city": true,
	"outpost": true, "player_start": true, "safe_hub": true,
}

// IsSettlement reports whether the point is a settlement respawn candidate.
func (p Point) IsSettlement() bool {
	return settlementTypes[p.Type]
}

// IsGraveyard reports whether the point is a graveyard respawn candidate.
func (p Point) IsGraveyard() bool {
	return p.Type == "graveyard"
}

// Validate checks the point's invariants.
func (p Point) Validate() error {
	var errs []string
	if p.ID == 0 {
		errs = append(errs, "id must not be zero")
	}
	if p.SpawnID == "" {
		errs = append(errs, "spawn_id must not be empty")
	}
	if p.ShardID == "" {
		errs = append(errs, "shard_id must not be empty")
	}
	if p.Type == "" {
		errs = append(errs, "type must not be empty")
	}
	if (p.IsNpcLike() || p.IsNodeLike()) && p.ProtoID == "" {
		errs = append(errs, "proto_id must not be empty for npc and node points")
	}
	if len(errs) > 0 {
		return fmt.Errorf("spawn point %d invalid: %s", p.ID, strings.Join(errs, "; "))
	}
	return nil
}

// Service resolves spawn points for rooms and respawn selection. The
// production implementation is backed by the content catalog; tests use
// StaticService.
type Service interface {
	// PointsForRegion returns all points in the region.
	PointsForRegion(ctx context.Context, shardID, regionID string) ([]Point, error)
	// PointsNear returns points within radius world units of (x, z).
	PointsNear(ctx context.Context, shardID string, x, z, radius float64) ([]Point, error)
}

// StaticService serves spawn points from memory.
type StaticService struct {
	Points []Point
}

// LoadStaticService reads every *.yaml file under dir; each holds a list of
// spawn points.
func LoadStaticService(dir string) (*StaticService, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading spawn dir: %w", err)
	}
	var points []Point
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var batch []Point
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for _, p := range batch {
			if err := p.Validate(); err != nil {
				return nil, err
			}
		}
		points = append(points, batch...)
	}
	return &StaticService{Points: points}, nil
}

// PointsForRegion returns all points in the region.
func (s *StaticService) PointsForRegion(_ context.Context, shardID, regionID string) ([]Point, error) {
	var out []Point
	for _, p := range s.Points {
		if p.ShardID == shardID && p.RegionID == regionID {
			out = append(out, p)
		}
	}
	return out, nil
}

// PointsNear returns points within radius world units of (x, z).
func (s *StaticService) PointsNear(_ context.Context, shardID string, x, z, radius float64) ([]Point, error) {
	var out []Point
	for _, p := range s.Points {
		if p.ShardID != shardID {
			continue
		}
		dx := p.X - x
		dz := p.Z - z
		if dx*dx+dz*dz <= radius*radius {
			out = append(out, p)
		}
	}
	return out, nil
}

// PointCache holds the latest known record per spawn point id. The death
// pipeline consults it at respawn time so moved points take effect without
// a restart.
type PointCache struct {
	mu     sync.RWMutex
	points map[int64]Point
}

// NewPointCache creates an empty cache.
func NewPointCache() *PointCache {
	return &PointCache{points: make(map[int64]Point)}
}

// Put stores or refreshes a point record.
func (c *PointCache) Put(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[p.ID] = p
}

// Get returns the cached record for a spawn point id.
func (c *PointCache) Get(id int64) (Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.points[id]
	return p, ok
}
