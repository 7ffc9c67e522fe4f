// Package respawn places dead players back into the world: spawn-point
// selection ladder, settlement-versus-graveyard policy, and the full-heal
// plus persist that follows.
package respawn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/spawn"
)

// nearRadius is the fallback search radius around the death location.
const nearRadius = 500.0

// hostileVariants excludes settlements that would kill the player on arrival.
var hostileVariants = map[string]bool{"kos": true, "hostile": true}

// CharacterStore persists the character's new position and region.
type CharacterStore interface {
	SavePosition(ctx context.Context, char *character.Character) error
}

// Hooks are the service's outward seams; nil fields no-op.
type Hooks struct {
	// EntityMoved fans out a room change to both rooms.
	EntityMoved func(e *entity.Entity, fromRoomID string)
	// EntityUpdated fans out the heal and pose delta.
	EntityUpdated func(e *entity.Entity)
	// Async launches fire-and-forget persistence; nil uses go.
	Async func(fn func())
}

// Service selects and applies player respawns.
type Service struct {
	registry *entity.Registry
	points   spawn.Service
	rooms    spawn.RoomMapper
	store    CharacterStore
	log      *zap.Logger
	hooks    Hooks
	// OriginRegionID is the last-resort respawn region.
	OriginRegionID string
}

// NewService creates a respawn Service.
//
// Precondition: registry, points, and log must be non-nil; rooms nil uses
// the default grid mapper.
func NewService(registry *entity.Registry, points spawn.Service, rooms spawn.RoomMapper, store CharacterStore, log *zap.Logger, hooks Hooks) *Service {
	if rooms == nil {
		rooms = spawn.GridRoomMapper(spawn.DefaultRoomSize)
	}
	return &Service{
		registry:       registry,
		points:         points,
		rooms:          rooms,
		store:          store,
		log:            log,
		hooks:          hooks,
		OriginRegionID: "origin",
	}
}

// RespawnPlayer moves a dead player to its respawn point, heals it to full,
// and persists the new position. Falls back to an in-place heal when no
// spawn point can be found.
//
// Postcondition: the entity is alive at full hp with combat flags cleared.
func (s *Service) RespawnPlayer(ctx context.Context, e *entity.Entity, char *character.Character) {
	point, found := s.selectPoint(ctx, char)

	fromRoom := e.RoomID
	if found {
		roomID := s.rooms(point)
		e.X, e.Y, e.Z = point.X, point.Y, point.Z
		if roomID != e.RoomID {
			if err := s.registry.MoveToRoom(e.ID, roomID); err != nil {
				s.log.Warn("respawn room move failed",
					zap.String("entity_id", e.ID),
					zap.String("room_id", roomID),
					zap.Error(err),
				)
			}
		}
		char.X, char.Y, char.Z = point.X, point.Y, point.Z
		if point.RegionID != "" {
			char.LastRegionID = point.RegionID
		}
	}

	e.Alive = true
	e.HP = e.MaxHP
	e.InCombatUntil = time.Time{}
	e.Effects.ClearAll()
	char.CurrentHP = char.MaxHP

	if s.hooks.EntityMoved != nil && e.RoomID != fromRoom {
		s.hooks.EntityMoved(e, fromRoom)
	}
	if s.hooks.EntityUpdated != nil {
		s.hooks.EntityUpdated(e)
	}

	if s.store != nil {
		snapshot := char
		s.async(func() {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.store.SavePosition(pctx, snapshot); err != nil {
				s.log.Warn("respawn position persist failed",
					zap.Int64("character_id", snapshot.ID),
					zap.Error(err),
				)
			}
		})
	}

	s.log.Info("player respawned",
		zap.String("entity_id", e.ID),
		zap.String("room_id", e.RoomID),
		zap.Bool("in_place", !found),
	)
}

// selectPoint walks the selection ladder: region points, then points near
// the death location, then the origin region. ok is false when every rung
// came up empty (in-place heal).
func (s *Service) selectPoint(ctx context.Context, char *character.Character) (spawn.Point, bool) {
	if char.LastRegionID != "" {
		if points, err := s.points.PointsForRegion(ctx, char.ShardID, char.LastRegionID); err == nil && len(points) > 0 {
			if p, ok := bestPoint(points, char.X, char.Z); ok {
				return p, true
			}
		}
	}
	if points, err := s.points.PointsNear(ctx, char.ShardID, char.X, char.Z, nearRadius); err == nil && len(points) > 0 {
		if p, ok := bestPoint(points, char.X, char.Z); ok {
			return p, true
		}
	}
	if points, err := s.points.PointsForRegion(ctx, char.ShardID, s.OriginRegionID); err == nil && len(points) > 0 {
		if p, ok := bestPoint(points, char.X, char.Z); ok {
			return p, true
		}
	}
	return spawn.Point{}, false
}

// bestPoint applies the settlement-versus-graveyard policy: the nearest
// eligible settlement wins only when strictly closer than the nearest
// graveyard; otherwise the graveyard; otherwise the nearest of any type.
func bestPoint(points []spawn.Point, x, z float64) (spawn.Point, bool) {
	var (
		settlement, graveyard, any spawn.Point
		sd, gd, ad                 float64
		hasS, hasG, hasA           bool
	)
	for _, p := range points {
		d := distSq(p, x, z)
		if !hasA || d < ad {
			any, ad, hasA = p, d, true
		}
		if p.IsGraveyard() && (!hasG || d < gd) {
			graveyard, gd, hasG = p, d, true
		}
		if p.IsSettlement() && !hostileVariants[p.VariantID] && (!hasS || d < sd) {
			settlement, sd, hasS = p, d, true
		}
	}
	switch {
	case hasS && hasG:
		if sd < gd {
			return settlement, true
		}
		return graveyard, true
	case hasS:
		return settlement, true
	case hasG:
		return graveyard, true
	case hasA:
		return any, true
	}
	return spawn.Point{}, false
}

func distSq(p spawn.Point, x, z float64) float64 {
	dx := p.X - x
	dz := p.Z - z
	return dx*dx + dz*dz
}

func (s *Service) async(fn func()) {
	if s.hooks.Async != nil {
		s.hooks.Async(fn)
		return
	}
	go fn()
}
