// Package main provides the world server binary: the authoritative
// simulation core behind the websocket gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/config"
	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/combat"
	"github.com/piratewind/worldcore/internal/game/death"
	"github.com/piratewind/worldcore/internal/game/dice"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/item"
	"github.com/piratewind/worldcore/internal/game/npc"
	"github.com/piratewind/worldcore/internal/game/region"
	"github.com/piratewind/worldcore/internal/game/respawn"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/spawn"
	"github.com/piratewind/worldcore/internal/gameserver"
	"github.com/piratewind/worldcore/internal/observability"
	"github.com/piratewind/worldcore/internal/server"
	"github.com/piratewind/worldcore/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting world server",
		zap.String("shard_id", cfg.Server.ShardID),
		zap.String("gateway_addr", cfg.Gateway.Addr()),
	)

	roller := dice.NewRoller(dice.NewCryptoSource())

	// Connect to PostgreSQL for character persistence
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	charRepo := postgres.NewCharacterRepository(pool.DB())

	// Core registries and tables
	registry := entity.NewRegistry(logger, cfg.Debug.Entity)
	rooms := room.NewTable()
	sessions := session.NewTable()

	simClock := clock.NewSimClock(time.Now())
	scheduler := clock.NewScheduler()

	world := gameserver.NewWorldHandler(registry, rooms, sessions, logger)

	// Load content catalogs
	contentStart := time.Now()
	catalog, err := npc.LoadCatalog(cfg.Content.NpcDir)
	if err != nil {
		logger.Fatal("loading npc catalog", zap.Error(err))
	}
	brains := npc.NewRegistry()
	if cfg.Content.BrainScriptDir != "" {
		if err := npc.LoadLuaBrains(cfg.Content.BrainScriptDir, brains, logger); err != nil {
			logger.Fatal("loading brain scripts", zap.Error(err))
		}
	}
	points, err := spawn.LoadStaticService(cfg.Content.SpawnDir)
	if err != nil {
		logger.Fatal("loading spawn points", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("prototypes", catalog.Len()),
		zap.Int("spawn_points", len(points.Points)),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Region index: spawn points are the authority for which region a room
	// tile belongs to.
	roomMapper := spawn.GridRoomMapper(spawn.DefaultRoomSize)
	regionByRoom := make(map[string]string)
	pointsByRoom := make(map[string][]spawn.Point)
	for _, p := range points.Points {
		roomID := roomMapper(p)
		pointsByRoom[roomID] = append(pointsByRoom[roomID], p)
		if p.RegionID != "" {
			regionByRoom[roomID] = p.RegionID
		}
	}

	// Region flags normally come from an external flag service. Until one is
	// wired, regions holding a settlement point get the sanctuary policy and
	// everything else falls back to defaults.
	staticFlags := make(map[string]region.Flags)
	for _, p := range points.Points {
		if p.IsSettlement() && p.RegionID != "" {
			staticFlags[p.RegionID] = region.SettlementFlags()
		}
	}
	flags := region.NewCache(&region.StaticProvider{Flags: staticFlags}, logger)
	sanctuary := region.NewSanctuary(region.SanctuaryConfig{
		PressureWindow:    time.Duration(cfg.Town.SanctuaryPressureWindowMs) * time.Millisecond,
		PressureThreshold: cfg.Town.SanctuaryPressureThreshold,
		BreachDuration:    time.Duration(cfg.Town.BreachMs) * time.Millisecond,
		AlarmRangeTiles:   cfg.Town.SiegeAlarmRangeTiles,
		AlarmCooldown:     time.Duration(cfg.Town.SiegeAlarmCooldownMs) * time.Millisecond,
	}, logger, func(roomID string, rangeTiles int) {
		for _, id := range rooms.RoomIDs() {
			if room.RoomDistance(id, roomID) <= rangeTiles {
				world.Say(id, "", "[world] An alarm bell rings out across the town!")
			}
		}
	})

	pipeline := combat.NewPipeline(registry, simClock, logger)
	runner := gameserver.NewAsyncRunner(4, 256, logger)
	asyncHook := func(fn func()) {
		runner.Submit(func(context.Context) { fn() })
	}

	// Declared ahead so the NPC manager hooks can close over them.
	var deathPipe *death.Pipeline
	var respawnSvc *respawn.Service

	npcMgr := npc.NewManager(npc.ManagerParams{
		Registry:  registry,
		Catalog:   catalog,
		Brains:    brains,
		Pipeline:  pipeline,
		Flags:     flags,
		Sanctuary: sanctuary,
		Roller:    roller,
		Clock:     simClock,
		Log:       logger,
		Hooks: npc.Hooks{
			Say:           world.Say,
			Despawn:       world.DespawnEntity,
			EntityMoved:   world.EntityMoved,
			EntityUpdated: world.EntityUpdated,
			CharacterFor:  world.CharacterForSession,
			OnPlayerKilled: func(victim *entity.Entity, killerEntityID string) {
				world.Say(victim.RoomID, "", fmt.Sprintf("[world] %s has died.", victim.Name))
				entityID := victim.ID
				sessionID := victim.OwnerSessionID
				delay := time.Duration(cfg.Respawn.AfterCorpseMs) * time.Millisecond
				scheduler.ScheduleAfter(simClock.Now(), delay, func(time.Time) {
					e, ok := registry.Get(entityID)
					if !ok || e.Alive {
						return
					}
					char := world.CharacterForSession(sessionID)
					if char == nil {
						char = &character.Character{
							ShardID: cfg.Server.ShardID,
							Name:    e.Name,
							MaxHP:   e.MaxHP,
						}
					}
					respawnSvc.RespawnPlayer(ctx, e, char)
				})
			},
			OnNpcKilled: func(victimEntityID, killerEntityID string) {
				deathPipe.HandleNpcDeath(victimEntityID, killerEntityID)
			},
			RegionForRoom: func(roomID string) string {
				return regionByRoom[roomID]
			},
		},
		Train:  cfg.Train,
		Assist: cfg.Assist,
		Taunt:  cfg.Taunt,
		Threat: cfg.Threat,
	})

	cache := spawn.NewPointCache()
	controller := spawn.NewController(registry, npcMgr, catalog, cache, roomMapper, logger, spawn.ControllerHooks{
		EntitySpawned:   world.EntitySpawned,
		EntityDespawned: world.EntityDespawned,
	})

	// Entering a world room materializes the joiner's personal resource nodes.
	world.OnWorldJoin = func(s *session.Session, roomID string) {
		controller.SpawnPersonalNodes(roomID, s.ID, s.Character, pointsByRoom[roomID])
	}

	items := item.NewMemoryService(0, item.NewMemoryMail())

	deathPipe = death.NewPipeline(death.Params{
		Registry:   registry,
		NpcManager: npcMgr,
		Catalog:    catalog,
		Controller: controller,
		Cache:      cache,
		Scheduler:  scheduler,
		Clock:      simClock,
		Roller:     roller,
		Store:      deathStore{repo: charRepo},
		Items:      items,
		Log:        logger,
		Hooks: death.Hooks{
			EntityUpdated:   world.EntityUpdated,
			EntityDespawned: world.EntityDespawned,
			EntitySpawned:   world.EntitySpawned,
			Announce:        func(roomID, text string) { world.Say(roomID, "", text) },
			AnnounceTo:      world.SayTo,
			CharacterFor:    world.CharacterForSession,
			Async:           asyncHook,
		},
		Corpse:   cfg.Corpse,
		Respawn:  cfg.Respawn,
		TestMode: cfg.TestMode,
	})

	respawnSvc = respawn.NewService(registry, points, roomMapper, respawnStore{repo: charRepo}, logger, respawn.Hooks{
		EntityMoved:   world.EntityMoved,
		EntityUpdated: world.EntityUpdated,
		Async:         asyncHook,
	})

	// Populate the world from the spawn catalog.
	controller.SpawnSharedNpcs(points.Points)
	logger.Info("initial spawn population complete", zap.Int("entities", registry.Count()))

	// Periodic reconciliation keeps shared NPCs aligned with the catalog:
	// removed points despawn, lost entities respawn.
	const reconcileInterval = time.Minute
	var reconcileSpawns func(now time.Time)
	reconcileSpawns = func(now time.Time) {
		for roomID, pts := range pointsByRoom {
			controller.ReconcileRoom(roomID, pts)
		}
		scheduler.ScheduleAfter(now, reconcileInterval, reconcileSpawns)
	}
	scheduler.ScheduleAfter(simClock.Now(), reconcileInterval, reconcileSpawns)

	// Tick engine: fixed interval, fixed pass order.
	tickOut := combat.TickOutput{
		HotTickMessages: cfg.Hot.TickMessages,
		DotCombatLog:    cfg.Dot.CombatLog,
		Line:            func(roomID, text string) { world.Say(roomID, "", text) },
	}
	engine := gameserver.NewTickEngine(simClock, cfg.Tick.Interval(), logger)
	engine.AddPass("status_expiry", func(now time.Time, _ time.Duration) {
		for _, e := range registry.All() {
			e.Effects.Active(now)
		}
	})
	engine.AddPass("hots", func(now time.Time, _ time.Duration) {
		pipeline.TickHots(now, tickOut)
	})
	engine.AddPass("dots", func(now time.Time, _ time.Duration) {
		pipeline.TickDots(now, tickOut, deathPipe)
	})
	engine.AddPass("npc_ai", npcMgr.UpdateAll)
	engine.AddPass("scheduler", func(now time.Time, _ time.Duration) {
		scheduler.RunDue(now)
	})
	engine.AddPass("idle_reap", func(now time.Time, _ time.Duration) {
		if cfg.Gateway.IdleTimeout > 0 {
			world.ReapIdle(now.Add(-cfg.Gateway.IdleTimeout))
		}
	})

	handler := gameserver.NewHandler(world, sessions, registry, rooms, simClock, logger, cfg.Server.Name)
	gateway := gameserver.NewGateway(sessions, world, handler, simClock, logger, cfg.Gateway.SendBuffer)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	httpServer := &http.Server{Addr: cfg.Gateway.Addr(), Handler: mux}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	tickCtx, tickCancel := context.WithCancel(ctx)
	lifecycle.Add("tick", &server.FuncService{
		StartFn: func() error {
			engine.Run(tickCtx)
			return nil
		},
		StopFn: tickCancel,
	})

	lifecycle.Add("gateway", &server.FuncService{
		StartFn: func() error {
			logger.Info("gateway listening", zap.String("addr", cfg.Gateway.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		},
	})

	lifecycle.Add("async", &server.FuncService{
		StartFn: func() error {
			<-tickCtx.Done()
			return nil
		},
		StopFn: runner.Close,
	})

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: pool.Close,
	})

	logger.Info("world server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// deathStore adapts the character repository to the death pipeline's seam.
type deathStore struct {
	repo *postgres.CharacterRepository
}

func (s deathStore) GrantXp(ctx context.Context, characterID int64, amount int) error {
	_, err := s.repo.GrantXp(ctx, characterID, int64(amount))
	return err
}

func (s deathStore) Save(ctx context.Context, char *character.Character) error {
	return s.repo.Save(ctx, char)
}

// respawnStore adapts the character repository to the respawn seam.
type respawnStore struct {
	repo *postgres.CharacterRepository
}

func (s respawnStore) SavePosition(ctx context.Context, char *character.Character) error {
	return s.repo.SavePosition(ctx, char.ID, char.X, char.Y, char.Z, char.RotY, char.LastRegionID)
}
