package npc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/scripting"
)

// LuaBrain runs a content-authored Lua script as an NPC brain. The script
// must define a global function
//
//	decide(perception, dt_ms) -> { kind = "...", target = "...", text = "...", room = "..." } | nil
//
// Each decision runs in a fresh sandboxed VM so a runaway script only
// forfeits its own tick.
type LuaBrain struct {
	name   string
	source string
	log    *zap.Logger
}

// NewLuaBrain wraps the given script source.
//
// Precondition: log must be non-nil.
func NewLuaBrain(name, source string, log *zap.Logger) *LuaBrain {
	return &LuaBrain{name: name, source: source, log: log}
}

// Decide executes the script's decide function against the perception.
// Script errors log and return no decision, which falls back to the
// behavior default downstream.
func (b *LuaBrain) Decide(p Perception, dt time.Duration) (Decision, bool) {
	L := scripting.NewSandboxedState(0)
	defer L.Close()

	if err := L.DoString(b.source); err != nil {
		b.log.Warn("brain script failed to load",
			zap.String("brain", b.name),
			zap.Error(err),
		)
		return Decision{}, false
	}
	fn := L.GetGlobal("decide")
	if fn.Type() != lua.LTFunction {
		b.log.Warn("brain script defines no decide function", zap.String("brain", b.name))
		return Decision{}, false
	}

	err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		perceptionToLua(L, p), lua.LNumber(dt.Milliseconds()))
	if err != nil {
		b.log.Warn("brain script errored",
			zap.String("brain", b.name),
			zap.Error(err),
		)
		return Decision{}, false
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return Decision{}, false
	}
	return decisionFromLua(tbl)
}

// perceptionToLua marshals the perception into a plain Lua table.
func perceptionToLua(L *lua.LState, p Perception) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("self_id", lua.LString(p.SelfID))
	t.RawSetString("room_id", lua.LString(p.RoomID))
	t.RawSetString("hp", lua.LNumber(p.HP))
	t.RawSetString("max_hp", lua.LNumber(p.MaxHP))
	t.RawSetString("alive", lua.LBool(p.Alive))
	t.RawSetString("behavior", lua.LString(p.Behavior))
	t.RawSetString("hostile", lua.LBool(p.Hostile))
	t.RawSetString("safe_hub", lua.LBool(p.RoomIsSafeHub))
	t.RawSetString("target_id", lua.LString(p.TargetID))
	t.RawSetString("last_attacker_id", lua.LString(p.LastAttackerID))

	players := L.NewTable()
	for i, pv := range p.Players {
		pt := L.NewTable()
		pt.RawSetString("entity_id", lua.LString(pv.EntityID))
		pt.RawSetString("name", lua.LString(pv.Name))
		pt.RawSetString("hp", lua.LNumber(pv.HP))
		pt.RawSetString("max_hp", lua.LNumber(pv.MaxHP))
		pt.RawSetString("alive", lua.LBool(pv.Alive))
		pt.RawSetString("role", lua.LString(pv.Role))
		pt.RawSetString("crime", lua.LString(pv.CrimeSeverity))
		pt.RawSetString("distance", lua.LNumber(pv.DistanceXZ))
		pt.RawSetString("stealthed", lua.LBool(pv.Stealthed))
		players.RawSetInt(i+1, pt)
	}
	t.RawSetString("players", players)
	return t
}

// decisionFromLua parses the script's decision table.
func decisionFromLua(t *lua.LTable) (Decision, bool) {
	kind := DecisionKind(lua.LVAsString(t.RawGetString("kind")))
	d := Decision{Kind: kind}
	switch kind {
	case DecideAttackEntity:
		d.TargetEntityID = lua.LVAsString(t.RawGetString("target"))
		if d.TargetEntityID == "" {
			return Decision{}, false
		}
	case DecideSay:
		d.Text = lua.LVAsString(t.RawGetString("text"))
		if d.Text == "" {
			return Decision{}, false
		}
	case DecideMoveToRoom:
		d.RoomID = lua.LVAsString(t.RawGetString("room"))
		if d.RoomID == "" {
			return Decision{}, false
		}
	case DecideFlee, DecideIdle:
	default:
		return Decision{}, false
	}
	return d, true
}

// LoadLuaBrains registers every *.lua file under dir as a brain named after
// its base filename ("coward_rat.lua" registers "coward_rat").
func LoadLuaBrains(dir string, reg *Registry, log *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading brain script dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		name := strings.TrimSuffix(e.Name(), ".lua")
		reg.Register(name, NewLuaBrain(name, string(data), log))
		log.Info("brain script registered", zap.String("brain", name))
	}
	return nil
}
