package gameserver_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/wire"
	"github.com/piratewind/worldcore/internal/gameserver"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type worldFixture struct {
	registry *entity.Registry
	rooms    *room.Table
	sessions *session.Table
	world    *gameserver.WorldHandler
	handler  *gameserver.Handler
	sim      *clock.SimClock
	conns    map[string]*session.ChanConn
}

func newWorldFixture(t *testing.T) *worldFixture {
	t.Helper()
	log := zap.NewNop()
	f := &worldFixture{
		registry: entity.NewRegistry(log, false),
		rooms:    room.NewTable(),
		sessions: session.NewTable(),
		sim:      clock.NewSimClock(t0),
		conns:    make(map[string]*session.ChanConn),
	}
	f.world = gameserver.NewWorldHandler(f.registry, f.rooms, f.sessions, log)
	f.handler = gameserver.NewHandler(f.world, f.sessions, f.registry, f.rooms, f.sim, log, "worldcore-test")
	return f
}

func (f *worldFixture) connect(t *testing.T, id string) *session.Session {
	t.Helper()
	conn := session.NewChanConn(64)
	f.conns[id] = conn
	s, err := f.sessions.Add(id, conn, t0)
	require.NoError(t, err)
	return s
}

// received drains and returns all frames queued to id.
func (f *worldFixture) received(id string) []wire.Message {
	var out []wire.Message
	for {
		select {
		case msg, ok := <-f.conns[id].Out():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ops(msgs []wire.Message) []wire.Opcode {
	out := make([]wire.Opcode, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Op)
	}
	return out
}

func firstOf(msgs []wire.Message, op wire.Opcode) (wire.Message, bool) {
	for _, m := range msgs {
		if m.Op == op {
			return m, true
		}
	}
	return wire.Message{}, false
}

func TestJoinRoom_WorldRoomSpawnsBodyAndLists(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	s.Character = &character.Character{Name: "Brin", X: 5, Z: 7, MaxHP: 120, CurrentHP: 80}

	f.world.JoinRoom(s, "overworld:0,0")

	e, ok := f.registry.PlayerForSession("s1")
	require.True(t, ok)
	assert.Equal(t, "Brin", e.Name)
	assert.Equal(t, 5.0, e.X)
	assert.Equal(t, 80, e.HP)
	assert.Equal(t, 120, e.MaxHP)

	msgs := f.received("s1")
	assert.Equal(t, []wire.Opcode{wire.OpRoomJoined, wire.OpEntityList}, ops(msgs))

	var list wire.EntityListPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &list))
	require.Len(t, list.Entities, 1)
	assert.Equal(t, e.ID, list.Entities[0].ID)
}

func TestJoinRoom_DeadCharacterRespawnsAtFull(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	s.Character = &character.Character{Name: "Brin", MaxHP: 120, CurrentHP: 0}

	f.world.JoinRoom(s, "overworld:0,0")
	e, ok := f.registry.PlayerForSession("s1")
	require.True(t, ok)
	assert.Equal(t, 120, e.HP)
}

func TestJoinRoom_WorldJoinHookFiresOncePerEntry(t *testing.T) {
	f := newWorldFixture(t)
	var joins []string
	f.world.OnWorldJoin = func(s *session.Session, roomID string) {
		joins = append(joins, s.ID+"@"+roomID)
	}
	s := f.connect(t, "s1")

	// Non-world rooms never reach the hook.
	f.world.JoinRoom(s, "lobby-1")
	assert.Empty(t, joins)

	f.world.JoinRoom(s, "overworld:0,0")
	assert.Equal(t, []string{"s1@overworld:0,0"}, joins)

	// Rejoining the current room is a no-op.
	f.world.JoinRoom(s, "overworld:0,0")
	assert.Equal(t, []string{"s1@overworld:0,0"}, joins)

	f.world.JoinRoom(s, "overworld:1,0")
	assert.Equal(t, []string{"s1@overworld:0,0", "s1@overworld:1,0"}, joins)
}

func TestJoinRoom_NonWorldRoomIsMembershipOnly(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	f.world.JoinRoom(s, "lobby-2")

	assert.True(t, f.rooms.Contains("lobby-2", "s1"))
	_, ok := f.registry.PlayerForSession("s1")
	assert.False(t, ok)
	assert.Equal(t, []wire.Opcode{wire.OpRoomJoined}, ops(f.received("s1")))
}

func TestJoinRoom_AnnouncesSpawnToOthers(t *testing.T) {
	f := newWorldFixture(t)
	a := f.connect(t, "a")
	b := f.connect(t, "b")
	f.world.JoinRoom(a, "overworld:0,0")
	f.received("a")

	f.world.JoinRoom(b, "overworld:0,0")

	aMsgs := f.received("a")
	spawn, ok := firstOf(aMsgs, wire.OpEntitySpawn)
	require.True(t, ok)
	var view wire.EntityView
	require.NoError(t, json.Unmarshal(spawn.Payload, &view))
	assert.Equal(t, "player", view.Kind)

	// The joiner's entity_list includes the earlier player.
	bMsgs := f.received("b")
	list, ok := firstOf(bMsgs, wire.OpEntityList)
	require.True(t, ok)
	var lp wire.EntityListPayload
	require.NoError(t, json.Unmarshal(list.Payload, &lp))
	assert.Len(t, lp.Entities, 2)
}

func TestEntityList_HidesOtherPlayersPersonalNodes(t *testing.T) {
	f := newWorldFixture(t)
	a := f.connect(t, "a")
	f.world.JoinRoom(a, "overworld:0,0")
	node := f.registry.CreateNode("overworld:0,0", "vein", "a")
	node.Name = "a copper vein"
	shared := f.registry.CreateNpcEntity("overworld:0,0", "wolf")
	shared.Name = "a gray wolf"

	b := f.connect(t, "b")
	f.world.JoinRoom(b, "overworld:0,0")

	list, ok := firstOf(f.received("b"), wire.OpEntityList)
	require.True(t, ok)
	var lp wire.EntityListPayload
	require.NoError(t, json.Unmarshal(list.Payload, &lp))

	ids := map[string]bool{}
	for _, v := range lp.Entities {
		ids[v.ID] = true
	}
	assert.True(t, ids[shared.ID], "shared npc visible")
	assert.False(t, ids[node.ID], "other player's node hidden")
	assert.Len(t, lp.Entities, 3) // a, b, wolf
}

func TestLeaveRoom_DespawnsOwnedEntities(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	f.world.JoinRoom(s, "overworld:0,0")
	node := f.registry.CreateNode("overworld:0,0", "vein", "s1")

	f.world.LeaveRoom(s, "overworld:0,0")

	assert.False(t, f.rooms.Contains("overworld:0,0", "s1"))
	_, ok := f.registry.Get(node.ID)
	assert.False(t, ok)
	_, ok = f.registry.PlayerForSession("s1")
	assert.False(t, ok)
	assert.Equal(t, "", s.RoomID)
}

func TestJoinRoom_SwitchingRoomsLeavesTheOld(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	f.world.JoinRoom(s, "overworld:0,0")
	f.world.JoinRoom(s, "overworld:1,0")

	assert.False(t, f.rooms.Contains("overworld:0,0", "s1"))
	assert.True(t, f.rooms.Contains("overworld:1,0", "s1"))
	e, ok := f.registry.PlayerForSession("s1")
	require.True(t, ok)
	assert.Equal(t, "overworld:1,0", e.RoomID)

	// Rejoining the current room is a no-op.
	f.received("s1")
	f.world.JoinRoom(s, "overworld:1,0")
	assert.Empty(t, f.received("s1"))
}

func TestDisconnectSession_TearsDownEverything(t *testing.T) {
	f := newWorldFixture(t)
	s := f.connect(t, "s1")
	f.world.JoinRoom(s, "overworld:0,0")
	node := f.registry.CreateNode("overworld:0,0", "vein", "s1")

	f.world.DisconnectSession(s)

	assert.Empty(t, f.rooms.RoomIDs())
	_, ok := f.registry.Get(node.ID)
	assert.False(t, ok)
	_, ok = f.registry.PlayerForSession("s1")
	assert.False(t, ok)
}

func TestReapIdle(t *testing.T) {
	f := newWorldFixture(t)
	idle := f.connect(t, "idle")
	f.world.JoinRoom(idle, "overworld:0,0")
	fresh := f.connect(t, "fresh")
	f.world.JoinRoom(fresh, "overworld:0,0")
	f.sessions.Touch("fresh", t0.Add(time.Minute))

	reaped := f.world.ReapIdle(t0.Add(30 * time.Second))
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, f.sessions.Count())
	_, ok := f.registry.PlayerForSession("idle")
	assert.False(t, ok)
	_, ok = f.registry.PlayerForSession("fresh")
	assert.True(t, ok)
}

func TestEntityMoved_FansOutToBothRooms(t *testing.T) {
	f := newWorldFixture(t)
	a := f.connect(t, "a")
	b := f.connect(t, "b")
	f.world.JoinRoom(a, "overworld:0,0")
	f.world.JoinRoom(b, "overworld:1,0")
	wolf := f.registry.CreateNpcEntity("overworld:0,0", "wolf")
	f.received("a")
	f.received("b")

	require.NoError(t, f.registry.MoveToRoom(wolf.ID, "overworld:1,0"))
	f.world.EntityMoved(wolf, "overworld:0,0")

	despawn, ok := firstOf(f.received("a"), wire.OpEntityDespawn)
	require.True(t, ok)
	var dp wire.EntityDespawnPayload
	require.NoError(t, json.Unmarshal(despawn.Payload, &dp))
	assert.Equal(t, wolf.ID, dp.ID)

	_, ok = firstOf(f.received("b"), wire.OpEntitySpawn)
	assert.True(t, ok)
}
