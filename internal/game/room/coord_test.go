package room_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/piratewind/worldcore/internal/game/room"
)

func TestParseCoord(t *testing.T) {
	c, err := room.ParseCoord("overworld:3,-7")
	require.NoError(t, err)
	assert.Equal(t, room.Coord{Shard: "overworld", X: 3, Y: -7}, c)
	assert.Equal(t, "overworld:3,-7", c.String())
}

func TestParseCoord_Rejects(t *testing.T) {
	for _, id := range []string{"lobby", "auth", ":1,2", "overworld:12", "overworld:a,2", "overworld:1,b", ""} {
		_, err := room.ParseCoord(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestIsWorldRoomID(t *testing.T) {
	assert.True(t, room.IsWorldRoomID("overworld:0,0"))
	assert.False(t, room.IsWorldRoomID("select_character"))
}

func TestChebyshev(t *testing.T) {
	a := room.Coord{Shard: "overworld", X: 0, Y: 0}
	b := room.Coord{Shard: "overworld", X: 3, Y: -2}
	assert.Equal(t, 3, room.Chebyshev(a, b))
	assert.Equal(t, -1, room.Chebyshev(a, room.Coord{Shard: "dungeon", X: 0, Y: 0}))
}

func TestStepRoomToward(t *testing.T) {
	next, ok := room.StepRoomToward("overworld:0,0", "overworld:3,-2")
	require.True(t, ok)
	assert.Equal(t, "overworld:1,-1", next)

	// Already there.
	next, ok = room.StepRoomToward("overworld:3,-2", "overworld:3,-2")
	require.True(t, ok)
	assert.Equal(t, "overworld:3,-2", next)

	_, ok = room.StepRoomToward("lobby", "overworld:0,0")
	assert.False(t, ok)
	_, ok = room.StepRoomToward("overworld:0,0", "dungeon:0,0")
	assert.False(t, ok)
}

func TestStepRoomAway(t *testing.T) {
	next, ok := room.StepRoomAway("overworld:1,1", "overworld:0,0")
	require.True(t, ok)
	assert.Equal(t, "overworld:2,2", next)

	// Standing on the anchor still flees.
	next, ok = room.StepRoomAway("overworld:0,0", "overworld:0,0")
	require.True(t, ok)
	assert.Equal(t, "overworld:1,0", next)
}

func TestRoomDistance(t *testing.T) {
	assert.Equal(t, 4, room.RoomDistance("overworld:0,0", "overworld:-4,2"))
	assert.Equal(t, -1, room.RoomDistance("lobby", "overworld:0,0"))
	assert.Equal(t, -1, room.RoomDistance("overworld:0,0", "dungeon:0,0"))
}

func TestStepToward_Property_DistanceShrinks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := room.Coord{
			Shard: "overworld",
			X:     rapid.IntRange(-50, 50).Draw(rt, "fx"),
			Y:     rapid.IntRange(-50, 50).Draw(rt, "fy"),
		}
		to := room.Coord{
			Shard: "overworld",
			X:     rapid.IntRange(-50, 50).Draw(rt, "tx"),
			Y:     rapid.IntRange(-50, 50).Draw(rt, "ty"),
		}
		if from == to {
			return
		}
		step := room.StepToward(from, to)
		assert.Equal(rt, room.Chebyshev(from, to)-1, room.Chebyshev(step, to))
	})
}

func TestCoord_Property_ParseRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := room.Coord{
			Shard: rapid.SampledFrom([]string{"overworld", "dungeon", "isles"}).Draw(rt, "shard"),
			X:     rapid.IntRange(-1000, 1000).Draw(rt, "x"),
			Y:     rapid.IntRange(-1000, 1000).Draw(rt, "y"),
		}
		parsed, err := room.ParseCoord(c.String())
		require.NoError(rt, err)
		assert.Equal(rt, c, parsed)
	})
}
