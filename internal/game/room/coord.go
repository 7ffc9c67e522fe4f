// Package room provides the shard-grid coordinate model and per-room
// session membership with broadcast fanout.
//
// World room ids follow the convention "<shard>:<x>,<y>". Non-world rooms
// ("lobby", "auth", "select_character") are bare tokens with no coordinates.
package room

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord is the parsed form of a world room id.
type Coord struct {
	Shard string
	X     int
	Y     int
}

// ParseCoord parses a world room id of the form "<shard>:<x>,<y>".
//
// Postcondition: Returns the Coord, or an error for bare tokens and
// malformed ids (ConfigFault; callers must not mutate state on error).
func ParseCoord(roomID string) (Coord, error) {
	shard, rest, ok := strings.Cut(roomID, ":")
	if !ok || shard == "" {
		return Coord{}, fmt.Errorf("room id %q is not a world room", roomID)
	}
	xs, ys, ok := strings.Cut(rest, ",")
	if !ok {
		return Coord{}, fmt.Errorf("room id %q: missing ',' in coordinates", roomID)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Coord{}, fmt.Errorf("room id %q: bad x coordinate: %w", roomID, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Coord{}, fmt.Errorf("room id %q: bad y coordinate: %w", roomID, err)
	}
	return Coord{Shard: shard, X: x, Y: y}, nil
}

// IsWorldRoomID reports whether roomID parses as a world room.
func IsWorldRoomID(roomID string) bool {
	_, err := ParseCoord(roomID)
	return err == nil
}

// String formats the coordinate back into its wire form.
func (c Coord) String() string {
	return fmt.Sprintf("%s:%d,%d", c.Shard, c.X, c.Y)
}

// Chebyshev returns the chessboard distance between two coordinates.
// Coordinates on different shards are infinitely far apart; this returns -1.
func Chebyshev(a, b Coord) int {
	if a.Shard != b.Shard {
		return -1
	}
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// StepToward returns the coordinate one tile from `from` toward `to`,
// moving at most one step on each axis. Returns `from` unchanged when the
// coordinates are equal or on different shards.
func StepToward(from, to Coord) Coord {
	if from.Shard != to.Shard {
		return from
	}
	return Coord{Shard: from.Shard, X: from.X + sign(to.X-from.X), Y: from.Y + sign(to.Y-from.Y)}
}

// StepAway returns the coordinate one tile from `from` directly away from
// `anchor`. When from == anchor the step direction is +X, so a feared NPC
// still moves.
func StepAway(from, anchor Coord) Coord {
	if from.Shard != anchor.Shard {
		return from
	}
	dx := sign(from.X - anchor.X)
	dy := sign(from.Y - anchor.Y)
	if dx == 0 && dy == 0 {
		dx = 1
	}
	return Coord{Shard: from.Shard, X: from.X + dx, Y: from.Y + dy}
}

// StepRoomToward computes the next room id one tile from current toward
// target. Either id failing to parse yields ("", false).
func StepRoomToward(currentRoomID, targetRoomID string) (string, bool) {
	from, err := ParseCoord(currentRoomID)
	if err != nil {
		return "", false
	}
	to, err := ParseCoord(targetRoomID)
	if err != nil || from.Shard != to.Shard {
		return "", false
	}
	if from == to {
		return currentRoomID, true
	}
	return StepToward(from, to).String(), true
}

// StepRoomAway computes the next room id one tile from current away from
// anchor. Either id failing to parse yields ("", false).
func StepRoomAway(currentRoomID, anchorRoomID string) (string, bool) {
	from, err := ParseCoord(currentRoomID)
	if err != nil {
		return "", false
	}
	anchor, err := ParseCoord(anchorRoomID)
	if err != nil || from.Shard != anchor.Shard {
		return "", false
	}
	return StepAway(from, anchor).String(), true
}

// RoomDistance returns the Chebyshev distance between two world room ids,
// or -1 when either fails to parse or the shards differ.
func RoomDistance(aID, bID string) int {
	a, err := ParseCoord(aID)
	if err != nil {
		return -1
	}
	b, err := ParseCoord(bID)
	if err != nil {
		return -1
	}
	return Chebyshev(a, b)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
