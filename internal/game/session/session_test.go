package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/wire"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func drain(c *session.ChanConn) []wire.Message {
	var out []wire.Message
	for {
		select {
		case msg, ok := <-c.Out():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestTable_AddRemove(t *testing.T) {
	table := session.NewTable()
	conn := session.NewChanConn(4)

	s, err := table.Add("s1", conn, t0)
	require.NoError(t, err)
	assert.Equal(t, "lobby", s.RoomID)
	assert.Equal(t, t0, s.LastSeen)
	assert.Equal(t, 1, table.Count())

	_, err = table.Add("s1", session.NewChanConn(4), t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")

	removed, err := table.Remove("s1")
	require.NoError(t, err)
	assert.Equal(t, s, removed)
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, table.Count())

	_, err = table.Remove("s1")
	assert.Error(t, err)
}

func TestTable_SendMarshalsEnvelope(t *testing.T) {
	table := session.NewTable()
	conn := session.NewChanConn(4)
	_, err := table.Add("s1", conn, t0)
	require.NoError(t, err)

	require.NoError(t, table.Send("s1", wire.OpChat, wire.ChatPayload{Text: "hail"}))
	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.OpChat, msgs[0].Op)

	assert.Error(t, table.Send("ghost", wire.OpChat, nil))
	assert.Error(t, table.Send("s1", wire.OpChat, func() {}))
}

func TestTable_SendToSkipsFailures(t *testing.T) {
	table := session.NewTable()
	a := session.NewChanConn(4)
	full := session.NewChanConn(1)
	_, err := table.Add("a", a, t0)
	require.NoError(t, err)
	_, err = table.Add("full", full, t0)
	require.NoError(t, err)
	require.NoError(t, full.Send(wire.Message{Op: wire.OpPong}))

	sent := table.SendTo([]string{"a", "full", "ghost"}, wire.OpChat, wire.ChatPayload{Text: "hi"})
	assert.Equal(t, 1, sent)
	assert.Len(t, drain(a), 1)
}

func TestTable_TouchAndIdleSince(t *testing.T) {
	table := session.NewTable()
	_, err := table.Add("old", session.NewChanConn(1), t0)
	require.NoError(t, err)
	_, err = table.Add("fresh", session.NewChanConn(1), t0)
	require.NoError(t, err)

	table.Touch("fresh", t0.Add(time.Minute))
	table.Touch("ghost", t0.Add(time.Minute)) // unknown ids are a no-op

	idle := table.IdleSince(t0.Add(30 * time.Second))
	assert.Equal(t, []string{"old"}, idle)
}

func TestChanConn_NonBlockingSend(t *testing.T) {
	conn := session.NewChanConn(1)
	require.NoError(t, conn.Send(wire.Message{Op: wire.OpPong}))

	err := conn.Send(wire.Message{Op: wire.OpPong})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer full")

	// Draining frees the slot.
	<-conn.Out()
	assert.NoError(t, conn.Send(wire.Message{Op: wire.OpPong}))
}

func TestChanConn_CloseIsIdempotent(t *testing.T) {
	conn := session.NewChanConn(1)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.Closed())
	assert.Error(t, conn.Send(wire.Message{Op: wire.OpPong}))

	_, ok := <-conn.Out()
	assert.False(t, ok)
}
