package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/wire"
)

const (
	defaultSendBuffer = 64
	writeTimeout      = 5 * time.Second
	maxFrameBytes     = 64 << 10
)

// Gateway accepts websocket clients and bridges them onto the session table.
// Each connection gets a reader goroutine feeding the Handler and a writer
// goroutine draining the session's outbound buffer.
type Gateway struct {
	sessions   *session.Table
	world      *WorldHandler
	handler    *Handler
	clk        clock.Clock
	log        *zap.Logger
	sendBuffer int
}

// NewGateway creates a Gateway. sendBuffer <= 0 selects the default.
func NewGateway(sessions *session.Table, world *WorldHandler, handler *Handler, clk clock.Clock, log *zap.Logger, sendBuffer int) *Gateway {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Gateway{
		sessions:   sessions,
		world:      world,
		handler:    handler,
		clk:        clk,
		log:        log,
		sendBuffer: sendBuffer,
	}
}

// wsConn adapts a websocket connection to session.Conn. Send enqueues onto a
// bounded channel so a slow client never blocks the tick; the writer
// goroutine owns all socket writes.
type wsConn struct {
	conn   *websocket.Conn
	out    chan wire.Message
	closed chan struct{}
	once   sync.Once
}

func newWsConn(conn *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn:   conn,
		out:    make(chan wire.Message, buffer),
		closed: make(chan struct{}),
	}
}

// Send enqueues one envelope.
//
// Postcondition: Returns an error when the buffer is full or the connection
// is closed; the message is dropped in either case.
func (c *wsConn) Send(msg wire.Message) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears down the connection. Idempotent.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return nil
}

func (c *wsConn) writeLoop(log *zap.Logger) {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error("outbound marshal failed", zap.String("op", string(msg.Op)), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// ServeHTTP upgrades the request and runs the session until the client
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	wc := newWsConn(conn, g.sendBuffer)
	id := uuid.NewString()
	s, err := g.sessions.Add(id, wc, g.clk.Now())
	if err != nil {
		g.log.Error("session add failed", zap.String("session_id", id), zap.Error(err))
		wc.Close()
		return
	}
	g.log.Info("session connected",
		zap.String("session_id", id),
		zap.String("remote", r.RemoteAddr),
	)

	go wc.writeLoop(g.log)
	g.readLoop(r.Context(), s, wc)

	if _, err := g.sessions.Remove(id); err == nil {
		g.world.DisconnectSession(s)
	}
	g.log.Info("session disconnected", zap.String("session_id", id))
}

func (g *Gateway) readLoop(ctx context.Context, s *session.Session, wc *wsConn) {
	defer wc.Close()
	for {
		_, data, err := wc.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.handler.reject(s, "bad_envelope", "frame is not a valid envelope")
			continue
		}
		g.dispatch(s, msg)
	}
}

// dispatch runs the handler with a recover guard so one malformed message
// cannot take down the connection goroutine.
func (g *Gateway) dispatch(s *session.Session, msg wire.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error("handler panicked",
				zap.String("session_id", s.ID),
				zap.String("op", string(msg.Op)),
				zap.Any("panic", rec),
			)
		}
	}()
	g.handler.Handle(s, msg)
}
