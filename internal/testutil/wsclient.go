package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/piratewind/worldcore/internal/game/wire"
)

// WsClient is a websocket test client speaking the gateway envelope protocol.
type WsClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWsClient dials the given websocket URL and returns a test client.
//
// Precondition: url must point at a listening gateway ("ws://host:port/ws").
// Postcondition: Returns a connected WsClient or fails the test.
func NewWsClient(t *testing.T, url string) *WsClient {
	t.Helper()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
	})

	return &WsClient{conn: conn, t: t}
}

// Send marshals and writes one envelope.
func (c *WsClient) Send(op wire.Opcode, payload any) {
	c.t.Helper()
	msg, err := wire.NewMessage(op, payload)
	if err != nil {
		c.t.Fatalf("encoding %s payload: %v", op, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("encoding %s envelope: %v", op, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("writing %s: %v", op, err)
	}
}

// SendRaw writes an arbitrary text frame, bypassing envelope encoding.
// Used to exercise the gateway's malformed-frame handling.
func (c *WsClient) SendRaw(data []byte) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("writing raw frame: %v", err)
	}
}

// Close shuts the connection down immediately. Safe alongside the automatic
// cleanup close.
func (c *WsClient) Close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "test done")
}

// Recv reads the next envelope, failing the test on timeout.
func (c *WsClient) Recv(timeout time.Duration) wire.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("reading envelope: %v", err)
	}
	var msg wire.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("decoding envelope: %v", err)
	}
	return msg
}

// Expect reads envelopes until one with the given opcode arrives, skipping
// others. Fails the test after the deadline.
func (c *WsClient) Expect(op wire.Opcode, timeout time.Duration) wire.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %s", op)
		}
		msg := c.Recv(remaining)
		if msg.Op == op {
			return msg
		}
	}
}

// DecodePayload unmarshals an envelope payload into out.
func DecodePayload(t *testing.T, msg wire.Message, out any) {
	t.Helper()
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		t.Fatalf("decoding %s payload: %v", msg.Op, err)
	}
}
