// Package session provides connected-client tracking: channel handles,
// identity, last-activity, and typed send/broadcast.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/wire"
)

// Conn is the outbound half of a client connection. The websocket gateway
// provides the production implementation; tests use an in-memory recorder.
type Conn interface {
	// Send enqueues one envelope. It must not block the tick: full buffers
	// return an error and the message is dropped.
	Send(msg wire.Message) error
	// Close tears down the connection. Idempotent.
	Close() error
}

// Session tracks one connected client.
type Session struct {
	// ID uniquely identifies the session.
	ID string
	// Name is the display name, set on hello.
	Name string
	// Conn is the outbound channel handle. The session owns it exclusively.
	Conn Conn
	// RoomID is the current room; may be a non-world bucket ("lobby").
	RoomID string
	// LastSeen is the last client activity instant.
	LastSeen time.Time
	// UserID is the authenticated identity; 0 when anonymous.
	UserID int64
	// Character is the attached persisted profile; nil before selection.
	Character *character.Character
}

// Table tracks all active sessions. All methods are safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable creates an empty session Table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Add registers a session.
//
// Precondition: id must be non-empty; conn must be non-nil.
// Postcondition: Returns the created Session, or an error if id is taken.
func (t *Table) Add(id string, conn Conn, now time.Time) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already connected", id)
	}
	s := &Session{ID: id, Conn: conn, RoomID: "lobby", LastSeen: now}
	t.sessions[id] = s
	return s, nil
}

// Remove deletes the session and closes its connection.
//
// Postcondition: Returns the removed session, or an error if not found.
func (t *Table) Remove(id string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	delete(t.sessions, id)
	_ = s.Conn.Close()
	return s, nil
}

// Get returns the session with the given id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Touch stamps the session's last-activity instant.
func (t *Table) Touch(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.LastSeen = now
	}
}

// Send marshals payload and enqueues it to one session. Send failures are
// reported, not fatal; the caller logs and moves on.
func (t *Table) Send(id string, op wire.Opcode, payload any) error {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	msg, err := wire.NewMessage(op, payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", op, err)
	}
	return s.Conn.Send(msg)
}

// SendTo enqueues the same message to each listed session, skipping
// failures. Returns the number of successful sends.
func (t *Table) SendTo(ids []string, op wire.Opcode, payload any) int {
	msg, err := wire.NewMessage(op, payload)
	if err != nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	sent := 0
	for _, id := range ids {
		if s, ok := t.sessions[id]; ok {
			if s.Conn.Send(msg) == nil {
				sent++
			}
		}
	}
	return sent
}

// IdleSince returns the ids of sessions with no activity since cutoff.
func (t *Table) IdleSince(cutoff time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var idle []string
	for id, s := range t.sessions {
		if s.LastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// Count returns the number of active sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
