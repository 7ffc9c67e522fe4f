// Package item defines the loot delivery seams the death pipeline calls.
// Item content and mail storage are external systems; this package holds
// the interfaces plus an in-memory implementation used by tests and the
// standalone server.
package item

import (
	"context"
	"fmt"
	"sync"

	"github.com/piratewind/worldcore/internal/game/character"
)

// Destination says where a delivered item landed.
type Destination string

const (
	DestBags Destination = "bags"
	DestMail Destination = "mail"
)

// Delivery reports one completed item grant.
type Delivery struct {
	ItemID      string
	Quantity    int
	Destination Destination
}

// Service delivers loot to a character's bags, overflowing to mail.
type Service interface {
	// DeliverItemToBagsOrMail grants qty of itemID. Implementations must be
	// idempotent at the business level; the tick fires them without awaiting.
	DeliverItemToBagsOrMail(ctx context.Context, char *character.Character, itemID string, qty int) (Delivery, error)
}

// MailService accepts overflow item mail.
type MailService interface {
	SendItemMail(ctx context.Context, characterID int64, itemID string, qty int) error
}

// MemoryMail records mail in memory.
type MemoryMail struct {
	mu   sync.Mutex
	sent map[int64][]Delivery
}

// NewMemoryMail creates an empty in-memory mail sink.
func NewMemoryMail() *MemoryMail {
	return &MemoryMail{sent: make(map[int64][]Delivery)}
}

// SendItemMail records the mail delivery.
func (m *MemoryMail) SendItemMail(_ context.Context, characterID int64, itemID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[characterID] = append(m.sent[characterID], Delivery{ItemID: itemID, Quantity: qty, Destination: DestMail})
	return nil
}

// Sent returns mail recorded for characterID.
func (m *MemoryMail) Sent(characterID int64) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.sent[characterID]...)
}

// MemoryService grants items into the character's inventory map, spilling
// to mail when the bag slot cap is reached.
type MemoryService struct {
	mu sync.Mutex
	// BagSlotCap is the maximum distinct item stacks in bags; 0 = unlimited.
	BagSlotCap int
	Mail       MailService
}

// NewMemoryService creates a MemoryService over the given mail sink.
func NewMemoryService(bagSlotCap int, mail MailService) *MemoryService {
	return &MemoryService{BagSlotCap: bagSlotCap, Mail: mail}
}

// DeliverItemToBagsOrMail grants the item to bags when a slot is free,
// otherwise mails it.
//
// Postcondition: Returns the delivery destination, or an error when both
// paths fail.
func (s *MemoryService) DeliverItemToBagsOrMail(ctx context.Context, char *character.Character, itemID string, qty int) (Delivery, error) {
	if char == nil {
		return Delivery{}, fmt.Errorf("item delivery: character must not be nil")
	}
	if qty < 1 {
		return Delivery{}, fmt.Errorf("item delivery: qty must be >= 1, got %d", qty)
	}

	s.mu.Lock()
	if char.Inventory == nil {
		char.Inventory = make(map[string]int)
	}
	_, stacking := char.Inventory[itemID]
	hasRoom := stacking || s.BagSlotCap <= 0 || len(char.Inventory) < s.BagSlotCap
	if hasRoom {
		char.Inventory[itemID] += qty
		s.mu.Unlock()
		return Delivery{ItemID: itemID, Quantity: qty, Destination: DestBags}, nil
	}
	s.mu.Unlock()

	if s.Mail == nil {
		return Delivery{}, fmt.Errorf("item delivery: bags full and no mail service")
	}
	if err := s.Mail.SendItemMail(ctx, char.ID, itemID, qty); err != nil {
		return Delivery{}, fmt.Errorf("mailing overflow item: %w", err)
	}
	return Delivery{ItemID: itemID, Quantity: qty, Destination: DestMail}, nil
}
