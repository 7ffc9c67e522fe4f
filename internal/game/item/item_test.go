package item_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piratewind/worldcore/internal/game/character"
	"github.com/piratewind/worldcore/internal/game/item"
)

func TestMemoryService_DeliversToBags(t *testing.T) {
	svc := item.NewMemoryService(0, nil)
	char := &character.Character{ID: 1}

	d, err := svc.DeliverItemToBagsOrMail(context.Background(), char, "wolf_pelt", 2)
	require.NoError(t, err)
	assert.Equal(t, item.DestBags, d.Destination)
	assert.Equal(t, 2, char.Inventory["wolf_pelt"])

	// Repeats stack in place.
	_, err = svc.DeliverItemToBagsOrMail(context.Background(), char, "wolf_pelt", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, char.Inventory["wolf_pelt"])
}

func TestMemoryService_OverflowMailsWhenBagsFull(t *testing.T) {
	mail := item.NewMemoryMail()
	svc := item.NewMemoryService(1, mail)
	char := &character.Character{ID: 7, Inventory: map[string]int{"rusty_sword": 1}}

	d, err := svc.DeliverItemToBagsOrMail(context.Background(), char, "wolf_pelt", 1)
	require.NoError(t, err)
	assert.Equal(t, item.DestMail, d.Destination)
	assert.NotContains(t, char.Inventory, "wolf_pelt")

	sent := mail.Sent(7)
	require.Len(t, sent, 1)
	assert.Equal(t, "wolf_pelt", sent[0].ItemID)
	assert.Equal(t, 1, sent[0].Quantity)
}

func TestMemoryService_ExistingStackBypassesSlotCap(t *testing.T) {
	svc := item.NewMemoryService(1, nil)
	char := &character.Character{ID: 7, Inventory: map[string]int{"wolf_pelt": 1}}

	d, err := svc.DeliverItemToBagsOrMail(context.Background(), char, "wolf_pelt", 1)
	require.NoError(t, err)
	assert.Equal(t, item.DestBags, d.Destination)
	assert.Equal(t, 2, char.Inventory["wolf_pelt"])
}

func TestMemoryService_Errors(t *testing.T) {
	svc := item.NewMemoryService(1, nil)

	_, err := svc.DeliverItemToBagsOrMail(context.Background(), nil, "x", 1)
	assert.Error(t, err)

	char := &character.Character{ID: 7}
	_, err = svc.DeliverItemToBagsOrMail(context.Background(), char, "x", 0)
	assert.Error(t, err)

	// Bags full with no mail sink fails outright.
	char.Inventory = map[string]int{"rusty_sword": 1}
	_, err = svc.DeliverItemToBagsOrMail(context.Background(), char, "wolf_pelt", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bags full")
}

func TestMemoryMail_SentIsACopy(t *testing.T) {
	mail := item.NewMemoryMail()
	require.NoError(t, mail.SendItemMail(context.Background(), 3, "gem", 1))
	got := mail.Sent(3)
	got[0].Quantity = 99
	assert.Equal(t, 1, mail.Sent(3)[0].Quantity)
	assert.Empty(t, mail.Sent(4))
}
