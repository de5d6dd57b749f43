package connmanager

import (
	"testing"
	"time"

	"github.com/relaynet/relayd/domain/mempool/model"
	"github.com/relaynet/relayd/infrastructure/config"
)

func testConfig() *config.Config {
	return &config.Config{Flags: &config.Flags{}}
}

func testInventory(payload string) model.Inventory {
	transaction := &model.Transaction{Payload: []byte(payload), Fee: 1, Mass: 1}
	return model.NewTxInventory(transaction.ID())
}

func TestPeerInventory(t *testing.T) {
	peer := NewPeer("10.0.0.1:16111")

	invA := testInventory("A")
	invB := testInventory("B")

	peer.AddTxnsToInventory([]model.Inventory{invA, invB})
	// Duplicates are suppressed by the inventory's set semantics.
	peer.AddTxnsToInventory([]model.Inventory{invA})

	if length := peer.InventoryLength(); length != 2 {
		t.Errorf("InventoryLength: expected 2, got %d", length)
	}
	if !peer.InventoryContains(&invA.ID) || !peer.InventoryContains(&invB.ID) {
		t.Errorf("inventory is missing an added item")
	}

	peer.RemoveTxnsFromInventory([]model.Inventory{invA, testInventory("missing")})
	if peer.InventoryContains(&invA.ID) {
		t.Errorf("inventory still contains a removed item")
	}
	if !peer.InventoryContains(&invB.ID) {
		t.Errorf("removal dropped an unrelated item")
	}
}

func TestAddAndRemovePeers(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	c.AddPeer(NewPeer("10.0.0.1:16111"))
	c.AddPeer(NewPeer("10.0.0.2:16111"))
	// Same address replaces the existing peer.
	c.AddPeer(NewPeer("10.0.0.1:16111"))

	if count := c.PeerCount(); count != 2 {
		t.Errorf("PeerCount: expected 2, got %d", count)
	}

	c.RemovePeer("10.0.0.2:16111")
	if count := c.PeerCount(); count != 1 {
		t.Errorf("PeerCount after removal: expected 1, got %d", count)
	}
}

func TestParallelForEachPeer(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	const peerCount = 5
	for i := 0; i < peerCount; i++ {
		c.AddPeer(NewPeer(string(rune('a'+i)) + ":16111"))
	}

	inv := testInventory("A")
	results := c.ParallelForEachPeer(func(peer *Peer) {
		peer.AddTxnsToInventory([]model.Inventory{inv})
	})

	if len(results) != peerCount {
		t.Fatalf("expected %d completion channels, got %d", peerCount, len(results))
	}
	for i, result := range results {
		select {
		case <-result:
		case <-time.After(time.Second):
			t.Fatalf("per-peer task %d did not complete", i)
		}
	}

	for _, peer := range c.Peers() {
		if !peer.InventoryContains(&inv.ID) {
			t.Errorf("peer %s was not updated by ParallelForEachPeer", peer.Address())
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Stop()
	c.Stop()
}
