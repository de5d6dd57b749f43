package connmanager

import (
	"net"
	"sync"

	"github.com/relaynet/relayd/domain/mempool/model"
)

// Peer is a single connected peer, tracking the outbound inventory the peer
// should be told about. The inventory set is individually synchronized, so
// callers never lock a Peer directly.
type Peer struct {
	address    string
	connection net.Conn

	inventoryMutex sync.Mutex
	inventory      map[model.TransactionID]model.Inventory
}

// NewPeer returns a Peer for the given address with no underlying connection.
// It is used by tests and by components that manage connections themselves.
func NewPeer(address string) *Peer {
	return &Peer{
		address:   address,
		inventory: make(map[model.TransactionID]model.Inventory),
	}
}

func newConnectedPeer(address string, connection net.Conn) *Peer {
	peer := NewPeer(address)
	peer.connection = connection
	return peer
}

// Address returns the address of this peer.
func (p *Peer) Address() string {
	return p.address
}

// AddTxnsToInventory merges the given announcements into this peer's outbound
// inventory. Items already queued for this peer are suppressed by the
// inventory's set semantics.
func (p *Peer) AddTxnsToInventory(invs []model.Inventory) {
	p.inventoryMutex.Lock()
	defer p.inventoryMutex.Unlock()
	for _, inv := range invs {
		p.inventory[inv.ID] = inv
	}
}

// RemoveTxnsFromInventory removes the given announcements from this peer's
// outbound inventory. Items not in the inventory are ignored.
func (p *Peer) RemoveTxnsFromInventory(invs []model.Inventory) {
	p.inventoryMutex.Lock()
	defer p.inventoryMutex.Unlock()
	for _, inv := range invs {
		delete(p.inventory, inv.ID)
	}
}

// InventoryContains returns whether the given transaction is currently in
// this peer's outbound inventory.
func (p *Peer) InventoryContains(transactionID *model.TransactionID) bool {
	p.inventoryMutex.Lock()
	defer p.inventoryMutex.Unlock()
	_, ok := p.inventory[*transactionID]
	return ok
}

// InventoryLength returns the number of items currently in this peer's
// outbound inventory.
func (p *Peer) InventoryLength() int {
	p.inventoryMutex.Lock()
	defer p.inventoryMutex.Unlock()
	return len(p.inventory)
}

func (p *Peer) close() {
	if p.connection != nil {
		err := p.connection.Close()
		if err != nil {
			log.Debugf("Error closing connection to %s: %s", p.address, err)
		}
	}
}
