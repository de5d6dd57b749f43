package model

import "fmt"

// InvType represents the kind of item an Inventory refers to.
type InvType uint32

// InvType constants.
const (
	// InvTypeTx indicates the inventory refers to a transaction.
	InvTypeTx InvType = 1
)

// String returns the InvType in human-readable form.
func (t InvType) String() string {
	if t == InvTypeTx {
		return "TX"
	}
	return fmt.Sprintf("Unknown InvType (%d)", uint32(t))
}

// Inventory is a reference to a single item a peer may be told about: an item
// kind plus the content-addressed ID of the item.
type Inventory struct {
	Type InvType
	ID   TransactionID
}

// NewTxInventory returns an Inventory referring to the given transaction.
func NewTxInventory(id *TransactionID) Inventory {
	return Inventory{Type: InvTypeTx, ID: *id}
}

// String returns the Inventory in human-readable form.
func (inv Inventory) String() string {
	return fmt.Sprintf("%s:%s", inv.Type, inv.ID)
}
