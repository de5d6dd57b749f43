package propagation

import (
	"sort"

	"github.com/relaynet/relayd/domain/mempool/model"
)

// SendingDetails is one pending announcement of a transaction to peers: the
// inventory to announce plus a reference to the transaction it denotes. The
// propagator does not own the transaction's lifetime, it only holds the
// reference for as long as the pending record exists.
type SendingDetails struct {
	Inv         model.Inventory
	Transaction *model.Transaction
}

// NewSendingDetails returns the SendingDetails announcing the given
// transaction.
func NewSendingDetails(transaction *model.Transaction) SendingDetails {
	return SendingDetails{
		Inv:         model.NewTxInventory(transaction.ID()),
		Transaction: transaction,
	}
}

// lessFunc is a total order over SendingDetails.
type lessFunc func(a, b *SendingDetails) bool

// less orders SendingDetails by the mempool's ordering metadata. Transactions
// still in the mempool come first, higher fee rate first; transactions that
// left the mempool come after all of them. Fee-rate ties and transactions
// without mempool metadata order by transaction ID.
//
// Keying on mempool membership before the fee rate keeps the order total even
// when the inputs mix in-pool and already-removed transactions, which is the
// normal case during removal: the mempool deletes a transaction before
// notifying the propagator, so the removal set no longer carries a fee rate
// while the pending queue still does.
//
// This function MUST be called with the mempool lock held, and a single sort
// or set-difference computation must hold the lock throughout so that both
// inputs see the same metadata.
func (p *Propagator) less(a, b *SendingDetails) bool {
	aFeeRate, aOK := p.mempool.FeeRate(&a.Inv.ID)
	bFeeRate, bOK := p.mempool.FeeRate(&b.Inv.ID)
	if aOK != bOK {
		return aOK
	}
	if aOK && aFeeRate != bFeeRate {
		return aFeeRate > bFeeRate
	}
	return a.Inv.ID.Less(&b.Inv.ID)
}

// sortSendingDetails sorts details in place under the given order.
func sortSendingDetails(details []SendingDetails, less lessFunc) {
	sort.Slice(details, func(i, j int) bool {
		return less(&details[i], &details[j])
	})
}

// setDifference returns the elements of a that have no equivalent element in
// b. Both a and b must already be sorted under less, and equivalence is
// defined by less: x and y are equivalent when neither orders before the
// other. Each element of b cancels at most one equivalent element of a.
func setDifference(a, b []SendingDetails, less lessFunc) []SendingDetails {
	result := make([]SendingDetails, 0, len(a))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case less(&a[i], &b[j]):
			result = append(result, a[i])
			i++
		case less(&b[j], &a[i]):
			j++
		default:
			i++
			j++
		}
	}
	result = append(result, a[i:]...)
	return result
}

// inventories extracts the inventory vectors out of the given details.
func inventories(details []SendingDetails) []model.Inventory {
	invs := make([]model.Inventory, len(details))
	for i, detail := range details {
		invs[i] = detail.Inv
	}
	return invs
}
