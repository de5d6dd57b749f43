package mempool

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/relaynet/relayd/domain/mempool/model"
)

// mempoolTransaction is a transaction inside the mempool, along with the
// metadata the mempool tracks for it.
type mempoolTransaction struct {
	transaction *model.Transaction
	feeRate     float64
	addedTime   time.Time
}

// TransactionAddedHandler is a function that is called, outside the mempool
// lock, for every transaction admitted into the mempool.
type TransactionAddedHandler func(transaction *model.Transaction)

// TransactionsRemovedHandler is a function that is called, outside the mempool
// lock, with every batch of transactions removed from the mempool.
type TransactionsRemovedHandler func(transactions []*model.Transaction)

// Mempool is the shared collection of currently valid, not-yet-finalized
// transactions. Its metadata is the source of truth for announcement
// ordering.
//
// The mempool exposes its lock through Lock and Unlock. Components that read
// ordering metadata, or that need it to stay stable while peer updates are in
// flight, must hold the lock for the duration of the read. A component that
// holds a lock of its own as well must always acquire its own lock first and
// the mempool lock second.
type Mempool struct {
	mtx          sync.Mutex
	transactions map[model.TransactionID]*mempoolTransaction

	transactionAddedHandler    TransactionAddedHandler
	transactionsRemovedHandler TransactionsRemovedHandler
}

// New returns a new empty Mempool.
func New() *Mempool {
	return &Mempool{
		transactions: make(map[model.TransactionID]*mempoolTransaction),
	}
}

// Lock acquires the mempool lock.
func (mp *Mempool) Lock() {
	mp.mtx.Lock()
}

// Unlock releases the mempool lock.
func (mp *Mempool) Unlock() {
	mp.mtx.Unlock()
}

// SetTransactionAddedHandler sets the handler notified of admitted
// transactions. Must be called before the first call to
// ValidateAndInsertTransaction.
func (mp *Mempool) SetTransactionAddedHandler(handler TransactionAddedHandler) {
	mp.transactionAddedHandler = handler
}

// SetTransactionsRemovedHandler sets the handler notified of removed
// transactions. Must be called before the first call to RemoveTransactions.
func (mp *Mempool) SetTransactionsRemovedHandler(handler TransactionsRemovedHandler) {
	mp.transactionsRemovedHandler = handler
}

// ValidateAndInsertTransaction validates the given transaction against the
// mempool's admission rules and inserts it. The transaction-added handler, if
// any, is called after the mempool lock has been released, so that handlers
// are free to take locks of their own without regard to lock ordering against
// the mempool.
func (mp *Mempool) ValidateAndInsertTransaction(transaction *model.Transaction) error {
	err := mp.validateAndInsertTransaction(transaction)
	if err != nil {
		return err
	}

	if mp.transactionAddedHandler != nil {
		mp.transactionAddedHandler(transaction)
	}
	return nil
}

func (mp *Mempool) validateAndInsertTransaction(transaction *model.Transaction) error {
	if transaction.Mass == 0 {
		return errors.Errorf("transaction %s has no mass", transaction.ID())
	}

	txID := *transaction.ID()

	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if _, ok := mp.transactions[txID]; ok {
		return errors.Errorf("transaction %s is already in the mempool", txID)
	}

	mp.transactions[txID] = &mempoolTransaction{
		transaction: transaction,
		feeRate:     float64(transaction.Fee) / float64(transaction.Mass),
		addedTime:   time.Now(),
	}
	return nil
}

// RemoveTransactions removes the given transactions from the mempool.
// Transactions that are not in the mempool are ignored. The
// transactions-removed handler, if any, is called with the full given list
// after the mempool lock has been released, so that announcements for them
// stop regardless of whether they were still in the pool.
func (mp *Mempool) RemoveTransactions(transactions []*model.Transaction) {
	mp.mtx.Lock()
	for _, transaction := range transactions {
		delete(mp.transactions, *transaction.ID())
	}
	mp.mtx.Unlock()

	if mp.transactionsRemovedHandler != nil {
		mp.transactionsRemovedHandler(transactions)
	}
}

// TransactionCount returns the number of transactions currently in the
// mempool.
func (mp *Mempool) TransactionCount() int {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return len(mp.transactions)
}

// Transactions returns the transactions currently in the mempool, in no
// particular order.
func (mp *Mempool) Transactions() []*model.Transaction {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	transactions := make([]*model.Transaction, 0, len(mp.transactions))
	for _, mempoolTransaction := range mp.transactions {
		transactions = append(transactions, mempoolTransaction.transaction)
	}
	return transactions
}

// FeeRate returns the fee-per-mass rate of the given transaction, or false if
// the transaction is not in the mempool.
//
// This function MUST be called with the mempool lock held, and the returned
// value is only meaningful for as long as the lock stays held.
func (mp *Mempool) FeeRate(transactionID *model.TransactionID) (float64, bool) {
	mempoolTransaction, ok := mp.transactions[*transactionID]
	if !ok {
		return 0, false
	}
	return mempoolTransaction.feeRate, true
}
