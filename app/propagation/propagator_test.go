package propagation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/relaynet/relayd/domain/mempool"
	"github.com/relaynet/relayd/domain/mempool/model"
	"github.com/relaynet/relayd/infrastructure/network/connmanager"
)

// fakeConnectionManager is a ConnectionManager whose per-peer calls run
// synchronously, so tests observe deterministic completion.
type fakeConnectionManager struct {
	mtx           sync.Mutex
	peers         []*connmanager.Peer
	dispatchCount int
}

func (f *fakeConnectionManager) ParallelForEachPeer(fn func(peer *connmanager.Peer)) []<-chan struct{} {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	results := make([]<-chan struct{}, 0, len(f.peers))
	for _, peer := range f.peers {
		fn(peer)
		f.dispatchCount++
		done := make(chan struct{})
		close(done)
		results = append(results, done)
	}
	return results
}

func (f *fakeConnectionManager) dispatches() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.dispatchCount
}

func newFakeConnectionManager(peerCount int) *fakeConnectionManager {
	fake := &fakeConnectionManager{}
	for i := 0; i < peerCount; i++ {
		fake.peers = append(fake.peers, connmanager.NewPeer(fmt.Sprintf("10.0.0.%d:16111", i+1)))
	}
	return fake
}

func testTransaction(t *testing.T, mp *mempool.Mempool, payload string, fee uint64) *model.Transaction {
	transaction := &model.Transaction{Payload: []byte(payload), Fee: fee, Mass: 100}
	err := mp.ValidateAndInsertTransaction(transaction)
	if err != nil {
		t.Fatalf("ValidateAndInsertTransaction: %v", err)
	}
	return transaction
}

// waitForEmptyQueue polls the pending queue until it drains or the deadline
// passes.
func waitForEmptyQueue(t *testing.T, propagator *Propagator, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for propagator.NewTransactionQueueLength() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pending queue still has %d transactions after %s",
				propagator.NewTransactionQueueLength(), timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBatchPropagation(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(3)
	propagator := New(20*time.Millisecond, mp, fake)
	defer propagator.Shutdown()

	transactions := []*model.Transaction{
		testTransaction(t, mp, "A", 1000),
		testTransaction(t, mp, "B", 2000),
		testTransaction(t, mp, "C", 3000),
	}
	for _, transaction := range transactions {
		propagator.NewTransaction(NewSendingDetails(transaction))
	}

	waitForEmptyQueue(t, propagator, time.Second)

	for _, peer := range fake.peers {
		for _, transaction := range transactions {
			if !peer.InventoryContains(transaction.ID()) {
				t.Errorf("peer %s is missing transaction %s from its inventory",
					peer.Address(), transaction.ID())
			}
		}
	}
}

func TestFanoutCompleteness(t *testing.T) {
	const peerCount = 7

	mp := mempool.New()
	fake := newFakeConnectionManager(peerCount)
	propagator := New(time.Hour, mp, fake)
	defer propagator.Shutdown()

	propagator.NewTransaction(NewSendingDetails(testTransaction(t, mp, "A", 1000)))

	// Force a single cycle via a frequency-change wake.
	propagator.SetRunFrequency(time.Hour)
	waitForEmptyQueue(t, propagator, time.Second)

	if dispatches := fake.dispatches(); dispatches != peerCount {
		t.Errorf("expected exactly %d per-peer dispatches for one batch, got %d", peerCount, dispatches)
	}
}

func TestRemoveBeforeCycle(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(3)
	propagator := New(time.Hour, mp, fake)
	defer propagator.Shutdown()

	transactionA := testTransaction(t, mp, "A", 1000)
	transactionB := testTransaction(t, mp, "B", 2000)
	propagator.NewTransaction(NewSendingDetails(transactionA))
	propagator.NewTransaction(NewSendingDetails(transactionB))

	mp.RemoveTransactions([]*model.Transaction{transactionA})
	propagator.RemoveTransactions([]*model.Transaction{transactionA})

	if length := propagator.NewTransactionQueueLength(); length != 1 {
		t.Fatalf("expected 1 transaction left in the queue after removal, got %d", length)
	}

	// Let the next cycle run and make sure only B was ever fanned out.
	propagator.SetRunFrequency(10 * time.Millisecond)
	waitForEmptyQueue(t, propagator, time.Second)

	for _, peer := range fake.peers {
		if peer.InventoryContains(transactionA.ID()) {
			t.Errorf("removed transaction %s reached peer %s", transactionA.ID(), peer.Address())
		}
		if !peer.InventoryContains(transactionB.ID()) {
			t.Errorf("peer %s is missing transaction %s", peer.Address(), transactionB.ID())
		}
	}
}

func TestRemoveTransactionsWithMixedPoolMembership(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(3)
	propagator := New(time.Hour, mp, fake)
	defer propagator.Shutdown()

	// Distinct fee rates, with transaction IDs whose byte order runs against
	// the fee-rate order: ID("A") < ID("D") < ID("U").
	transactionHighRate := testTransaction(t, mp, "U", 1000)
	transactionLowRate := testTransaction(t, mp, "A", 500)
	transactionRemoved := testTransaction(t, mp, "D", 100)
	if !transactionLowRate.ID().Less(transactionRemoved.ID()) ||
		!transactionRemoved.ID().Less(transactionHighRate.ID()) {
		t.Fatalf("test payloads no longer have the intended ID order")
	}

	propagator.NewTransaction(NewSendingDetails(transactionHighRate))
	propagator.NewTransaction(NewSendingDetails(transactionLowRate))
	propagator.NewTransaction(NewSendingDetails(transactionRemoved))

	// The mempool drops a transaction before notifying the propagator, so
	// the removal set carries no fee metadata while the queued transactions
	// still do.
	mp.RemoveTransactions([]*model.Transaction{transactionRemoved})
	propagator.RemoveTransactions([]*model.Transaction{transactionRemoved})

	if length := propagator.NewTransactionQueueLength(); length != 2 {
		t.Fatalf("expected 2 transactions left in the queue after removal, got %d", length)
	}

	propagator.SetRunFrequency(10 * time.Millisecond)
	waitForEmptyQueue(t, propagator, time.Second)

	for _, peer := range fake.peers {
		if peer.InventoryContains(transactionRemoved.ID()) {
			t.Errorf("removed transaction %s reached peer %s",
				transactionRemoved.ID(), peer.Address())
		}
		for _, transaction := range []*model.Transaction{transactionHighRate, transactionLowRate} {
			if !peer.InventoryContains(transaction.ID()) {
				t.Errorf("peer %s is missing transaction %s", peer.Address(), transaction.ID())
			}
		}
	}
}

func TestRemoveTransactionsUpdatesPeerInventories(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(2)
	propagator := New(10*time.Millisecond, mp, fake)
	defer propagator.Shutdown()

	transactionA := testTransaction(t, mp, "A", 1000)
	transactionB := testTransaction(t, mp, "B", 2000)
	propagator.NewTransaction(NewSendingDetails(transactionA))
	propagator.NewTransaction(NewSendingDetails(transactionB))
	waitForEmptyQueue(t, propagator, time.Second)

	mp.RemoveTransactions([]*model.Transaction{transactionA})
	propagator.RemoveTransactions([]*model.Transaction{transactionA})

	for _, peer := range fake.peers {
		if peer.InventoryContains(transactionA.ID()) {
			t.Errorf("transaction %s is still in peer %s's inventory after removal",
				transactionA.ID(), peer.Address())
		}
		if !peer.InventoryContains(transactionB.ID()) {
			t.Errorf("transaction %s went missing from peer %s's inventory",
				transactionB.ID(), peer.Address())
		}
	}
}

func TestRemoveTransactionsIsInsertionOrderIndependent(t *testing.T) {
	payloads := []string{"A", "B", "C", "D"}
	permutations := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
	}

	for _, permutation := range permutations {
		mp := mempool.New()
		fake := newFakeConnectionManager(1)
		propagator := New(time.Hour, mp, fake)

		transactions := make([]*model.Transaction, len(payloads))
		for i, payload := range payloads {
			transactions[i] = testTransaction(t, mp, payload, uint64(1000*(i+1)))
		}
		for _, i := range permutation {
			propagator.NewTransaction(NewSendingDetails(transactions[i]))
		}

		toRemove := []*model.Transaction{transactions[1], transactions[3]}
		propagator.RemoveTransactions(toRemove)

		remaining := make(map[model.TransactionID]bool)
		propagator.mtx.Lock()
		for _, details := range propagator.newTransactions {
			remaining[details.Inv.ID] = true
		}
		propagator.mtx.Unlock()

		if len(remaining) != 2 || !remaining[*transactions[0].ID()] || !remaining[*transactions[2].ID()] {
			t.Errorf("insertion order %v: unexpected queue after removal: %s",
				permutation, spew.Sdump(remaining))
		}

		propagator.Shutdown()
	}
}

func TestSetRunFrequencyWakesWorker(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(1)
	propagator := New(time.Hour, mp, fake)
	defer propagator.Shutdown()

	if frequency := propagator.RunFrequency(); frequency != time.Hour {
		t.Fatalf("RunFrequency: expected %s, got %s", time.Hour, frequency)
	}

	propagator.NewTransaction(NewSendingDetails(testTransaction(t, mp, "A", 1000)))

	start := time.Now()
	propagator.SetRunFrequency(50 * time.Millisecond)
	waitForEmptyQueue(t, propagator, time.Second)

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("batch was processed %s after the frequency change, expected it within the new interval", elapsed)
	}
	if frequency := propagator.RunFrequency(); frequency != 50*time.Millisecond {
		t.Errorf("RunFrequency: expected %s, got %s", 50*time.Millisecond, frequency)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mp := mempool.New()
	fake := newFakeConnectionManager(1)
	propagator := New(10*time.Millisecond, mp, fake)

	const shutdownCallers = 10
	var waitGroup sync.WaitGroup
	waitGroup.Add(shutdownCallers)
	for i := 0; i < shutdownCallers; i++ {
		go func() {
			defer waitGroup.Done()
			propagator.Shutdown()
		}()
	}

	done := make(chan struct{})
	go func() {
		waitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("concurrent Shutdown calls did not all return")
	}

	// The worker is gone, so newly queued transactions must never be
	// processed.
	propagator.NewTransaction(NewSendingDetails(testTransaction(t, mp, "A", 1000)))
	propagator.SetRunFrequency(time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if length := propagator.NewTransactionQueueLength(); length != 1 {
		t.Errorf("queue length after shutdown: expected 1, got %d", length)
	}

	// And calling Shutdown again must return immediately.
	propagator.Shutdown()
}
