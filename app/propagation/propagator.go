package propagation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaynet/relayd/domain/mempool"
	"github.com/relaynet/relayd/domain/mempool/model"
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/infrastructure/network/connmanager"
)

// ConnectionManager is the subset of the connection manager the propagator
// uses. It is injected at construction so tests can supply a fake with
// deterministic, synchronous per-peer completion.
type ConnectionManager interface {
	// ParallelForEachPeer runs fn for every connected peer in parallel and
	// returns one completion channel per peer. Each channel closes when
	// its peer's fn call returns.
	ParallelForEachPeer(fn func(peer *connmanager.Peer)) []<-chan struct{}
}

// wakeReason is why a worker wait ended.
type wakeReason int

const (
	// wakeReasonTimeout means the run-frequency interval elapsed.
	wakeReasonTimeout wakeReason = iota

	// wakeReasonFrequencyChange means SetRunFrequency woke the worker so
	// it reschedules at the new frequency.
	wakeReasonFrequencyChange

	// wakeReasonShutdown means Shutdown was called.
	wakeReasonShutdown
)

// Propagator batches newly accepted transactions and periodically announces
// them to every connected peer.
//
// The propagator has a lock of its own guarding the pending queue and the run
// frequency. Whenever both this lock and the mempool lock are needed, the
// propagator's lock is always acquired first and the mempool lock second.
type Propagator struct {
	mempool           *mempool.Mempool
	connectionManager ConnectionManager

	// running is 1 from construction until the first Shutdown call. It
	// must only be accessed atomically.
	running int32

	mtx             sync.Mutex
	newTransactions []SendingDetails
	runFrequency    time.Duration

	wakeChan     chan struct{}
	shutdownChan chan struct{}
	workerDone   chan struct{}
}

// New creates a Propagator and immediately starts its worker at the given run
// frequency.
func New(runFrequency time.Duration, mempool *mempool.Mempool, connectionManager ConnectionManager) *Propagator {
	p := &Propagator{
		mempool:           mempool,
		connectionManager: connectionManager,
		running:           1,
		runFrequency:      runFrequency,
		wakeChan:          make(chan struct{}, 1),
		shutdownChan:      make(chan struct{}),
		workerDone:        make(chan struct{}),
	}
	spawn("Propagator.newTransactionsWorker", p.newTransactionsWorker)
	return p
}

// RunFrequency returns the frequency at which queued announcements are
// propagated to peers.
func (p *Propagator) RunFrequency() time.Duration {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.runFrequency
}

// SetRunFrequency changes the propagation frequency. The worker is woken so
// that an in-flight wait is rescheduled at the new frequency rather than
// completing a stale, longer one.
func (p *Propagator) SetRunFrequency(frequency time.Duration) {
	p.mtx.Lock()
	p.runFrequency = frequency
	p.mtx.Unlock()

	select {
	case p.wakeChan <- struct{}{}:
	default:
	}
}

// NewTransactionQueueLength returns the number of queued announcements
// awaiting the next propagation cycle.
func (p *Propagator) NewTransactionQueueLength() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.newTransactions)
}

// NewTransaction queues an announcement for the next propagation cycle. The
// worker is not woken: relay latency of up to one run-frequency interval is
// accepted, and bounded by that interval. No deduplication is performed at
// this layer.
func (p *Propagator) NewTransaction(details SendingDetails) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.newTransactions = append(p.newTransactions, details)
}

// RemoveTransactions stops the given transactions from being offered to
// peers: they are pruned from the pending queue and removed from every
// connected peer's outbound inventory. RemoveTransactions returns only after
// every peer's inventory has been updated.
func (p *Propagator) RemoveTransactions(transactions []*model.Transaction) {
	onEnd := logger.LogAndMeasureExecutionTime(log, "Propagator.RemoveTransactions")
	defer onEnd()

	log.Debugf("Purging %d transactions", len(transactions))

	txnDetails := make([]SendingDetails, 0, len(transactions))
	for _, transaction := range transactions {
		txnDetails = append(txnDetails, NewSendingDetails(transaction))
	}

	// Filter the list of new transactions. Always take our lock first,
	// then the mempool lock. Both sorts and the set difference happen
	// under a single hold of the mempool lock, so they all see the same
	// ordering metadata.
	p.mtx.Lock()
	p.mempool.Lock()
	sortSendingDetails(txnDetails, p.less)
	sortSendingDetails(p.newTransactions, p.less)
	p.newTransactions = setDifference(p.newTransactions, txnDetails, p.less)
	p.mempool.Unlock()
	p.mtx.Unlock()

	// Update the pending inventory of each peer. Only peer state is
	// touched from here on, so our own lock stays released.
	invs := inventories(txnDetails)
	p.mempool.Lock()
	results := p.connectionManager.ParallelForEachPeer(func(peer *connmanager.Peer) {
		peer.RemoveTxnsFromInventory(invs)
	})
	// Wait for all peers to finish processing so the mempool lock can be
	// safely released.
	for _, result := range results {
		<-result
	}
	p.mempool.Unlock()
}

// Shutdown stops the worker and waits for it to exit. Shutdown is idempotent:
// concurrent and repeated calls perform the stop sequence exactly once, and
// every caller returns only after the worker has exited.
func (p *Propagator) Shutdown() {
	// Only shutdown once
	if atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		close(p.shutdownChan)
	}
	<-p.workerDone
}

func (p *Propagator) isRunning() bool {
	return atomic.LoadInt32(&p.running) != 0
}

// waitForWake blocks for up to timeout and reports why the wait ended.
func (p *Propagator) waitForWake(timeout time.Duration) wakeReason {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.shutdownChan:
		return wakeReasonShutdown
	case <-p.wakeChan:
		return wakeReasonFrequencyChange
	case <-timer.C:
		return wakeReasonTimeout
	}
}

// newTransactionsWorker is the worker loop: wait out the run frequency (or an
// early wake), then propagate whatever has accumulated.
func (p *Propagator) newTransactionsWorker() {
	defer close(p.workerDone)

	log.Debug("New transaction handling worker starting")
	defer log.Debug("New transaction handling worker stopping")

	for p.isRunning() {
		reason := p.waitForWake(p.RunFrequency())
		if reason == wakeReasonShutdown || !p.isRunning() {
			return
		}

		p.mtx.Lock()
		if len(p.newTransactions) > 0 {
			log.Debugf("Got %d new transactions", len(p.newTransactions))
			err := p.processNewTransactions()
			if err != nil {
				log.Errorf("Error processing new transactions: %+v", err)
			}
		}
		p.mtx.Unlock()
	}
}

// processNewTransactions fans the whole pending batch out to every connected
// peer in parallel and clears the queue once every peer's update has
// completed. The caller must already hold the propagator's lock.
func (p *Propagator) processNewTransactions() error {
	// Take the mempool lock so the ordering metadata the per-peer updates
	// read stays stable for the duration of the fan-out.
	invs := inventories(p.newTransactions)
	p.mempool.Lock()
	results := p.connectionManager.ParallelForEachPeer(func(peer *connmanager.Peer) {
		peer.AddTxnsToInventory(invs)
	})
	// Wait for all peers to finish processing so the mempool lock can be
	// safely released.
	for _, result := range results {
		<-result
	}
	p.mempool.Unlock()

	// The batch is delivered, clear the queue.
	p.newTransactions = p.newTransactions[:0]
	return nil
}
