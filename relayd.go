package main

import (
	"sync/atomic"

	"github.com/relaynet/relayd/app/propagation"
	"github.com/relaynet/relayd/domain/mempool"
	"github.com/relaynet/relayd/domain/mempool/model"
	"github.com/relaynet/relayd/infrastructure/config"
	"github.com/relaynet/relayd/infrastructure/network/connmanager"
)

// relayd is a wrapper for all the relayd services
type relayd struct {
	cfg               *config.Config
	mempool           *mempool.Mempool
	propagator        *propagation.Propagator
	connectionManager *connmanager.ConnectionManager

	started, shutdown int32
}

// newRelayd returns a new relayd instance with all its services wired
// together: transactions admitted into the mempool are queued on the
// propagator, and transactions leaving the mempool are withdrawn from the
// pending queue and from every peer's inventory.
func newRelayd(cfg *config.Config) (*relayd, error) {
	connectionManager, err := connmanager.New(cfg)
	if err != nil {
		return nil, err
	}

	mempool := mempool.New()
	propagator := propagation.New(cfg.TxnPropagationInterval, mempool, connectionManager)

	mempool.SetTransactionAddedHandler(func(transaction *model.Transaction) {
		propagator.NewTransaction(propagation.NewSendingDetails(transaction))
	})
	mempool.SetTransactionsRemovedHandler(propagator.RemoveTransactions)

	return &relayd{
		cfg:               cfg,
		mempool:           mempool,
		propagator:        propagator,
		connectionManager: connectionManager,
	}, nil
}

// start launches all the relayd services.
func (s *relayd) start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	log.Trace("Starting relayd")
	log.Infof("Transaction propagation interval: %s", s.propagator.RunFrequency())

	s.connectionManager.Start()
}

// stop gracefully shuts down all the relayd services.
func (s *relayd) stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.Infof("Relayd is already in the process of shutting down")
		return
	}

	log.Warnf("Relayd shutting down")

	queueLength := s.propagator.NewTransactionQueueLength()
	if queueLength > 0 {
		log.Infof("Dropping %d queued transaction announcements", queueLength)
	}

	s.propagator.Shutdown()
	s.connectionManager.Stop()
}
