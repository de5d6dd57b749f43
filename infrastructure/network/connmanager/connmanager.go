package connmanager

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/go-socks/socks"

	"github.com/relaynet/relayd/infrastructure/config"
	"github.com/relaynet/relayd/util/locks"
)

// dialFunc dials a TCP connection to the given address.
type dialFunc func(address string) (net.Conn, error)

// ConnectionManager maintains the set of connected peers and provides the
// parallel fan-out primitive used to apply an inventory update to every
// connected peer at once.
type ConnectionManager struct {
	cfg  *config.Config
	dial dialFunc

	peersMutex sync.RWMutex
	peers      map[string]*Peer

	stop           uint32
	stopChan       chan struct{}
	loopsWaitGroup *locks.WaitGroup
}

// New instantiates a new instance of a ConnectionManager.
func New(cfg *config.Config) (*ConnectionManager, error) {
	c := &ConnectionManager{
		cfg:            cfg,
		peers:          make(map[string]*Peer),
		stopChan:       make(chan struct{}),
		loopsWaitGroup: locks.NewWaitGroup(),
	}
	c.dial = c.dialDirect
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		c.dial = func(address string) (net.Conn, error) {
			return proxy.Dial("tcp", address)
		}
	}
	return c, nil
}

func (c *ConnectionManager) dialDirect(address string) (net.Conn, error) {
	return net.DialTimeout("tcp", address, config.DefaultConnectTimeout)
}

// Start begins the operation of the ConnectionManager, dialing every
// configured peer and maintaining the connections.
func (c *ConnectionManager) Start() {
	for _, address := range c.cfg.ConnectPeers {
		c.startConnectionLoop(address)
	}
}

// Stop closes all connections and waits for the connection loops to exit.
// Stop is idempotent.
func (c *ConnectionManager) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stop, 0, 1) {
		return
	}
	close(c.stopChan)

	c.peersMutex.Lock()
	for _, peer := range c.peers {
		peer.close()
	}
	c.peersMutex.Unlock()

	c.loopsWaitGroup.Wait()
}

func (c *ConnectionManager) isStopped() bool {
	return atomic.LoadUint32(&c.stop) != 0
}

// AddPeer adds a peer to the set of connected peers. A peer with the same
// address replaces the previous one.
func (c *ConnectionManager) AddPeer(peer *Peer) {
	c.peersMutex.Lock()
	defer c.peersMutex.Unlock()
	c.peers[peer.Address()] = peer
}

// RemovePeer removes the peer with the given address from the set of
// connected peers.
func (c *ConnectionManager) RemovePeer(address string) {
	c.peersMutex.Lock()
	defer c.peersMutex.Unlock()
	delete(c.peers, address)
}

// Peers returns the currently connected peers.
func (c *ConnectionManager) Peers() []*Peer {
	c.peersMutex.RLock()
	defer c.peersMutex.RUnlock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, peer := range c.peers {
		peers = append(peers, peer)
	}
	return peers
}

// PeerCount returns the number of currently connected peers.
func (c *ConnectionManager) PeerCount() int {
	c.peersMutex.RLock()
	defer c.peersMutex.RUnlock()
	return len(c.peers)
}

// ParallelForEachPeer runs fn for every connected peer, each on a goroutine
// of its own, and returns one completion channel per peer. Every returned
// channel closes when its peer's fn call returns, whether it succeeded or
// not, so a caller that waits on all of them observes a full fan-in barrier.
func (c *ConnectionManager) ParallelForEachPeer(fn func(peer *Peer)) []<-chan struct{} {
	peers := c.Peers()
	results := make([]<-chan struct{}, 0, len(peers))
	for _, peer := range peers {
		peer := peer
		results = append(results, locks.ReceiveFromChanWhenDone(func() {
			fn(peer)
		}))
	}
	return results
}
