package connmanager

import (
	"net"
	"time"
)

const retryConnectionDuration = 30 * time.Second

// startConnectionLoop spawns a loop that keeps one configured peer connected,
// redialing whenever the connection drops, until the ConnectionManager stops.
func (c *ConnectionManager) startConnectionLoop(address string) {
	c.loopsWaitGroup.Add()
	spawn("ConnectionManager.connectionLoop", func() {
		defer c.loopsWaitGroup.Done()
		for {
			if c.isStopped() {
				return
			}
			c.connectAndHold(address)
			select {
			case <-c.stopChan:
				return
			case <-time.After(retryConnectionDuration):
			}
		}
	})
}

// connectAndHold dials the given address, registers the peer, and blocks
// until the connection drops or the manager stops.
func (c *ConnectionManager) connectAndHold(address string) {
	connection, err := c.dial(address)
	if err != nil {
		log.Infof("Couldn't connect to %s: %s", address, err)
		return
	}
	log.Infof("Connected to %s", address)

	peer := newConnectedPeer(address, connection)
	c.AddPeer(peer)
	defer func() {
		c.RemovePeer(address)
		peer.close()
		log.Infof("Disconnected from %s (%d items were pending in its inventory)",
			address, peer.InventoryLength())
	}()

	// The manager may have stopped while the dial was in flight, in which
	// case Stop already missed this peer's connection.
	if c.isStopped() {
		return
	}

	c.holdConnection(connection)
}

// holdConnection blocks until the given connection errors out. Nothing is
// expected on the incoming side, so any read completion is treated as a
// disconnect.
func (c *ConnectionManager) holdConnection(connection net.Conn) {
	buffer := make([]byte, 256)
	for {
		_, err := connection.Read(buffer)
		if err != nil {
			return
		}
	}
}
