package channel

import (
	"sync"
	"sync/atomic"
)

// counters tracks transport statistics shared by every channel type
type counters struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	bytesDropped  atomic.Uint64
	writeErrors   atomic.Uint64
	readErrors    atomic.Uint64
	connects      atomic.Uint64
	disconnects   atomic.Uint64
}

// snapshot returns the counters as TransportStats
func (c *counters) snapshot() TransportStats {
	return TransportStats{
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		BytesDropped:  c.bytesDropped.Load(),
		WriteErrors:   c.writeErrors.Load(),
		ReadErrors:    c.readErrors.Load(),
		Connects:      c.connects.Load(),
		Disconnects:   c.disconnects.Load(),
	}
}

// notifier holds the optional connection state listener
type notifier struct {
	listener ConnectionStateListener
	mu       sync.RWMutex
}

func (n *notifier) set(listener ConnectionStateListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = listener
}

// established notifies the listener that a connection was established
func (n *notifier) established() {
	n.mu.RLock()
	listener := n.listener
	n.mu.RUnlock()

	if listener != nil {
		listener.OnConnectionEstablished()
	}
}

// lost notifies the listener that a connection was lost
func (n *notifier) lost() {
	n.mu.RLock()
	listener := n.listener
	n.mu.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}
