package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// UDPChannel implements PhysicalChannel over UDP. Datagrams are treated as
// chunks of one byte stream; loss and reordering look like line noise to the
// link layer, which recovers from both.
type UDPChannel struct {
	// Connection
	conn     *net.UDPConn
	connLock sync.RWMutex

	// Configuration
	address      string
	isServer     bool
	remoteAddr   *net.UDPAddr // Used for client mode to know where to send
	lastPeerAddr *net.UDPAddr // Used for server mode to remember last peer
	peerLock     sync.RWMutex
	writeTimeout time.Duration

	stats    counters
	notifier notifier

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // "host:port" format
	IsServer     bool          // true = bind and listen, false = bind and send to remote
	WriteTimeout time.Duration // Write timeout (0 = default)
}

// NewUDPChannel creates a new UDP channel
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	uc := &UDPChannel{
		address:      config.Address,
		isServer:     config.IsServer,
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := uc.initialize(); err != nil {
		cancel()
		return nil, err
	}

	return uc, nil
}

// initialize sets up the UDP socket
func (uc *UDPChannel) initialize() error {
	addr, err := net.ResolveUDPAddr("udp", uc.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", uc.address, err)
	}

	if uc.isServer {
		// Server mode: bind to local address to receive from any client
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", uc.address, err)
		}
		uc.conn = conn
	} else {
		// Client mode: bind to any local address and remember remote address
		uc.remoteAddr = addr

		localAddr, err := net.ResolveUDPAddr("udp", ":0")
		if err != nil {
			return fmt.Errorf("failed to resolve local UDP address: %w", err)
		}

		conn, err := net.ListenUDP("udp", localAddr)
		if err != nil {
			return fmt.Errorf("failed to create UDP connection: %w", err)
		}
		uc.conn = conn

		// Let the server learn our address before the link sends anything
		if _, err := conn.WriteToUDP([]byte{idleByte}, addr); err != nil {
			conn.Close()
			return fmt.Errorf("failed to reach %s: %w", uc.address, err)
		}
	}

	uc.stats.connects.Add(1)
	return nil
}

// ReadTimeout implements PhysicalChannel.ReadTimeout
func (uc *UDPChannel) ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-uc.ctx.Done():
		return nil, ErrChannelClosed
	default:
	}

	uc.connLock.RLock()
	conn := uc.conn
	uc.connLock.RUnlock()

	if conn == nil {
		return nil, ErrChannelClosed
	}

	conn.SetReadDeadline(time.Now().Add(d))

	buffer := make([]byte, 65535)
	n, remoteAddr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		if uc.closed.Load() {
			return nil, ErrChannelClosed
		}
		uc.stats.readErrors.Add(1)
		return nil, err
	}

	// Remember the peer so replies go back to it
	if uc.isServer && remoteAddr != nil {
		uc.peerLock.Lock()
		first := uc.lastPeerAddr == nil
		uc.lastPeerAddr = remoteAddr
		uc.peerLock.Unlock()
		if first {
			uc.notifier.established()
		}
	}

	uc.stats.bytesReceived.Add(uint64(n))
	return buffer[:n], nil
}

// Write implements PhysicalChannel.Write
func (uc *UDPChannel) Write(ctx context.Context, data []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-uc.ctx.Done():
		return 0, ErrChannelClosed
	default:
	}

	uc.connLock.RLock()
	conn := uc.conn
	uc.connLock.RUnlock()

	if conn == nil {
		uc.stats.writeErrors.Add(1)
		return 0, ErrChannelClosed
	}

	var destAddr *net.UDPAddr
	if uc.isServer {
		// Server mode: send to the last peer we received from
		uc.peerLock.RLock()
		destAddr = uc.lastPeerAddr
		uc.peerLock.RUnlock()

		if destAddr == nil {
			uc.stats.bytesDropped.Add(uint64(len(data)))
			return len(data), nil
		}
	} else {
		destAddr = uc.remoteAddr
	}

	if uc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(uc.writeTimeout))
	}

	n, err := conn.WriteToUDP(data, destAddr)
	if err != nil {
		uc.stats.writeErrors.Add(1)
		return n, err
	}

	uc.stats.bytesSent.Add(uint64(n))
	return n, nil
}

// Close implements PhysicalChannel.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	uc.cancel()

	uc.connLock.Lock()
	if uc.conn != nil {
		uc.conn.Close()
		uc.stats.disconnects.Add(1)
		uc.conn = nil
	}
	uc.connLock.Unlock()

	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return uc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel.SetConnectionStateListener.
// Servers report an established connection when the first datagram arrives.
func (uc *UDPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	uc.notifier.set(listener)
}

// LocalAddr returns the local address of the socket
func (uc *UDPChannel) LocalAddr() net.Addr {
	uc.connLock.RLock()
	defer uc.connLock.RUnlock()
	if uc.conn != nil {
		return uc.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote address
// For server mode, this returns the last peer address
// For client mode, this returns the configured remote address
func (uc *UDPChannel) RemoteAddr() net.Addr {
	if uc.isServer {
		uc.peerLock.RLock()
		defer uc.peerLock.RUnlock()
		if uc.lastPeerAddr == nil {
			return nil
		}
		return uc.lastPeerAddr
	}
	return uc.remoteAddr
}
