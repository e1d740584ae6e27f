package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPChannel implements PhysicalChannel over a TCP connection. It stands in
// for a serial cable between two hosts.
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex
	readLock sync.Mutex

	// Configuration
	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
	writeTimeout   time.Duration

	stats    counters
	notifier notifier

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	WriteTimeout   time.Duration // Write timeout (0 = default)
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		writeTimeout:   config.WriteTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize connection
	if config.IsServer {
		if err := tc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := tc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return tc, nil
}

// startServer starts listening for incoming connections
func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.listener = listener

	// Accept connections in background
	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections. A new peer replaces the old one.
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := tc.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := tc.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if tc.closed.Load() {
				return
			}
			continue
		}

		tc.connLock.Lock()
		hadConnection := tc.conn != nil
		if tc.conn != nil {
			tc.conn.Close()
			tc.stats.disconnects.Add(1)
		}
		tc.conn = conn
		tc.stats.connects.Add(1)
		tc.connLock.Unlock()

		if hadConnection {
			tc.notifier.lost()
		}
		tc.notifier.established()
	}
}

// connect establishes a connection to the remote server
func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()
	tc.notifier.established()

	// Start reconnection handler for clients
	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// reconnectLoop redials whenever the connection has been dropped
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
			tc.connLock.RLock()
			conn := tc.conn
			tc.connLock.RUnlock()

			if conn != nil {
				continue
			}

			newConn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
			if err != nil {
				continue
			}
			tc.connLock.Lock()
			tc.conn = newConn
			tc.stats.connects.Add(1)
			tc.connLock.Unlock()
			tc.notifier.established()
		}
	}
}

// ReadTimeout implements PhysicalChannel.ReadTimeout
func (tc *TCPChannel) ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error) {
	if err := tc.checkOpen(ctx); err != nil {
		return nil, err
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		// No peer yet: behave like a silent line
		select {
		case <-time.After(d):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tc.ctx.Done():
			return nil, ErrChannelClosed
		}
	}

	tc.readLock.Lock()
	defer tc.readLock.Unlock()

	conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if n > 0 {
		tc.stats.bytesReceived.Add(uint64(n))
		return buf[:n], nil
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		if tc.closed.Load() {
			return nil, ErrChannelClosed
		}
		tc.handleError(conn, &tc.stats.readErrors)
		if errors.Is(err, io.EOF) {
			// Peer went away; the line is silent until it reconnects
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, data []byte) (int, error) {
	if err := tc.checkOpen(ctx); err != nil {
		return 0, err
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		tc.stats.bytesDropped.Add(uint64(len(data)))
		return len(data), nil
	}

	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}

	n, err := conn.Write(data)
	tc.stats.bytesSent.Add(uint64(n))
	if err != nil {
		tc.handleError(conn, &tc.stats.writeErrors)
		return n, err
	}
	return n, nil
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Cancel context to stop all goroutines
	tc.cancel()

	// Close listener if server
	if tc.listener != nil {
		tc.listener.Close()
	}

	// Close connection
	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()

	// Wait for goroutines to finish
	tc.wg.Wait()

	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return tc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel.SetConnectionStateListener
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.notifier.set(listener)
}

func (tc *TCPChannel) checkOpen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
		return nil
	}
}

// handleError counts the error and drops conn if it is still current
func (tc *TCPChannel) handleError(conn net.Conn, counter *atomic.Uint64) {
	counter.Add(1)

	tc.connLock.Lock()
	dropped := tc.conn == conn
	if dropped {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()

	if dropped {
		tc.notifier.lost()
	}
}

// IsConnected returns true if there is an active connection
func (tc *TCPChannel) IsConnected() bool {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn != nil
}

// LocalAddr returns the listener address for servers, or the local end of
// the connection for clients
func (tc *TCPChannel) LocalAddr() net.Addr {
	if tc.listener != nil {
		return tc.listener.Addr()
	}
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.RemoteAddr()
	}
	return nil
}
