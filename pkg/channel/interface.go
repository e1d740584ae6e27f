package channel

import (
	"context"
	"errors"
	"time"
)

// ErrChannelClosed is returned by reads and writes after Close
var ErrChannelClosed = errors.New("channel is closed")

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel is a raw byte stream: a serial port, or a socket standing
// in for one. It knows nothing about frames; the link layer finds frame
// boundaries itself.
type PhysicalChannel interface {
	// ReadTimeout returns the bytes available now, waiting at most d for
	// the first one. An empty result with nil error is a timeout, not EOF.
	ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error)

	// Write writes all of data or returns an error.
	// When no peer is attached the bytes are discarded, as on an unplugged
	// line, and counted in BytesDropped.
	Write(ctx context.Context, data []byte) (int, error)

	// Close closes the physical connection
	// Should cleanup all resources and unblock any pending ReadTimeout
	Close() error

	// Statistics returns transport-level statistics
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes
	// Optional - channels without a notion of connection ignore it
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	BytesDropped  uint64 // Bytes written while no peer was attached
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (for connection-oriented transports)
	Disconnects   uint64 // Number of disconnections
}

// readBufferSize bounds a single ReadTimeout result
const readBufferSize = 4096

// idleByte is the link frame delimiter. Client channels whose server only
// learns of them on first data send one on connect; between frames it is
// ignored by the receiver.
const idleByte = 0x7E
