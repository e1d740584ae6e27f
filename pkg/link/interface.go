package link

import (
	"context"
	"fmt"
	"time"

	"avaneesh/seriallink-go/pkg/internal/logger"
)

// Transport is the byte stream a connection runs over. Implementations live
// in pkg/channel.
type Transport interface {
	// ReadTimeout returns whatever bytes are available, waiting at most d.
	// An empty result with a nil error means nothing arrived yet and is not
	// end of stream.
	ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error)

	// Write writes the whole slice or returns an error
	Write(ctx context.Context, data []byte) (int, error)
}

// LinkLayer defines the operations exposed to the application layer
type LinkLayer interface {
	// Lifecycle
	Open(ctx context.Context) error
	Close(ctx context.Context, showStatistics bool) error

	// Data transmission
	Send(ctx context.Context, payload []byte) (int, error)
	Receive(ctx context.Context) ([]byte, error)

	// State
	Phase() Phase
	Role() Role
	Statistics() StatisticsSnapshot
}

// StatisticsCallback receives the final counters when a connection is
// closed with showStatistics set
type StatisticsCallback func(role Role, stats StatisticsSnapshot)

// StatusCallback is called when the connection phase changes
type StatusCallback func(phase Phase, err error)

// Config contains configuration for one connection. It is copied into the
// connection and never shared.
type Config struct {
	Role               Role          // Transmitter opens and sends, receiver answers
	Timeout            time.Duration // Retransmission timeout
	MaxRetransmissions int           // Retransmissions allowed per frame
	MaxPayloadSize     int           // Largest I frame payload
	PollInterval       time.Duration // Longest single transport wait

	StatisticsCallback StatisticsCallback
	StatusCallback     StatusCallback
	Logger             logger.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Role:               RoleTransmitter,
		Timeout:            3 * time.Second,
		MaxRetransmissions: 3,
		MaxPayloadSize:     DefaultMaxPayload,
		PollInterval:       100 * time.Millisecond,
	}
}

// Validate checks the invariants a connection relies on
func (c Config) Validate() error {
	if c.Role != RoleTransmitter && c.Role != RoleReceiver {
		return fmt.Errorf("%w: unknown role %d", ErrInvalidConfig, c.Role)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxRetransmissions < 1 {
		return fmt.Errorf("%w: max retransmissions must be at least 1", ErrInvalidConfig)
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("%w: max payload size must be positive", ErrInvalidConfig)
	}
	return nil
}

// withDefaults fills zero-valued optional fields
func (c Config) withDefaults() Config {
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = DefaultMaxPayload
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logger.GetDefault()
	}
	return c
}
