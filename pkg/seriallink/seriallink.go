// Package seriallink opens reliable point-to-point links over serial lines
// and the socket transports that stand in for them.
package seriallink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"avaneesh/seriallink-go/pkg/channel"
	"avaneesh/seriallink-go/pkg/internal/logger"
	"avaneesh/seriallink-go/pkg/link"
	"avaneesh/seriallink-go/pkg/observability"
)

// Network selects the physical channel a link runs over
type Network string

const (
	NetworkSerial Network = "serial"
	NetworkTCP    Network = "tcp"
	NetworkUDP    Network = "udp"
	NetworkQUIC   Network = "quic"
)

// Options describes where a link runs and how it behaves
type Options struct {
	Network  Network
	Address  string // Port name for serial, "host:port" otherwise
	BaudRate int    // Serial only
	IsServer bool   // Socket transports only

	ReconnectDelay time.Duration // Socket clients only
	WriteTimeout   time.Duration

	Link link.Config
}

// Link is an open connection together with the channel it owns
type Link struct {
	conn    *link.Connection
	channel channel.PhysicalChannel
	log     logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open creates the physical channel described by opts and establishes the
// link over it. On failure the channel is closed again.
func Open(ctx context.Context, opts Options) (*Link, error) {
	ch, err := newChannel(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", link.ErrOpenFailed, err)
	}
	return OpenChannel(ctx, ch, opts.Link)
}

// OpenChannel establishes a link over an existing channel. The link takes
// ownership of ch and closes it on Close or when establishment fails.
func OpenChannel(ctx context.Context, ch channel.PhysicalChannel, cfg link.Config) (*Link, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.GetDefault()
	}

	conn, err := link.NewConnection(ch, cfg)
	if err != nil {
		ch.Close()
		return nil, err
	}

	l := &Link{conn: conn, channel: ch, log: cfg.Logger}
	ch.SetConnectionStateListener(l)

	if err := conn.Open(ctx); err != nil {
		observability.RecordOpen(conn.Role(), false)
		ch.Close()
		return nil, err
	}
	observability.RecordOpen(conn.Role(), true)

	return l, nil
}

func newChannel(opts Options) (channel.PhysicalChannel, error) {
	switch opts.Network {
	case NetworkSerial:
		return channel.NewSerialChannel(channel.SerialChannelConfig{
			PortName: opts.Address,
			BaudRate: opts.BaudRate,
		})
	case NetworkTCP:
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:        opts.Address,
			IsServer:       opts.IsServer,
			ReconnectDelay: opts.ReconnectDelay,
			WriteTimeout:   opts.WriteTimeout,
		})
	case NetworkUDP:
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:      opts.Address,
			IsServer:     opts.IsServer,
			WriteTimeout: opts.WriteTimeout,
		})
	case NetworkQUIC:
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:        opts.Address,
			IsServer:       opts.IsServer,
			ReconnectDelay: opts.ReconnectDelay,
			WriteTimeout:   opts.WriteTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: unknown network %q", link.ErrInvalidConfig, opts.Network)
	}
}

// ID returns the session identifier
func (l *Link) ID() string {
	return l.conn.ID()
}

// Role returns the role this end plays
func (l *Link) Role() link.Role {
	return l.conn.Role()
}

// Phase returns the connection phase
func (l *Link) Phase() link.Phase {
	return l.conn.Phase()
}

// MaxPayloadSize returns the largest payload Send accepts
func (l *Link) MaxPayloadSize() int {
	return l.conn.MaxPayloadSize()
}

// Send delivers one payload to the peer, retransmitting as needed
func (l *Link) Send(ctx context.Context, payload []byte) (int, error) {
	return l.conn.Send(ctx, payload)
}

// Receive returns the next payload from the peer
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	return l.conn.Receive(ctx)
}

// Statistics returns the link counters
func (l *Link) Statistics() link.StatisticsSnapshot {
	return l.conn.Statistics()
}

// TransportStatistics returns the byte counters of the underlying channel
func (l *Link) TransportStatistics() channel.TransportStats {
	return l.channel.Statistics()
}

// Close releases the link, closes the channel and records the session
// counters. Later calls return the first result.
func (l *Link) Close(ctx context.Context, showStatistics bool) error {
	l.closeOnce.Do(func() {
		err := l.conn.Close(ctx, showStatistics)
		observability.RecordClose(l.conn.Role(), err == nil)
		observability.RecordStatistics(l.conn.Role(), l.conn.Statistics())

		if chErr := l.channel.Close(); chErr != nil && err == nil {
			err = fmt.Errorf("failed to close channel: %w", chErr)
		}
		l.closeErr = err
	})
	return l.closeErr
}

// OnConnectionEstablished implements channel.ConnectionStateListener
func (l *Link) OnConnectionEstablished() {
	l.log.Info("Link %s: peer connected", l.shortID())
}

// OnConnectionLost implements channel.ConnectionStateListener
func (l *Link) OnConnectionLost() {
	l.log.Warn("Link %s: peer connection lost", l.shortID())
}

func (l *Link) shortID() string {
	return l.conn.ID()[:8]
}
