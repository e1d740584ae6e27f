package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"avaneesh/seriallink-go/pkg/internal/logger"
)

// errTimerExpired signals that the retransmission timer ran out
var errTimerExpired = errors.New("retransmission timer expired")

var _ LinkLayer = (*Connection)(nil)

// Connection implements LinkLayer for one end of a point-to-point link
type Connection struct {
	id        uuid.UUID
	cfg       Config
	transport Transport
	log       logger.Logger

	// Receive path, only touched by the operation holding opMu
	framer *Synchronizer
	rxBuf  []byte
	rxPos  int

	// Session state
	mu        sync.Mutex
	phase     Phase
	used      bool // Open was attempted once
	closing   bool // Close requested
	sendSeq   uint8
	validator *SequenceValidator
	cancelOp  context.CancelFunc

	// One blocking operation at a time
	opMu sync.Mutex

	stats *Statistics
}

// NewConnection creates a closed connection over transport
func NewConnection(transport Transport, cfg Config) (*Connection, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats := NewStatistics()
	return &Connection{
		id:        uuid.New(),
		cfg:       cfg,
		transport: transport,
		log:       cfg.Logger,
		framer:    NewSynchronizer(cfg.MaxPayloadSize, stats),
		phase:     PhaseClosed,
		validator: NewSequenceValidator(),
		stats:     stats,
	}, nil
}

// ID returns the session identifier used in log lines
func (c *Connection) ID() string {
	return c.id.String()
}

// Role returns the configured role
func (c *Connection) Role() Role {
	return c.cfg.Role
}

// MaxPayloadSize returns the largest payload Send accepts
func (c *Connection) MaxPayloadSize() int {
	return c.cfg.MaxPayloadSize
}

// Phase returns the current connection phase
func (c *Connection) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Statistics returns a snapshot of the connection counters
func (c *Connection) Statistics() StatisticsSnapshot {
	return c.stats.Snapshot()
}

// Open establishes the link. The transmitter sends SET and waits for UA;
// the receiver waits for SET and answers UA. A connection opens at most once.
func (c *Connection) Open(ctx context.Context) error {
	ctx, end, err := c.beginOp(ctx, false)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	defer end()

	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrOpenFailed, ErrInvalidState)
	}
	c.used = true
	c.mu.Unlock()

	c.setPhase(PhaseOpening, nil)
	c.log.Info("Link %s: opening as %s", c.shortID(), c.cfg.Role)

	if c.cfg.Role == RoleTransmitter {
		err = c.openTransmitter(ctx)
	} else {
		err = c.openReceiver(ctx)
	}
	if err != nil {
		c.setPhase(PhaseClosed, err)
		c.log.Warn("Link %s: open failed: %v", c.shortID(), err)
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	c.stats.MarkOpened(time.Now())
	c.setPhase(PhaseOpen, nil)
	c.log.Info("Link %s: open", c.shortID())
	return nil
}

func (c *Connection) openTransmitter(ctx context.Context) error {
	set := NewSETFrame(c.cfg.Role.CommandAddress())
	_, err := c.sendWithRetry(ctx, set, func(f Frame) bool {
		return f.Is(FrameUA, 0) && c.isReply(f)
	})
	return err
}

func (c *Connection) openReceiver(ctx context.Context) error {
	for {
		ev, err := c.nextEvent(ctx, time.Time{})
		if err != nil {
			return err
		}
		if ev.Err == nil && ev.Frame.Is(FrameSET, 0) && c.isPeerCommand(ev.Frame) {
			return c.transmit(ctx, NewUAFrame(c.cfg.Role.ResponseAddress()))
		}
	}
}

// Close tears the link down with DISC, DISC, UA. A pending Send or Receive
// is cancelled first. If the peer never answers the local side is closed
// anyway and ErrCloseFailed is returned. With showStatistics set the
// counters are logged and passed to the StatisticsCallback.
func (c *Connection) Close(ctx context.Context, showStatistics bool) error {
	c.mu.Lock()
	c.closing = true
	if c.cancelOp != nil {
		c.cancelOp()
	}
	c.mu.Unlock()

	ctx, end, _ := c.beginOp(ctx, true)
	defer end()
	defer func() {
		c.mu.Lock()
		c.used = true
		c.closing = false
		c.mu.Unlock()
	}()

	var err error
	if c.Phase() == PhaseOpen {
		c.setPhase(PhaseClosing, nil)
		c.log.Info("Link %s: closing", c.shortID())

		disc := NewDISCFrame(c.cfg.Role.CommandAddress())
		_, werr := c.sendWithRetry(ctx, disc, func(f Frame) bool {
			return f.Is(FrameDISC, 0) && c.isPeerCommand(f)
		})
		if werr == nil {
			werr = c.transmit(ctx, NewUAFrame(c.cfg.Role.ResponseAddress()))
		}
		if werr != nil {
			err = fmt.Errorf("%w: %w", ErrCloseFailed, werr)
			c.log.Warn("Link %s: peer did not complete disconnect: %v", c.shortID(), werr)
		}
		c.setPhase(PhaseClosed, err)
		c.log.Info("Link %s: closed", c.shortID())
	}

	if showStatistics {
		c.reportStatistics()
	}
	return err
}

// beginOp serializes blocking operations and registers a cancel func so
// Close can interrupt the one in progress
func (c *Connection) beginOp(ctx context.Context, isClose bool) (context.Context, func(), error) {
	c.opMu.Lock()

	c.mu.Lock()
	if c.closing && !isClose {
		c.mu.Unlock()
		c.opMu.Unlock()
		return nil, nil, fmt.Errorf("%w: connection is closing", ErrCancelled)
	}
	opCtx, cancel := context.WithCancel(ctx)
	if !isClose {
		c.cancelOp = cancel
	}
	c.mu.Unlock()

	return opCtx, func() {
		c.mu.Lock()
		c.cancelOp = nil
		c.mu.Unlock()
		cancel()
		c.opMu.Unlock()
	}, nil
}

// requireOpen checks that data may flow
func (c *Connection) requireOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.phase == PhaseOpen:
		return nil
	case c.used && c.phase == PhaseClosed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: connection is %s", ErrInvalidState, c.phase)
	}
}

func (c *Connection) setPhase(phase Phase, err error) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()

	if c.cfg.StatusCallback != nil {
		c.cfg.StatusCallback(phase, err)
	}
}

// sendWithRetry transmits frame and waits for a frame accepted by match,
// retransmitting on every timer expiry up to MaxRetransmissions times
func (c *Connection) sendWithRetry(ctx context.Context, frame Frame, match func(Frame) bool) (Frame, error) {
	if err := c.transmit(ctx, frame); err != nil {
		return Frame{}, err
	}

	retries := 0
	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		ev, err := c.nextEvent(ctx, deadline)
		if errors.Is(err, errTimerExpired) {
			c.stats.Timeout()
			if retries >= c.cfg.MaxRetransmissions {
				return Frame{}, ErrNoResponse
			}
			retries++
			c.log.Debug("Link %s: no answer to %s, retransmitting (%d/%d)",
				c.shortID(), frame, retries, c.cfg.MaxRetransmissions)
			if err := c.transmit(ctx, frame); err != nil {
				return Frame{}, err
			}
			c.stats.Retransmission()
			deadline = time.Now().Add(c.cfg.Timeout)
			continue
		}
		if err != nil {
			return Frame{}, err
		}
		if ev.Err == nil && match(ev.Frame) {
			return ev.Frame, nil
		}
	}
}

// transmit encodes and writes one frame
func (c *Connection) transmit(ctx context.Context, frame Frame) error {
	data, err := Encode(frame, c.cfg.MaxPayloadSize)
	if err != nil {
		return err
	}

	n, err := c.transport.Write(ctx, data)
	c.stats.BytesTx(n)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.cancelled(ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrIoFailure, err)
	}

	if frame.Type() != FrameI {
		c.stats.ControlTx()
	}
	if logger.FrameDebugEnabled() {
		c.log.Debug("Link %s TX %s: %s", c.shortID(), frame, logger.Hex(data))
	}
	return nil
}

// nextEvent returns the next frame event, reading from the transport as
// needed. A zero deadline waits until ctx is done.
func (c *Connection) nextEvent(ctx context.Context, deadline time.Time) (Event, error) {
	for {
		for c.rxPos < len(c.rxBuf) {
			b := c.rxBuf[c.rxPos]
			c.rxPos++
			if ev, ok := c.framer.Push(b); ok {
				c.traceRx(ev)
				return ev, nil
			}
		}
		c.rxBuf = c.rxBuf[:0]
		c.rxPos = 0

		if err := ctx.Err(); err != nil {
			return Event{}, c.cancelled(err)
		}

		wait := c.cfg.PollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return Event{}, errTimerExpired
			}
			if remaining < wait {
				wait = remaining
			}
		}

		data, err := c.transport.ReadTimeout(ctx, wait)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, c.cancelled(ctxErr)
			}
			return Event{}, fmt.Errorf("%w: %w", ErrIoFailure, err)
		}
		c.stats.BytesRx(len(data))
		c.rxBuf = append(c.rxBuf, data...)
	}
}

func (c *Connection) traceRx(ev Event) {
	if ev.Frame.Type() != FrameI {
		c.stats.ControlRx()
	}
	if ev.Err != nil {
		c.log.Debug("Link %s RX %s: %v", c.shortID(), ev.Frame, ev.Err)
		return
	}
	if logger.FrameDebugEnabled() {
		c.log.Debug("Link %s RX %s", c.shortID(), ev.Frame)
	}
}

// isReply reports whether f answers a command this side sent
func (c *Connection) isReply(f Frame) bool {
	return f.Address == c.cfg.Role.CommandAddress()
}

// isPeerCommand reports whether f is a command issued by the peer
func (c *Connection) isPeerCommand(f Frame) bool {
	return f.Address == c.cfg.Role.ResponseAddress()
}

func (c *Connection) cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func (c *Connection) shortID() string {
	return c.id.String()[:8]
}

func (c *Connection) reportStatistics() {
	snap := c.stats.Snapshot()
	c.log.Info("Link %s (%s) closed\n%s", c.shortID(), c.cfg.Role, snap)
	if c.cfg.StatisticsCallback != nil {
		c.cfg.StatisticsCallback(c.cfg.Role, snap)
	}
}
