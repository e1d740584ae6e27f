package link

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Send transmits one payload as an I frame and blocks until the receiver
// acknowledges it with RR. The frame is retransmitted on timeout and on
// REJ for its own sequence number. Only the transmitter may send.
func (c *Connection) Send(ctx context.Context, payload []byte) (int, error) {
	if c.cfg.Role != RoleTransmitter {
		return 0, fmt.Errorf("%w: %s cannot send", ErrWrongRole, c.cfg.Role)
	}
	if len(payload) > c.cfg.MaxPayloadSize {
		return 0, fmt.Errorf("%w: payload %d exceeds %d", ErrInvalidSize, len(payload), c.cfg.MaxPayloadSize)
	}

	ctx, end, err := c.beginOp(ctx, false)
	if err != nil {
		return 0, err
	}
	defer end()

	if err := c.requireOpen(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	seq := c.sendSeq
	c.mu.Unlock()

	frame := NewIFrame(c.cfg.Role.CommandAddress(), seq, payload)
	if err := c.transmit(ctx, frame); err != nil {
		return 0, err
	}
	c.stats.FrameSent()

	retries := 0
	deadline := time.Now().Add(c.cfg.Timeout)
	retransmit := func(reason string) error {
		if retries >= c.cfg.MaxRetransmissions {
			return fmt.Errorf("%w: I(%d) unacknowledged after %d retransmissions", ErrTransferFailed, seq, retries)
		}
		retries++
		c.log.Debug("Link %s: retransmitting I(%d) after %s (%d/%d)",
			c.shortID(), seq, reason, retries, c.cfg.MaxRetransmissions)
		if err := c.transmit(ctx, frame); err != nil {
			return err
		}
		c.stats.Retransmission()
		deadline = time.Now().Add(c.cfg.Timeout)
		return nil
	}

	for {
		ev, err := c.nextEvent(ctx, deadline)
		if errors.Is(err, errTimerExpired) {
			c.stats.Timeout()
			if err := retransmit("timeout"); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		if ev.Err != nil {
			continue
		}

		f := ev.Frame
		switch {
		case f.Is(FrameDISC, 0) && c.isPeerCommand(f):
			c.acceptDisconnect(ctx)
			return 0, ErrClosed

		case !c.isReply(f):
			continue

		case f.Is(FrameRR, seq^1):
			c.mu.Lock()
			c.sendSeq = seq ^ 1
			c.mu.Unlock()
			return len(payload), nil

		case f.Is(FrameREJ, seq):
			c.stats.RejectReceived()
			if err := retransmit("REJ"); err != nil {
				return 0, err
			}
		}
	}
}

// Receive blocks until the next new I frame arrives and returns its payload.
// Duplicates are acknowledged again but never delivered; corrupt payloads
// are answered with REJ. A DISC from the peer completes the disconnect and
// returns ErrClosed. Only the receiver may receive.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.cfg.Role != RoleReceiver {
		return nil, fmt.Errorf("%w: %s cannot receive", ErrWrongRole, c.cfg.Role)
	}

	ctx, end, err := c.beginOp(ctx, false)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := c.requireOpen(); err != nil {
		return nil, err
	}

	reply := c.cfg.Role.ResponseAddress()
	for {
		ev, err := c.nextEvent(ctx, time.Time{})
		if err != nil {
			return nil, err
		}

		f := ev.Frame
		if !c.isPeerCommand(f) {
			continue
		}

		switch f.Type() {
		case FrameI:
			expected := c.validator.Expected()
			if ev.Err != nil {
				if err := c.transmit(ctx, NewREJFrame(reply, expected)); err != nil {
					return nil, err
				}
				c.stats.RejectSent()
				continue
			}

			seq := f.Seq()
			if c.validator.IsDuplicate(seq) {
				c.stats.Duplicate()
				c.log.Debug("Link %s: duplicate I(%d) acknowledged again", c.shortID(), seq)
				if err := c.transmit(ctx, NewRRFrame(reply, seq^1)); err != nil {
					return nil, err
				}
				continue
			}

			if err := c.transmit(ctx, NewRRFrame(reply, seq^1)); err != nil {
				return nil, err
			}
			c.validator.Advance()
			c.stats.FrameReceived()
			return f.Payload, nil

		case FrameSET:
			// Our UA was lost and the transmitter is still opening.
			if err := c.transmit(ctx, NewUAFrame(reply)); err != nil {
				return nil, err
			}

		case FrameDISC:
			c.acceptDisconnect(ctx)
			return nil, ErrClosed
		}
	}
}

// acceptDisconnect answers a peer DISC with DISC and waits for the final UA.
// The connection ends Closed whether or not the UA arrives.
func (c *Connection) acceptDisconnect(ctx context.Context) {
	c.setPhase(PhaseClosing, nil)
	c.log.Info("Link %s: peer requested disconnect", c.shortID())

	disc := NewDISCFrame(c.cfg.Role.CommandAddress())
	_, err := c.sendWithRetry(ctx, disc, func(f Frame) bool {
		return f.Is(FrameUA, 0) && c.isReply(f)
	})
	if err != nil {
		c.log.Warn("Link %s: no UA after DISC, closing anyway: %v", c.shortID(), err)
	}

	c.setPhase(PhaseClosed, err)
	c.log.Info("Link %s: closed", c.shortID())
}
