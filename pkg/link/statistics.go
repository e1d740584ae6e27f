package link

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Statistics tracks link-level counters for one connection
type Statistics struct {
	// I frames
	numFramesSent      atomic.Uint64
	numRetransmissions atomic.Uint64
	numFramesReceived  atomic.Uint64
	numDuplicates      atomic.Uint64

	// Supervisory
	numRejectsSent     atomic.Uint64
	numRejectsReceived atomic.Uint64
	numControlTx       atomic.Uint64
	numControlRx       atomic.Uint64

	// Errors
	numHeaderErrors  atomic.Uint64
	numPayloadErrors atomic.Uint64
	numTimeouts      atomic.Uint64

	// Bytes on the wire
	numBytesTx atomic.Uint64
	numBytesRx atomic.Uint64

	openedAtNano atomic.Int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameSent counts a first transmission of an I frame
func (s *Statistics) FrameSent() { s.numFramesSent.Add(1) }

// Retransmission counts a repeated transmission of any frame
func (s *Statistics) Retransmission() { s.numRetransmissions.Add(1) }

// FrameReceived counts an I frame delivered to the application
func (s *Statistics) FrameReceived() { s.numFramesReceived.Add(1) }

// Duplicate counts an I frame suppressed as a duplicate
func (s *Statistics) Duplicate() { s.numDuplicates.Add(1) }

// RejectSent counts a transmitted REJ
func (s *Statistics) RejectSent() { s.numRejectsSent.Add(1) }

// RejectReceived counts a received REJ for the outstanding frame
func (s *Statistics) RejectReceived() { s.numRejectsReceived.Add(1) }

// ControlTx counts a transmitted non-I frame
func (s *Statistics) ControlTx() { s.numControlTx.Add(1) }

// ControlRx counts a received non-I frame
func (s *Statistics) ControlRx() { s.numControlRx.Add(1) }

// HeaderError counts a candidate frame dropped by the synchronizer
func (s *Statistics) HeaderError() { s.numHeaderErrors.Add(1) }

// PayloadError counts an I frame failing BCC2
func (s *Statistics) PayloadError() { s.numPayloadErrors.Add(1) }

// Timeout counts a retransmission timer expiry
func (s *Statistics) Timeout() { s.numTimeouts.Add(1) }

// BytesTx adds to the transmitted byte count
func (s *Statistics) BytesTx(n int) { s.numBytesTx.Add(uint64(n)) }

// BytesRx adds to the received byte count
func (s *Statistics) BytesRx(n int) { s.numBytesRx.Add(uint64(n)) }

// MarkOpened records when the connection reached Open
func (s *Statistics) MarkOpened(t time.Time) { s.openedAtNano.Store(t.UnixNano()) }

// Snapshot returns a consistent-enough copy of all counters
func (s *Statistics) Snapshot() StatisticsSnapshot {
	snap := StatisticsSnapshot{
		FramesSent:      s.numFramesSent.Load(),
		Retransmissions: s.numRetransmissions.Load(),
		FramesReceived:  s.numFramesReceived.Load(),
		Duplicates:      s.numDuplicates.Load(),
		RejectsSent:     s.numRejectsSent.Load(),
		RejectsReceived: s.numRejectsReceived.Load(),
		ControlSent:     s.numControlTx.Load(),
		ControlReceived: s.numControlRx.Load(),
		HeaderErrors:    s.numHeaderErrors.Load(),
		PayloadErrors:   s.numPayloadErrors.Load(),
		Timeouts:        s.numTimeouts.Load(),
		BytesSent:       s.numBytesTx.Load(),
		BytesReceived:   s.numBytesRx.Load(),
	}
	if nano := s.openedAtNano.Load(); nano != 0 {
		snap.Uptime = time.Since(time.Unix(0, nano))
	}
	return snap
}

// StatisticsSnapshot is a point-in-time copy of Statistics
type StatisticsSnapshot struct {
	FramesSent      uint64 // I frames, first transmission only
	Retransmissions uint64
	FramesReceived  uint64 // I frames delivered
	Duplicates      uint64
	RejectsSent     uint64
	RejectsReceived uint64
	ControlSent     uint64 // SET, UA, DISC, RR, REJ
	ControlReceived uint64
	HeaderErrors    uint64
	PayloadErrors   uint64
	Timeouts        uint64
	BytesSent       uint64
	BytesReceived   uint64
	Uptime          time.Duration
}

// String renders the snapshot as a multi-line report
func (s StatisticsSnapshot) String() string {
	var b strings.Builder
	b.WriteString("Link statistics:\n")
	fmt.Fprintf(&b, "  I frames sent:        %d\n", s.FramesSent)
	fmt.Fprintf(&b, "  retransmissions:      %d\n", s.Retransmissions)
	fmt.Fprintf(&b, "  I frames received:    %d\n", s.FramesReceived)
	fmt.Fprintf(&b, "  duplicates:           %d\n", s.Duplicates)
	fmt.Fprintf(&b, "  REJ sent/received:    %d/%d\n", s.RejectsSent, s.RejectsReceived)
	fmt.Fprintf(&b, "  control sent/recv:    %d/%d\n", s.ControlSent, s.ControlReceived)
	fmt.Fprintf(&b, "  header errors:        %d\n", s.HeaderErrors)
	fmt.Fprintf(&b, "  payload errors:       %d\n", s.PayloadErrors)
	fmt.Fprintf(&b, "  timeouts:             %d\n", s.Timeouts)
	fmt.Fprintf(&b, "  bytes sent/received:  %d/%d\n", s.BytesSent, s.BytesReceived)
	fmt.Fprintf(&b, "  uptime:               %s", s.Uptime.Round(time.Millisecond))
	return b.String()
}
