package link

import "errors"

// syncState is the position of the receiver inside a candidate frame
type syncState int

const (
	syncIdle        syncState = iota // Discarding bytes until a flag
	syncFlagSeen                     // Opening flag received
	syncAddressSeen                  // Address received
	syncControlSeen                  // Control received
	syncHeaderOk                     // BCC1 matched
	syncData                         // Accumulating stuffed I frame body
)

// String returns string representation of syncState
func (s syncState) String() string {
	switch s {
	case syncIdle:
		return "Idle"
	case syncFlagSeen:
		return "FlagSeen"
	case syncAddressSeen:
		return "AddressSeen"
	case syncControlSeen:
		return "ControlSeen"
	case syncHeaderOk:
		return "HeaderOk"
	case syncData:
		return "Data"
	default:
		return "Unknown"
	}
}

// syncHeader is the header part of the machine: the state plus the address
// and control bytes seen so far.
type syncHeader struct {
	state syncState
	addr  byte
	ctrl  byte
}

// next is the pure transition function for the header states. It never
// handles HeaderOk or Data; those need the frame body buffer.
func (h syncHeader) next(b byte) syncHeader {
	switch h.state {
	case syncIdle:
		if b == Flag {
			return syncHeader{state: syncFlagSeen}
		}
		return syncHeader{state: syncIdle}

	case syncFlagSeen:
		if b == AddrCommandTx || b == AddrCommandRx {
			return syncHeader{state: syncAddressSeen, addr: b}
		}
		if b == Flag {
			return syncHeader{state: syncFlagSeen}
		}
		return syncHeader{state: syncIdle}

	case syncAddressSeen:
		if _, _, ok := ParseControl(b); ok {
			return syncHeader{state: syncControlSeen, addr: h.addr, ctrl: b}
		}
		if b == Flag {
			return syncHeader{state: syncFlagSeen}
		}
		return syncHeader{state: syncIdle}

	case syncControlSeen:
		if b == BCC1(h.addr, h.ctrl) {
			return syncHeader{state: syncHeaderOk, addr: h.addr, ctrl: h.ctrl}
		}
		if b == Flag {
			return syncHeader{state: syncFlagSeen}
		}
		return syncHeader{state: syncIdle}
	}
	return syncHeader{state: syncIdle}
}

// Event is a frame produced by the Synchronizer. Err is nil for a valid frame
// and wraps ErrPayloadCorrupt for an I frame whose header was valid but whose
// payload failed BCC2; Frame then carries the header only.
type Event struct {
	Frame Frame
	Err   error
}

// Synchronizer assembles frames from a byte stream one byte at a time. It
// keeps no assumption about read granularity and can be fed across any
// number of calls.
type Synchronizer struct {
	hdr     syncHeader
	data    []byte // Stuffed bytes following BCC1
	maxData int
	stats   *Statistics
}

// NewSynchronizer creates a synchronizer for I frames carrying at most
// maxPayload bytes. stats may be nil.
func NewSynchronizer(maxPayload int, stats *Statistics) *Synchronizer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	maxData := 2 * (maxPayload + 1)
	return &Synchronizer{
		hdr:     syncHeader{state: syncIdle},
		data:    make([]byte, 0, maxData),
		maxData: maxData,
		stats:   stats,
	}
}

// Reset drops any partial frame
func (s *Synchronizer) Reset() {
	s.hdr = syncHeader{state: syncIdle}
	s.data = s.data[:0]
}

// Push consumes one byte. ok is true when the byte completed a frame.
func (s *Synchronizer) Push(b byte) (ev Event, ok bool) {
	switch s.hdr.state {
	case syncHeaderOk:
		return s.pushHeaderOk(b)
	case syncData:
		return s.pushData(b)
	}

	prev := s.hdr.state
	s.hdr = s.hdr.next(b)
	if prev == syncControlSeen && s.hdr.state == syncIdle {
		s.headerError()
	}
	return Event{}, false
}

// Feed pushes a chunk and returns every event it produced
func (s *Synchronizer) Feed(chunk []byte) []Event {
	var events []Event
	for _, b := range chunk {
		if ev, ok := s.Push(b); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (s *Synchronizer) pushHeaderOk(b byte) (Event, bool) {
	t, _, _ := ParseControl(s.hdr.ctrl)

	if t != FrameI {
		if b == Flag {
			frame := Frame{Address: s.hdr.addr, Control: s.hdr.ctrl}
			s.hdr = syncHeader{state: syncFlagSeen}
			return Event{Frame: frame}, true
		}
		s.headerError()
		s.hdr = syncHeader{state: syncIdle}
		return Event{}, false
	}

	s.hdr.state = syncData
	s.data = s.data[:0]
	return s.pushData(b)
}

func (s *Synchronizer) pushData(b byte) (Event, bool) {
	if b != Flag {
		if len(s.data) >= s.maxData {
			// Longer than any legal frame: abandon it.
			s.headerError()
			s.Reset()
			return Event{}, false
		}
		s.data = append(s.data, b)
		return Event{}, false
	}

	raw := make([]byte, 0, HeaderSize+len(s.data)+1)
	raw = append(raw, Flag, s.hdr.addr, s.hdr.ctrl, BCC1(s.hdr.addr, s.hdr.ctrl))
	raw = append(raw, s.data...)
	raw = append(raw, Flag)

	s.hdr = syncHeader{state: syncFlagSeen}
	s.data = s.data[:0]

	frame, err := Decode(raw)
	switch {
	case err == nil:
		return Event{Frame: frame}, true
	case errors.Is(err, ErrPayloadCorrupt):
		if s.stats != nil {
			s.stats.PayloadError()
		}
		return Event{Frame: frame, Err: err}, true
	default:
		s.headerError()
		return Event{}, false
	}
}

func (s *Synchronizer) headerError() {
	if s.stats != nil {
		s.stats.HeaderError()
	}
}
