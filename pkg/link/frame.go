package link

import (
	"bytes"
	"fmt"
)

// FrameType is the kind of frame named by the control byte
type FrameType int

const (
	FrameSET FrameType = iota
	FrameUA
	FrameDISC
	FrameRR
	FrameREJ
	FrameI
)

// String returns string representation of FrameType
func (t FrameType) String() string {
	switch t {
	case FrameSET:
		return "SET"
	case FrameUA:
		return "UA"
	case FrameDISC:
		return "DISC"
	case FrameRR:
		return "RR"
	case FrameREJ:
		return "REJ"
	case FrameI:
		return "I"
	default:
		return "Unknown"
	}
}

// ParseControl identifies a control byte. ok is false for bytes that are not
// part of the protocol.
func ParseControl(c byte) (t FrameType, seq uint8, ok bool) {
	switch c {
	case CtrlSET:
		return FrameSET, 0, true
	case CtrlUA:
		return FrameUA, 0, true
	case CtrlDISC:
		return FrameDISC, 0, true
	case CtrlRR0, CtrlRR1:
		return FrameRR, c >> 7, true
	case CtrlREJ0, CtrlREJ1:
		return FrameREJ, c >> 7, true
	case CtrlI0, CtrlI1:
		return FrameI, (c >> 6) & 0x01, true
	}
	return 0, 0, false
}

// ControlRR builds the RR control byte for sequence n
func ControlRR(n uint8) byte {
	return CtrlRR0 | (n&0x01)<<7
}

// ControlREJ builds the REJ control byte for sequence n
func ControlREJ(n uint8) byte {
	return CtrlREJ0 | (n&0x01)<<7
}

// ControlI builds the I control byte for sequence n
func ControlI(n uint8) byte {
	return (n & 0x01) << 6
}

// Frame represents a logical link layer frame
type Frame struct {
	Address byte
	Control byte
	Payload []byte // Only carried by I frames
}

// NewSETFrame creates a SET frame
func NewSETFrame(addr byte) Frame {
	return Frame{Address: addr, Control: CtrlSET}
}

// NewUAFrame creates a UA frame
func NewUAFrame(addr byte) Frame {
	return Frame{Address: addr, Control: CtrlUA}
}

// NewDISCFrame creates a DISC frame
func NewDISCFrame(addr byte) Frame {
	return Frame{Address: addr, Control: CtrlDISC}
}

// NewRRFrame creates an RR frame expecting sequence n
func NewRRFrame(addr byte, n uint8) Frame {
	return Frame{Address: addr, Control: ControlRR(n)}
}

// NewREJFrame creates a REJ frame requesting sequence n
func NewREJFrame(addr byte, n uint8) Frame {
	return Frame{Address: addr, Control: ControlREJ(n)}
}

// NewIFrame creates an information frame with sequence n
func NewIFrame(addr byte, n uint8, payload []byte) Frame {
	return Frame{Address: addr, Control: ControlI(n), Payload: payload}
}

// Type returns the frame type, or -1 for an unknown control byte
func (f Frame) Type() FrameType {
	t, _, ok := ParseControl(f.Control)
	if !ok {
		return -1
	}
	return t
}

// Seq returns the sequence bit carried by RR, REJ and I frames
func (f Frame) Seq() uint8 {
	_, seq, _ := ParseControl(f.Control)
	return seq
}

// Is reports whether the frame has type t and, for numbered frames, sequence n
func (f Frame) Is(t FrameType, n uint8) bool {
	ft, seq, ok := ParseControl(f.Control)
	if !ok || ft != t {
		return false
	}
	switch t {
	case FrameRR, FrameREJ, FrameI:
		return seq == n
	}
	return true
}

// Encode serializes the frame to wire format with stuffing and checksums.
// maxPayload bounds the payload of I frames; zero means DefaultMaxPayload.
func Encode(f Frame, maxPayload int) ([]byte, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	t, _, ok := ParseControl(f.Control)
	if !ok {
		return nil, fmt.Errorf("encode: unknown control 0x%02X", f.Control)
	}
	if t != FrameI && len(f.Payload) > 0 {
		return nil, fmt.Errorf("encode: %s frame cannot carry payload", t)
	}
	if len(f.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidSize, len(f.Payload), maxPayload)
	}

	body := make([]byte, 0, 3+len(f.Payload)+1)
	body = append(body, f.Address, f.Control, BCC1(f.Address, f.Control))
	if t == FrameI {
		body = append(body, f.Payload...)
		body = append(body, BCC2(f.Payload))
	}

	out := make([]byte, 0, len(body)*2+2)
	out = append(out, Flag)
	out = Stuff(out, body)
	out = append(out, Flag)
	return out, nil
}

// Decode parses one flag-delimited frame. Destuffing happens first; the
// header checksum is checked before the payload checksum. On
// ErrPayloadCorrupt the returned frame carries the header (without payload)
// so the caller can reject the right sequence number.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < SupervisoryFrameSize || raw[0] != Flag || raw[len(raw)-1] != Flag {
		return Frame{}, fmt.Errorf("%w: missing flags or too short", ErrHeaderCorrupt)
	}

	body, err := Unstuff(raw[1 : len(raw)-1])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrHeaderCorrupt, err)
	}
	if len(body) < 3 {
		return Frame{}, fmt.Errorf("%w: header too short", ErrHeaderCorrupt)
	}

	addr, ctrl, bcc1 := body[0], body[1], body[2]
	if addr != AddrCommandTx && addr != AddrCommandRx {
		return Frame{}, fmt.Errorf("%w: unknown address 0x%02X", ErrHeaderCorrupt, addr)
	}
	if BCC1(addr, ctrl) != bcc1 {
		return Frame{}, fmt.Errorf("%w: BCC1 mismatch", ErrHeaderCorrupt)
	}
	t, _, ok := ParseControl(ctrl)
	if !ok {
		return Frame{}, fmt.Errorf("%w: unknown control 0x%02X", ErrHeaderCorrupt, ctrl)
	}

	frame := Frame{Address: addr, Control: ctrl}
	rest := body[3:]

	if t != FrameI {
		if len(rest) != 0 {
			return Frame{}, fmt.Errorf("%w: %d trailing bytes after %s header", ErrHeaderCorrupt, len(rest), t)
		}
		return frame, nil
	}

	if len(rest) < 1 {
		return frame, fmt.Errorf("%w: missing BCC2", ErrPayloadCorrupt)
	}
	payload, bcc2 := rest[:len(rest)-1], rest[len(rest)-1]
	if BCC2(payload) != bcc2 {
		return frame, fmt.Errorf("%w: BCC2 mismatch", ErrPayloadCorrupt)
	}

	frame.Payload = make([]byte, len(payload))
	copy(frame.Payload, payload)
	return frame, nil
}

// String returns a string representation of the frame
func (f Frame) String() string {
	var buf bytes.Buffer
	t, seq, ok := ParseControl(f.Control)
	if !ok {
		buf.WriteString(fmt.Sprintf("Frame{A=0x%02X, C=0x%02X?}", f.Address, f.Control))
		return buf.String()
	}
	buf.WriteString(fmt.Sprintf("Frame{A=0x%02X, %s", f.Address, t))
	switch t {
	case FrameRR, FrameREJ, FrameI:
		buf.WriteString(fmt.Sprintf("(%d)", seq))
	}
	if t == FrameI {
		buf.WriteString(fmt.Sprintf(", Len=%d", len(f.Payload)))
	}
	buf.WriteString("}")
	return buf.String()
}

// Clone creates a deep copy of the frame
func (f Frame) Clone() Frame {
	clone := Frame{Address: f.Address, Control: f.Control}
	if f.Payload != nil {
		clone.Payload = make([]byte, len(f.Payload))
		copy(clone.Payload, f.Payload)
	}
	return clone
}
