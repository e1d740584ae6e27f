package link

import "errors"

// Serial link layer constants

// Framing bytes
const (
	Flag      byte = 0x7E // Frame delimiter
	Escape    byte = 0x7D // Stuffing escape
	EscapeXor byte = 0x20 // XOR applied to an escaped byte
)

// Address field values
const (
	AddrCommandTx byte = 0x03 // Commands sent by the transmitter, responses sent by the receiver
	AddrCommandRx byte = 0x01 // Commands sent by the receiver, responses sent by the transmitter
)

// Control field values
const (
	CtrlSET  byte = 0x03 // Connection request
	CtrlUA   byte = 0x07 // Unnumbered acknowledgment
	CtrlDISC byte = 0x0B // Disconnect request
	CtrlRR0  byte = 0x05 // Receiver ready, expects 0
	CtrlRR1  byte = 0x85 // Receiver ready, expects 1
	CtrlREJ0 byte = 0x01 // Reject, resend 0
	CtrlREJ1 byte = 0x81 // Reject, resend 1
	CtrlI0   byte = 0x00 // Information frame 0
	CtrlI1   byte = 0x40 // Information frame 1

	CtrlSupervisorySeqBit byte = 0x80 // Sequence bit of RR/REJ
	CtrlInformationSeqBit byte = 0x40 // Sequence bit of I
)

// Frame sizes
const (
	HeaderSize           = 4    // F A C BCC1
	SupervisoryFrameSize = 5    // F A C BCC1 F
	DefaultMaxPayload    = 1000 // Maximum application payload per I frame
)

// MaxFrameSize returns the worst-case encoded size of an I frame carrying
// maxPayload bytes: every payload byte and BCC2 stuffed.
func MaxFrameSize(maxPayload int) int {
	return SupervisoryFrameSize + 2*(maxPayload+1)
}

// Role identifies the side of the link
type Role int

const (
	RoleTransmitter Role = iota
	RoleReceiver
)

// String returns string representation of Role
func (r Role) String() string {
	switch r {
	case RoleTransmitter:
		return "Transmitter"
	case RoleReceiver:
		return "Receiver"
	default:
		return "Unknown"
	}
}

// CommandAddress is the address this role puts on commands (SET, DISC, I).
func (r Role) CommandAddress() byte {
	if r == RoleReceiver {
		return AddrCommandRx
	}
	return AddrCommandTx
}

// ResponseAddress is the address this role puts on responses (UA, RR, REJ).
func (r Role) ResponseAddress() byte {
	if r == RoleReceiver {
		return AddrCommandTx
	}
	return AddrCommandRx
}

// Phase is the connection lifecycle state
type Phase int

const (
	PhaseClosed  Phase = iota // No connection
	PhaseOpening              // Handshake in progress
	PhaseOpen                 // Transferring
	PhaseClosing              // Disconnect handshake in progress
)

// String returns string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "Closed"
	case PhaseOpening:
		return "Opening"
	case PhaseOpen:
		return "Open"
	case PhaseClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrIoFailure      = errors.New("transport i/o failure")
	ErrHeaderCorrupt  = errors.New("header corrupt")
	ErrPayloadCorrupt = errors.New("payload corrupt")
	ErrInvalidSize    = errors.New("invalid payload size")
	ErrNoResponse     = errors.New("no response from peer")
	ErrTransferFailed = errors.New("transfer failed")
	ErrOpenFailed     = errors.New("open failed")
	ErrCloseFailed    = errors.New("close failed")
	ErrCancelled      = errors.New("operation cancelled")
	ErrClosed         = errors.New("connection closed")
	ErrInvalidState   = errors.New("invalid connection state")
	ErrWrongRole      = errors.New("operation not valid for role")
	ErrInvalidConfig  = errors.New("invalid link configuration")
)
