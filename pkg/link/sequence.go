package link

// SequenceValidator tracks the next expected I frame sequence bit on the
// receiving side and detects duplicates. It is owned by the connection and
// only touched while the connection's operation lock is held.
type SequenceValidator struct {
	expected uint8
}

// NewSequenceValidator creates a validator expecting sequence 0
func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{}
}

// Expected returns the sequence bit of the next new frame
func (v *SequenceValidator) Expected() uint8 {
	return v.expected
}

// IsDuplicate reports whether seq repeats the frame acknowledged last
func (v *SequenceValidator) IsDuplicate(seq uint8) bool {
	return seq&0x01 != v.expected
}

// Advance flips the expected bit after a frame has been accepted
func (v *SequenceValidator) Advance() {
	v.expected ^= 0x01
}

// Reset resets the validator to expect sequence 0
func (v *SequenceValidator) Reset() {
	v.expected = 0
}
