package link

import "errors"

// Block check characters and byte stuffing

var (
	errTrailingEscape = errors.New("trailing escape byte")
	errEscapedFlag    = errors.New("escape followed by flag")
	errInnerFlag      = errors.New("unescaped flag inside frame")
)

// BCC1 is the header check: address XOR control
func BCC1(addr, ctrl byte) byte {
	return addr ^ ctrl
}

// BCC2 is the payload check: XOR of every payload byte
func BCC2(payload []byte) byte {
	var bcc byte
	for _, b := range payload {
		bcc ^= b
	}
	return bcc
}

// NeedsEscaping reports whether b must be stuffed between flags
func NeedsEscaping(b byte) bool {
	return b == Flag || b == Escape
}

// Stuff appends the stuffed form of src to dst and returns the result
func Stuff(dst, src []byte) []byte {
	for _, b := range src {
		if NeedsEscaping(b) {
			dst = append(dst, Escape, b^EscapeXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// Unstuff reverses Stuff. A lone trailing escape, an escape followed by a
// flag and an unescaped flag are rejected.
func Unstuff(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	esc := false
	for _, b := range src {
		if esc {
			if b == Flag {
				return nil, errEscapedFlag
			}
			out = append(out, b^EscapeXor)
			esc = false
			continue
		}
		switch b {
		case Escape:
			esc = true
			continue
		case Flag:
			return nil, errInnerFlag
		}
		out = append(out, b)
	}
	if esc {
		return nil, errTrailingEscape
	}
	return out, nil
}
