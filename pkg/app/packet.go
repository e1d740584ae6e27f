package app

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet control field values
const (
	PacketData  byte = 0x01
	PacketStart byte = 0x02
	PacketEnd   byte = 0x03
)

// Control packet parameter types
const (
	ParamFileSize byte = 0x00
	ParamFileName byte = 0x01
	ParamFileCRC  byte = 0x02
)

// DataHeaderSize is the C, L2, L1 prefix of a data packet
const DataHeaderSize = 3

// MaxDataLength is the largest data field L2 and L1 can describe
const MaxDataLength = 0xFFFF

var (
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrUnexpectedPacket = errors.New("unexpected packet")
	ErrSizeMismatch     = errors.New("file size mismatch")
	ErrChecksumMismatch = errors.New("file checksum mismatch")
	ErrNameTooLong      = errors.New("file name too long")
)

// ControlPacket is a START or END packet
type ControlPacket struct {
	Type   byte // PacketStart or PacketEnd
	Size   int64
	Name   string
	CRC    uint16
	HasCRC bool
}

// Serialize converts the packet to wire format. Parameters are written as
// type, length, value with the size in big endian using as few bytes as
// possible.
func (p *ControlPacket) Serialize() ([]byte, error) {
	if p.Type != PacketStart && p.Type != PacketEnd {
		return nil, fmt.Errorf("%w: control 0x%02X", ErrMalformedPacket, p.Type)
	}
	if p.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrMalformedPacket)
	}
	if len(p.Name) > 0xFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(p.Name))
	}

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(p.Size))
	size := sizeBuf[:]
	for len(size) > 1 && size[0] == 0 {
		size = size[1:]
	}

	buf := make([]byte, 0, 1+2+len(size)+2+len(p.Name)+4)
	buf = append(buf, p.Type)
	buf = append(buf, ParamFileSize, byte(len(size)))
	buf = append(buf, size...)
	buf = append(buf, ParamFileName, byte(len(p.Name)))
	buf = append(buf, p.Name...)
	if p.HasCRC {
		buf = append(buf, ParamFileCRC, 2)
		buf = binary.BigEndian.AppendUint16(buf, p.CRC)
	}
	return buf, nil
}

// ParseControl parses a START or END packet. Unknown parameters are
// skipped; a missing size is an error.
func ParseControl(data []byte) (*ControlPacket, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}
	if data[0] != PacketStart && data[0] != PacketEnd {
		return nil, fmt.Errorf("%w: control 0x%02X", ErrUnexpectedPacket, data[0])
	}

	p := &ControlPacket{Type: data[0]}
	haveSize := false

	for offset := 1; offset < len(data); {
		if len(data)-offset < 2 {
			return nil, fmt.Errorf("%w: truncated parameter header", ErrMalformedPacket)
		}
		typ, length := data[offset], int(data[offset+1])
		offset += 2
		if len(data)-offset < length {
			return nil, fmt.Errorf("%w: parameter 0x%02X wants %d bytes, %d left",
				ErrMalformedPacket, typ, length, len(data)-offset)
		}
		value := data[offset : offset+length]
		offset += length

		switch typ {
		case ParamFileSize:
			if length < 1 || length > 8 {
				return nil, fmt.Errorf("%w: size field of %d bytes", ErrMalformedPacket, length)
			}
			var size uint64
			for _, b := range value {
				size = size<<8 | uint64(b)
			}
			if size > 1<<62 {
				return nil, fmt.Errorf("%w: size %d out of range", ErrMalformedPacket, size)
			}
			p.Size = int64(size)
			haveSize = true
		case ParamFileName:
			p.Name = string(value)
		case ParamFileCRC:
			if length != 2 {
				return nil, fmt.Errorf("%w: checksum field of %d bytes", ErrMalformedPacket, length)
			}
			p.CRC = binary.BigEndian.Uint16(value)
			p.HasCRC = true
		}
	}

	if !haveSize {
		return nil, fmt.Errorf("%w: missing file size", ErrMalformedPacket)
	}
	return p, nil
}

// SerializeData builds a data packet around chunk
func SerializeData(chunk []byte) ([]byte, error) {
	if len(chunk) > MaxDataLength {
		return nil, fmt.Errorf("%w: data field of %d bytes", ErrMalformedPacket, len(chunk))
	}
	buf := make([]byte, DataHeaderSize+len(chunk))
	buf[0] = PacketData
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(chunk)))
	copy(buf[DataHeaderSize:], chunk)
	return buf, nil
}

// ParseData returns the data field of a data packet. The result aliases
// data.
func ParseData(data []byte) ([]byte, error) {
	if len(data) < DataHeaderSize {
		return nil, fmt.Errorf("%w: data packet of %d bytes", ErrMalformedPacket, len(data))
	}
	if data[0] != PacketData {
		return nil, fmt.Errorf("%w: control 0x%02X", ErrUnexpectedPacket, data[0])
	}
	length := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data)-DataHeaderSize != length {
		return nil, fmt.Errorf("%w: length field %d, carried %d",
			ErrMalformedPacket, length, len(data)-DataHeaderSize)
	}
	return data[DataHeaderSize:], nil
}
