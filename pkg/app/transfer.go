// Package app moves whole files over a link as a START packet, a run of
// data packets and an END packet carrying the checksum.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc16"

	"avaneesh/seriallink-go/pkg/internal/logger"
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum returns the CRC-16/XMODEM of data
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Sender is the transmitting end of a link
type Sender interface {
	Send(ctx context.Context, payload []byte) (int, error)
	MaxPayloadSize() int
}

// Receiver is the receiving end of a link
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// FileInfo describes a transferred file
type FileInfo struct {
	Name    string
	Size    int64
	CRC     uint16
	Packets int // Data packets
}

// SendFile sends size bytes from r as the file name. The link's maximum
// payload bounds each data packet.
func SendFile(ctx context.Context, s Sender, name string, r io.Reader, size int64) (FileInfo, error) {
	info := FileInfo{Name: name, Size: size}

	chunkSize := s.MaxPayloadSize() - DataHeaderSize
	if chunkSize > MaxDataLength {
		chunkSize = MaxDataLength
	}
	if chunkSize < 1 {
		return info, fmt.Errorf("%w: link payload of %d bytes cannot carry data", ErrMalformedPacket, s.MaxPayloadSize())
	}

	start := &ControlPacket{Type: PacketStart, Size: size, Name: name}
	if err := sendControl(ctx, s, start); err != nil {
		return info, fmt.Errorf("failed to send START: %w", err)
	}
	logger.Info("App: sending %s (%d bytes)", name, size)

	crc := crc16.Init(crcTable)
	buf := make([]byte, chunkSize)
	for sent := int64(0); sent < size; {
		n := int64(chunkSize)
		if size-sent < n {
			n = size - sent
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return info, fmt.Errorf("%w: source ended after %d of %d bytes", ErrSizeMismatch, sent, size)
			}
			return info, fmt.Errorf("failed to read source: %w", err)
		}

		packet, err := SerializeData(buf[:n])
		if err != nil {
			return info, err
		}
		if _, err := s.Send(ctx, packet); err != nil {
			return info, fmt.Errorf("failed to send data packet %d: %w", info.Packets, err)
		}

		crc = crc16.Update(crc, buf[:n], crcTable)
		sent += n
		info.Packets++
		logger.Debug("App: sent %d/%d bytes", sent, size)
	}
	info.CRC = crc16.Complete(crc, crcTable)

	end := &ControlPacket{Type: PacketEnd, Size: size, Name: name, CRC: info.CRC, HasCRC: true}
	if err := sendControl(ctx, s, end); err != nil {
		return info, fmt.Errorf("failed to send END: %w", err)
	}
	logger.Info("App: sent %s in %d packets, crc 0x%04X", name, info.Packets, info.CRC)
	return info, nil
}

func sendControl(ctx context.Context, s Sender, p *ControlPacket) error {
	packet, err := p.Serialize()
	if err != nil {
		return err
	}
	if len(packet) > s.MaxPayloadSize() {
		return fmt.Errorf("%w: control packet of %d bytes exceeds link payload %d",
			ErrNameTooLong, len(packet), s.MaxPayloadSize())
	}
	_, err = s.Send(ctx, packet)
	return err
}

// ReceiveFile reads one file from the link into w and checks its size and
// checksum against the END packet. Packets arriving before START are
// dropped.
func ReceiveFile(ctx context.Context, r Receiver, w io.Writer) (FileInfo, error) {
	var info FileInfo

	var start *ControlPacket
	for start == nil {
		payload, err := r.Receive(ctx)
		if err != nil {
			return info, fmt.Errorf("waiting for START: %w", err)
		}
		if len(payload) == 0 || payload[0] != PacketStart {
			logger.Warn("App: dropping %d byte packet before START", len(payload))
			continue
		}
		if start, err = ParseControl(payload); err != nil {
			return info, err
		}
	}
	info.Name, info.Size = start.Name, start.Size
	logger.Info("App: receiving %s (%d bytes)", info.Name, info.Size)

	crc := crc16.Init(crcTable)
	var received int64
	for {
		payload, err := r.Receive(ctx)
		if err != nil {
			return info, fmt.Errorf("after %d of %d bytes: %w", received, info.Size, err)
		}
		if len(payload) == 0 {
			return info, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
		}

		switch payload[0] {
		case PacketData:
			data, err := ParseData(payload)
			if err != nil {
				return info, err
			}
			if received+int64(len(data)) > info.Size {
				return info, fmt.Errorf("%w: more than the announced %d bytes", ErrSizeMismatch, info.Size)
			}
			if _, err := w.Write(data); err != nil {
				return info, fmt.Errorf("failed to write destination: %w", err)
			}
			crc = crc16.Update(crc, data, crcTable)
			received += int64(len(data))
			info.Packets++

		case PacketEnd:
			end, err := ParseControl(payload)
			if err != nil {
				return info, err
			}
			info.CRC = crc16.Complete(crc, crcTable)
			if err := verifyEnd(start, end, received, info.CRC); err != nil {
				return info, err
			}
			logger.Info("App: received %s, %d bytes in %d packets", info.Name, received, info.Packets)
			return info, nil

		default:
			return info, fmt.Errorf("%w: control 0x%02X during transfer", ErrUnexpectedPacket, payload[0])
		}
	}
}

func verifyEnd(start, end *ControlPacket, received int64, crc uint16) error {
	if end.Size != start.Size || end.Name != start.Name {
		return fmt.Errorf("%w: END announces %s (%d bytes), START announced %s (%d bytes)",
			ErrUnexpectedPacket, end.Name, end.Size, start.Name, start.Size)
	}
	if received != start.Size {
		return fmt.Errorf("%w: received %d of %d bytes", ErrSizeMismatch, received, start.Size)
	}
	if end.HasCRC && end.CRC != crc {
		return fmt.Errorf("%w: expected 0x%04X, computed 0x%04X", ErrChecksumMismatch, end.CRC, crc)
	}
	return nil
}
