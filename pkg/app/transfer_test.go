package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"avaneesh/seriallink-go/pkg/channel"
	"avaneesh/seriallink-go/pkg/internal/logger"
	"avaneesh/seriallink-go/pkg/link"
)

// queueLink is an in-order, lossless Sender and Receiver
type queueLink struct {
	packets chan []byte
	max     int
}

func newQueueLink(max int) *queueLink {
	return &queueLink{packets: make(chan []byte, 1024), max: max}
}

func (q *queueLink) Send(ctx context.Context, payload []byte) (int, error) {
	if len(payload) > q.max {
		return 0, link.ErrInvalidSize
	}
	q.packets <- append([]byte(nil), payload...)
	return len(payload), nil
}

func (q *queueLink) MaxPayloadSize() int { return q.max }

func (q *queueLink) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p := <-q.packets:
		return p, nil
	default:
		return nil, link.ErrClosed
	}
}

func randomFile(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestSendReceiveFile(t *testing.T) {
	sizes := []int{0, 1, 96, 97, 1000, 10968}

	for _, size := range sizes {
		q := newQueueLink(100)
		file := randomFile(size)
		ctx := context.Background()

		sent, err := SendFile(ctx, q, "pinguim.gif", bytes.NewReader(file), int64(size))
		if err != nil {
			t.Fatalf("SendFile(%d) failed: %v", size, err)
		}
		wantPackets := (size + 96) / 97
		if sent.Packets != wantPackets {
			t.Errorf("Size %d: expected %d data packets, got %d", size, wantPackets, sent.Packets)
		}

		var out bytes.Buffer
		got, err := ReceiveFile(ctx, q, &out)
		if err != nil {
			t.Fatalf("ReceiveFile(%d) failed: %v", size, err)
		}
		if !bytes.Equal(out.Bytes(), file) {
			t.Errorf("Size %d: content mismatch", size)
		}
		if got.Name != "pinguim.gif" || got.Size != int64(size) || got.CRC != Checksum(file) {
			t.Errorf("Size %d: unexpected info %+v", size, got)
		}
		if got.CRC != sent.CRC {
			t.Errorf("Size %d: sender crc 0x%04X, receiver crc 0x%04X", size, sent.CRC, got.CRC)
		}
	}
}

func TestSendFile_ShortSource(t *testing.T) {
	q := newQueueLink(100)
	_, err := SendFile(context.Background(), q, "f", bytes.NewReader([]byte("abc")), 10)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
}

func TestSendFile_LinkTooSmall(t *testing.T) {
	q := newQueueLink(DataHeaderSize)
	if _, err := SendFile(context.Background(), q, "f", bytes.NewReader(nil), 0); err == nil {
		t.Error("Expected error when no data fits in a packet")
	}
}

func TestReceiveFile_Errors(t *testing.T) {
	start, _ := (&ControlPacket{Type: PacketStart, Size: 3, Name: "f"}).Serialize()
	data, _ := SerializeData([]byte("abc"))
	short, _ := SerializeData([]byte("ab"))
	end, _ := (&ControlPacket{Type: PacketEnd, Size: 3, Name: "f", CRC: Checksum([]byte("abc")), HasCRC: true}).Serialize()
	badCRC, _ := (&ControlPacket{Type: PacketEnd, Size: 3, Name: "f", CRC: 0x1234, HasCRC: true}).Serialize()
	renamed, _ := (&ControlPacket{Type: PacketEnd, Size: 3, Name: "g"}).Serialize()

	tests := []struct {
		name    string
		packets [][]byte
		want    error
	}{
		{"checksum", [][]byte{start, data, badCRC}, ErrChecksumMismatch},
		{"short", [][]byte{start, short, end}, ErrSizeMismatch},
		{"overrun", [][]byte{start, data, data}, ErrSizeMismatch},
		{"end mismatch", [][]byte{start, data, renamed}, ErrUnexpectedPacket},
		{"second start", [][]byte{start, start}, ErrUnexpectedPacket},
		{"link closed", [][]byte{start, data}, link.ErrClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueueLink(100)
			for _, p := range tt.packets {
				q.packets <- p
			}
			if _, err := ReceiveFile(context.Background(), q, io.Discard); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReceiveFile_DropsPacketsBeforeStart(t *testing.T) {
	q := newQueueLink(100)
	stray, _ := SerializeData([]byte("stray"))
	q.packets <- stray

	if _, err := SendFile(context.Background(), q, "f", bytes.NewReader([]byte("xyz")), 3); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	var out bytes.Buffer
	if _, err := ReceiveFile(context.Background(), q, &out); err != nil {
		t.Fatalf("ReceiveFile failed: %v", err)
	}
	if out.String() != "xyz" {
		t.Errorf("Expected xyz, got %q", out.String())
	}
}

func TestFileTransferOverLink(t *testing.T) {
	a, b := channel.NewPipe()
	a.SetChunkSize(7)

	newConn := func(tr link.Transport, role link.Role) *link.Connection {
		cfg := link.DefaultConfig()
		cfg.Role = role
		cfg.Timeout = 100 * time.Millisecond
		cfg.PollInterval = 5 * time.Millisecond
		cfg.MaxPayloadSize = 64
		cfg.Logger = logger.NewNoOpLogger()
		c, err := link.NewConnection(tr, cfg)
		if err != nil {
			t.Fatalf("NewConnection failed: %v", err)
		}
		return c
	}
	tx := newConn(a, link.RoleTransmitter)
	rx := newConn(b, link.RoleReceiver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opened := make(chan error, 1)
	go func() { opened <- rx.Open(ctx) }()
	if err := tx.Open(ctx); err != nil {
		t.Fatalf("Transmitter open failed: %v", err)
	}
	if err := <-opened; err != nil {
		t.Fatalf("Receiver open failed: %v", err)
	}

	file := randomFile(1500)
	type result struct {
		info FileInfo
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var out bytes.Buffer
		info, err := ReceiveFile(ctx, rx, &out)
		done <- result{info, out.Bytes(), err}
	}()

	if _, err := SendFile(ctx, tx, "random.bin", bytes.NewReader(file), int64(len(file))); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("ReceiveFile failed: %v", r.err)
	}
	if !bytes.Equal(r.data, file) {
		t.Error("File content mismatch")
	}

	go rx.Receive(ctx)
	if err := tx.Close(ctx, false); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
