package channel

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestTCPChannel_RequiresAddress(t *testing.T) {
	if _, err := NewTCPChannel(TCPChannelConfig{}); err == nil {
		t.Error("Expected error for empty address")
	}
}

func TestTCPChannel_Loopback(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Close()

	client, err := NewTCPChannel(TCPChannelConfig{Address: server.LocalAddr().String()})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	// Wait for the accept loop to pick up the connection
	deadline := time.Now().Add(3 * time.Second)
	for !server.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !server.IsConnected() {
		t.Fatal("Server never accepted the client")
	}

	frame := []byte{0x7E, 0x03, 0x03, 0x00, 0x7E}
	if _, err := client.Write(ctx, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got []byte
	for len(got) < len(frame) && time.Now().Before(deadline) {
		chunk, err := server.ReadTimeout(ctx, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("ReadTimeout failed: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("Expected % X, got % X", frame, got)
	}

	if stats := client.Statistics(); stats.BytesSent != uint64(len(frame)) || stats.Connects != 1 {
		t.Errorf("Unexpected client stats: %+v", stats)
	}
}

func TestTCPChannel_SilentWithoutPeer(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Close()

	ctx := context.Background()

	got, err := server.ReadTimeout(ctx, 20*time.Millisecond)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected silent read without peer, got % X err=%v", got, err)
	}

	n, err := server.Write(ctx, []byte{1, 2, 3})
	if err != nil || n != 3 {
		t.Errorf("Expected write without peer to be dropped, got n=%d err=%v", n, err)
	}
	if stats := server.Statistics(); stats.BytesDropped != 3 {
		t.Errorf("Expected 3 dropped bytes, got %d", stats.BytesDropped)
	}
}
