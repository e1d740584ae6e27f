package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"avaneesh/seriallink-go/pkg/link"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()
}

func TestRecordStatistics(t *testing.T) {
	before := testutil.ToFloat64(linkFrames.WithLabelValues("Transmitter", "retransmitted"))
	beforeBytes := testutil.ToFloat64(linkBytes.WithLabelValues("Transmitter", "tx"))

	RecordStatistics(link.RoleTransmitter, link.StatisticsSnapshot{
		FramesSent:      10,
		Retransmissions: 2,
		BytesSent:       512,
		Uptime:          2 * time.Second,
	})

	if got := testutil.ToFloat64(linkFrames.WithLabelValues("Transmitter", "retransmitted")) - before; got != 2 {
		t.Errorf("Expected 2 retransmissions recorded, got %v", got)
	}
	if got := testutil.ToFloat64(linkBytes.WithLabelValues("Transmitter", "tx")) - beforeBytes; got != 512 {
		t.Errorf("Expected 512 bytes recorded, got %v", got)
	}
}

func TestRecordSessionsAndTransfers(t *testing.T) {
	openBefore := testutil.ToFloat64(linkSessions.WithLabelValues("Receiver", "open", "false"))
	bytesBefore := testutil.ToFloat64(fileBytes.WithLabelValues("Receiver"))

	RecordOpen(link.RoleReceiver, false)
	RecordClose(link.RoleReceiver, true)
	RecordFileTransfer(link.RoleReceiver, 100, 10*time.Millisecond, true)
	RecordFileTransfer(link.RoleReceiver, 50, 10*time.Millisecond, false)

	if got := testutil.ToFloat64(linkSessions.WithLabelValues("Receiver", "open", "false")) - openBefore; got != 1 {
		t.Errorf("Expected 1 failed open, got %v", got)
	}
	if got := testutil.ToFloat64(fileBytes.WithLabelValues("Receiver")) - bytesBefore; got != 100 {
		t.Errorf("Failed transfers must not count bytes, got %v", got)
	}
}
