package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"avaneesh/seriallink-go/pkg/channel"
	"avaneesh/seriallink-go/pkg/internal/logger"
)

func testConfig(role Role, timeout time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.Timeout = timeout
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Logger = logger.NewNoOpLogger()
	return cfg
}

type linkPair struct {
	tx, rx       *Connection
	txEnd, rxEnd *channel.Pipe
}

func newPair(t *testing.T, txCfg, rxCfg Config) *linkPair {
	t.Helper()
	a, b := channel.NewPipe()

	tx, err := NewConnection(a, txCfg)
	if err != nil {
		t.Fatalf("NewConnection(tx) failed: %v", err)
	}
	rx, err := NewConnection(b, rxCfg)
	if err != nil {
		t.Fatalf("NewConnection(rx) failed: %v", err)
	}
	return &linkPair{tx: tx, rx: rx, txEnd: a, rxEnd: b}
}

func (p *linkPair) open(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- p.rx.Open(ctx) }()

	if err := p.tx.Open(ctx); err != nil {
		t.Fatalf("Transmitter open failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Receiver open failed: %v", err)
	}
}

type received struct {
	payloads [][]byte
	err      error
}

// receiveUntilError drains rx until Receive fails
func receiveUntilError(ctx context.Context, rx *Connection) <-chan received {
	out := make(chan received, 1)
	go func() {
		var r received
		for {
			payload, err := rx.Receive(ctx)
			if err != nil {
				r.err = err
				out <- r
				return
			}
			r.payloads = append(r.payloads, payload)
		}
	}()
	return out
}

func waitReceived(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Receiver did not finish")
		return received{}
	}
}

func controlOf(data []byte) byte {
	if len(data) < 3 {
		return 0xFF
	}
	return data[2]
}

func isIFrame(data []byte) bool {
	c := controlOf(data)
	return c == CtrlI0 || c == CtrlI1
}

func TestConnection_New(t *testing.T) {
	a, _ := channel.NewPipe()

	if _, err := NewConnection(nil, DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for nil transport, got %v", err)
	}

	bad := DefaultConfig()
	bad.Timeout = 0
	if _, err := NewConnection(a, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero timeout, got %v", err)
	}

	bad = DefaultConfig()
	bad.MaxRetransmissions = 0
	if _, err := NewConnection(a, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero retransmissions, got %v", err)
	}

	conn, err := NewConnection(a, testConfig(RoleReceiver, time.Second))
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	if conn.Phase() != PhaseClosed {
		t.Errorf("Expected phase Closed, got %s", conn.Phase())
	}
	if conn.Role() != RoleReceiver {
		t.Errorf("Expected role Receiver, got %s", conn.Role())
	}
	if len(conn.ID()) != 36 {
		t.Errorf("Expected UUID session id, got %q", conn.ID())
	}
}

func TestConnection_OpenTransferClose(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	var rxFinal StatisticsSnapshot

	txCfg := testConfig(RoleTransmitter, time.Second)
	txCfg.StatusCallback = func(phase Phase, err error) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, phase)
	}
	rxCfg := testConfig(RoleReceiver, time.Second)
	rxCfg.StatisticsCallback = func(role Role, stats StatisticsSnapshot) {
		if role == RoleReceiver {
			rxFinal = stats
		}
	}

	p := newPair(t, txCfg, rxCfg)
	p.open(t)

	if p.tx.Phase() != PhaseOpen || p.rx.Phase() != PhaseOpen {
		t.Fatalf("Expected both sides open, got %s/%s", p.tx.Phase(), p.rx.Phase())
	}

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	payloads := [][]byte{
		[]byte("first"),
		{0x7E, 0x7D, 0x7E, 0x7D},
		bytes.Repeat([]byte{0xAB}, DefaultMaxPayload),
	}
	for _, payload := range payloads {
		n, err := p.tx.Send(ctx, payload)
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if n != len(payload) {
			t.Errorf("Expected %d bytes sent, got %d", len(payload), n)
		}
	}

	if err := p.tx.Close(ctx, true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := waitReceived(t, results)
	if !errors.Is(r.err, ErrClosed) {
		t.Errorf("Expected receiver to end with ErrClosed, got %v", r.err)
	}
	if len(r.payloads) != len(payloads) {
		t.Fatalf("Expected %d payloads, got %d", len(payloads), len(r.payloads))
	}
	for i := range payloads {
		if !bytes.Equal(r.payloads[i], payloads[i]) {
			t.Errorf("Payload %d mismatch", i)
		}
	}

	if err := p.rx.Close(ctx, true); err != nil {
		t.Errorf("Receiver close after peer disconnect should succeed, got %v", err)
	}
	if p.tx.Phase() != PhaseClosed || p.rx.Phase() != PhaseClosed {
		t.Errorf("Expected both sides closed, got %s/%s", p.tx.Phase(), p.rx.Phase())
	}

	txStats := p.tx.Statistics()
	if txStats.FramesSent != 3 {
		t.Errorf("Expected 3 frames sent, got %d", txStats.FramesSent)
	}
	if txStats.Retransmissions != 0 {
		t.Errorf("Expected no retransmissions, got %d", txStats.Retransmissions)
	}
	if rxFinal.FramesReceived != 3 || rxFinal.Duplicates != 0 {
		t.Errorf("Unexpected receiver statistics: %+v", rxFinal)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseOpening, PhaseOpen, PhaseClosing, PhaseClosed}
	if len(phases) != len(want) {
		t.Fatalf("Expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("Phase %d: expected %s, got %s", i, want[i], phases[i])
		}
	}
}

func TestConnection_SequenceAlternates(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))

	var mu sync.Mutex
	var controls []byte
	p.txEnd.SetFilter(func(data []byte) []byte {
		if isIFrame(data) {
			mu.Lock()
			controls = append(controls, controlOf(data))
			mu.Unlock()
		}
		return data
	})

	p.open(t)
	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	for _, s := range []string{"a", "b", "c"} {
		if _, err := p.tx.Send(ctx, []byte(s)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	p.tx.Close(ctx, false)
	waitReceived(t, results)

	mu.Lock()
	defer mu.Unlock()
	want := []byte{CtrlI0, CtrlI1, CtrlI0}
	if !bytes.Equal(controls, want) {
		t.Errorf("Expected controls % X, got % X", want, controls)
	}
}

func TestConnection_OpenRetriesExhausted(t *testing.T) {
	a, _ := channel.NewPipe()

	var sets atomic.Int32
	a.SetFilter(func(data []byte) []byte {
		if controlOf(data) == CtrlSET {
			sets.Add(1)
		}
		return data
	})

	tx, err := NewConnection(a, testConfig(RoleTransmitter, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	err = tx.Open(context.Background())
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Expected ErrOpenFailed wrapping ErrNoResponse, got %v", err)
	}
	if got := sets.Load(); got != 4 {
		t.Errorf("Expected 4 SET transmissions, got %d", got)
	}

	stats := tx.Statistics()
	if stats.Retransmissions != 3 || stats.Timeouts != 4 {
		t.Errorf("Expected 3 retransmissions and 4 timeouts, got %d and %d", stats.Retransmissions, stats.Timeouts)
	}
	if tx.Phase() != PhaseClosed {
		t.Errorf("Expected phase Closed after failed open, got %s", tx.Phase())
	}
}

func TestConnection_SendRetriesExhausted(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, 50*time.Millisecond), testConfig(RoleReceiver, time.Second))
	p.open(t)

	var iframes atomic.Int32
	p.txEnd.SetFilter(func(data []byte) []byte {
		if isIFrame(data) {
			iframes.Add(1)
		}
		return data
	})

	// The receiver never calls Receive, so no RR comes back
	_, err := p.tx.Send(context.Background(), []byte("lost"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Expected ErrTransferFailed, got %v", err)
	}
	if got := iframes.Load(); got != 4 {
		t.Errorf("Expected 4 I frame transmissions, got %d", got)
	}
	if got := p.tx.Statistics().Retransmissions; got != 3 {
		t.Errorf("Expected 3 retransmissions, got %d", got)
	}
}

func TestConnection_LostAcknowledgment(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, 50*time.Millisecond), testConfig(RoleReceiver, time.Second))
	p.open(t)

	var dropped atomic.Bool
	p.rxEnd.SetFilter(func(data []byte) []byte {
		if controlOf(data) == CtrlRR1 && dropped.CompareAndSwap(false, true) {
			return nil
		}
		return data
	})

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	for _, s := range []string{"one", "two"} {
		if _, err := p.tx.Send(ctx, []byte(s)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	p.tx.Close(ctx, false)

	r := waitReceived(t, results)
	if len(r.payloads) != 2 || string(r.payloads[0]) != "one" || string(r.payloads[1]) != "two" {
		t.Errorf("Expected exactly [one two], got %q", r.payloads)
	}
	if got := p.rx.Statistics().Duplicates; got != 1 {
		t.Errorf("Expected 1 duplicate, got %d", got)
	}
	if got := p.tx.Statistics().Retransmissions; got != 1 {
		t.Errorf("Expected 1 retransmission, got %d", got)
	}
}

func TestConnection_CorruptPayloadRejected(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.open(t)

	var corrupted atomic.Bool
	p.txEnd.SetFilter(func(data []byte) []byte {
		if isIFrame(data) && corrupted.CompareAndSwap(false, true) {
			data[4] ^= 0x01
		}
		return data
	})

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	if _, err := p.tx.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p.tx.Close(ctx, false)

	r := waitReceived(t, results)
	if len(r.payloads) != 1 || string(r.payloads[0]) != "hello" {
		t.Errorf("Expected [hello], got %q", r.payloads)
	}

	txStats := p.tx.Statistics()
	rxStats := p.rx.Statistics()
	if txStats.RejectsReceived != 1 || txStats.Retransmissions != 1 {
		t.Errorf("Expected 1 REJ received and 1 retransmission, got %+v", txStats)
	}
	if txStats.Timeouts != 0 {
		t.Errorf("REJ should trigger retransmission before the timer, got %d timeouts", txStats.Timeouts)
	}
	if rxStats.RejectsSent != 1 || rxStats.PayloadErrors != 1 {
		t.Errorf("Expected 1 REJ sent and 1 payload error, got %+v", rxStats)
	}
}

func TestConnection_CorruptHeaderRecoveredByTimeout(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, 50*time.Millisecond), testConfig(RoleReceiver, time.Second))
	p.open(t)

	var corrupted atomic.Bool
	p.txEnd.SetFilter(func(data []byte) []byte {
		if isIFrame(data) && corrupted.CompareAndSwap(false, true) {
			data[3] ^= 0x10
		}
		return data
	})

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	if _, err := p.tx.Send(ctx, []byte("payload")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p.tx.Close(ctx, false)

	r := waitReceived(t, results)
	if len(r.payloads) != 1 || string(r.payloads[0]) != "payload" {
		t.Errorf("Expected [payload], got %q", r.payloads)
	}
	if p.rx.Statistics().HeaderErrors == 0 {
		t.Error("Expected the receiver to count a header error")
	}
	if p.rx.Statistics().RejectsSent != 0 {
		t.Error("Header errors must not be answered with REJ")
	}
	if p.tx.Statistics().Timeouts == 0 {
		t.Error("Expected recovery through the retransmission timer")
	}
}

func TestConnection_NoisyFragmentedLine(t *testing.T) {
	logger.SetFrameDebug(true)
	defer logger.SetFrameDebug(false)

	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.rxEnd.SetChunkSize(1)
	p.txEnd.SetChunkSize(3)
	p.rxEnd.Inject([]byte{0x00, 0x7E, 0x55, 0x7D, 0x03, 0x7E, 0x7E})

	p.open(t)
	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	payload := bytes.Repeat([]byte{0x7E, 0x01, 0x7D}, 300)
	if _, err := p.tx.Send(ctx, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p.tx.Close(ctx, false)

	r := waitReceived(t, results)
	if len(r.payloads) != 1 || !bytes.Equal(r.payloads[0], payload) {
		t.Errorf("Payload did not survive fragmented delivery")
	}
}

func TestConnection_RoleChecks(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	ctx := context.Background()

	if _, err := p.tx.Receive(ctx); !errors.Is(err, ErrWrongRole) {
		t.Errorf("Expected ErrWrongRole for transmitter Receive, got %v", err)
	}
	if _, err := p.rx.Send(ctx, []byte("x")); !errors.Is(err, ErrWrongRole) {
		t.Errorf("Expected ErrWrongRole for receiver Send, got %v", err)
	}
}

func TestConnection_InvalidSize(t *testing.T) {
	cfg := testConfig(RoleTransmitter, time.Second)
	cfg.MaxPayloadSize = 16
	p := newPair(t, cfg, testConfig(RoleReceiver, time.Second))
	ctx := context.Background()

	if _, err := p.tx.Send(ctx, make([]byte, 17)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Expected ErrInvalidSize, got %v", err)
	}
	if _, err := p.tx.Send(ctx, make([]byte, 16)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState before open, got %v", err)
	}
	if sent := p.txEnd.Statistics().BytesSent; sent != 0 {
		t.Errorf("Expected nothing written, got %d bytes", sent)
	}
}

func TestConnection_OpenTwice(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.open(t)

	err := p.tx.Open(context.Background())
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrOpenFailed wrapping ErrInvalidState, got %v", err)
	}
	if p.tx.Phase() != PhaseOpen {
		t.Errorf("Second open must not disturb the connection, phase %s", p.tx.Phase())
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.open(t)

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)
	if err := p.tx.Close(ctx, false); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitReceived(t, results)

	if _, err := p.tx.Send(ctx, []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := p.rx.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := p.tx.Open(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected closed connection to refuse reopening, got %v", err)
	}
}

func TestConnection_ReceiveCancelledByContext(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.rx.Receive(ctx)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
	if p.rx.Phase() != PhaseOpen {
		t.Errorf("Cancelled receive must leave the connection open, phase %s", p.rx.Phase())
	}
}

func TestConnection_CloseCancelsPendingReceive(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, 20*time.Millisecond))
	p.open(t)

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)
	time.Sleep(20 * time.Millisecond)

	// The transmitter is idle, so the disconnect goes unanswered
	err := p.rx.Close(ctx, false)
	if !errors.Is(err, ErrCloseFailed) || !errors.Is(err, ErrNoResponse) {
		t.Errorf("Expected ErrCloseFailed wrapping ErrNoResponse, got %v", err)
	}

	r := waitReceived(t, results)
	if !errors.Is(r.err, ErrCancelled) {
		t.Errorf("Expected pending Receive to be cancelled, got %v", r.err)
	}
	if p.rx.Phase() != PhaseClosed {
		t.Errorf("Expected phase Closed, got %s", p.rx.Phase())
	}
}

func TestConnection_CloseNeverOpened(t *testing.T) {
	a, _ := channel.NewPipe()
	conn, _ := NewConnection(a, testConfig(RoleTransmitter, time.Second))
	ctx := context.Background()

	if err := conn.Close(ctx, false); err != nil {
		t.Errorf("Closing an unopened connection should succeed, got %v", err)
	}
	if err := conn.Open(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState opening after close, got %v", err)
	}
}

func TestConnection_ReceiverAnswersRepeatedSET(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, time.Second), testConfig(RoleReceiver, time.Second))
	p.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := receiveUntilError(ctx, p.rx)

	p.rxEnd.Inject(mustEncode(t, NewSETFrame(AddrCommandTx)))

	want := mustEncode(t, NewUAFrame(AddrCommandTx))
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for !bytes.Contains(got, want) && time.Now().Before(deadline) {
		chunk, err := p.txEnd.ReadTimeout(ctx, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("ReadTimeout failed: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Contains(got, want) {
		t.Errorf("Expected UA in reply to repeated SET, got % X", got)
	}

	cancel()
	waitReceived(t, results)
}

func TestConnection_PeerDisconnectDuringSend(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, 20*time.Millisecond), testConfig(RoleReceiver, time.Second))
	p.open(t)

	p.txEnd.Inject(mustEncode(t, NewDISCFrame(AddrCommandRx)))

	_, err := p.tx.Send(context.Background(), []byte("data"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if p.tx.Phase() != PhaseClosed {
		t.Errorf("Expected phase Closed, got %s", p.tx.Phase())
	}
}

func TestConnection_SingleHandshakeExchange(t *testing.T) {
	var sets, uas atomic.Int32
	var txFinal StatisticsSnapshot

	txCfg := testConfig(RoleTransmitter, time.Second)
	txCfg.StatisticsCallback = func(role Role, stats StatisticsSnapshot) {
		txFinal = stats
	}
	p := newPair(t, txCfg, testConfig(RoleReceiver, time.Second))

	p.txEnd.SetFilter(func(data []byte) []byte {
		if controlOf(data) == CtrlSET {
			sets.Add(1)
		}
		return data
	})
	p.rxEnd.SetFilter(func(data []byte) []byte {
		if controlOf(data) == CtrlUA {
			uas.Add(1)
		}
		return data
	})

	p.open(t)
	if sets.Load() != 1 || uas.Load() != 1 {
		t.Fatalf("Expected exactly one SET and one UA, got %d/%d", sets.Load(), uas.Load())
	}

	ctx := context.Background()
	results := receiveUntilError(ctx, p.rx)

	if _, err := p.tx.Send(ctx, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := p.tx.Close(ctx, true); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := waitReceived(t, results)
	if len(r.payloads) != 1 || !bytes.Equal(r.payloads[0], []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("Expected [01 02 03], got %v", r.payloads)
	}
	if txFinal.FramesSent != 1 || txFinal.Retransmissions != 0 {
		t.Errorf("Expected 1 frame sent and no retransmissions, got %d/%d",
			txFinal.FramesSent, txFinal.Retransmissions)
	}
	if sets.Load() != 1 {
		t.Errorf("SET retransmitted during transfer, count %d", sets.Load())
	}
}

func TestConnection_CloseCancelsPendingSend(t *testing.T) {
	p := newPair(t, testConfig(RoleTransmitter, 100*time.Millisecond), testConfig(RoleReceiver, time.Second))
	p.open(t)

	// The receiver never reads, so the I frame stays unacknowledged
	ctx := context.Background()
	sendErr := make(chan error, 1)
	go func() {
		_, err := p.tx.Send(ctx, []byte("stuck"))
		sendErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	err := p.tx.Close(ctx, false)
	if !errors.Is(err, ErrCloseFailed) {
		t.Errorf("Expected ErrCloseFailed with a silent peer, got %v", err)
	}

	select {
	case err := <-sendErr:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected pending Send to be cancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after Close")
	}
	if p.tx.Phase() != PhaseClosed {
		t.Errorf("Expected phase Closed, got %s", p.tx.Phase())
	}
}
