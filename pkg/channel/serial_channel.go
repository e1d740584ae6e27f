package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialChannel implements PhysicalChannel over a serial port, 8N1
type SerialChannel struct {
	port      serial.Port
	portName  string
	writeLock sync.Mutex
	readLock  sync.Mutex

	stats    counters
	notifier notifier

	closed atomic.Bool
}

// SerialChannelConfig configures a serial channel
type SerialChannelConfig struct {
	PortName string // e.g. /dev/ttyS0 or COM3
	BaudRate int    // Default 38400
}

// NewSerialChannel opens the port and discards anything already buffered
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.PortName == "" {
		return nil, fmt.Errorf("port name is required")
	}
	if config.BaudRate == 0 {
		config.BaudRate = 38400
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(config.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.PortName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", config.PortName, err)
	}

	sc := &SerialChannel{port: port, portName: config.PortName}
	sc.stats.connects.Add(1)
	return sc, nil
}

// ReadTimeout implements PhysicalChannel.ReadTimeout
func (sc *SerialChannel) ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sc.closed.Load() {
		return nil, ErrChannelClosed
	}

	sc.readLock.Lock()
	defer sc.readLock.Unlock()

	if err := sc.port.SetReadTimeout(d); err != nil {
		sc.stats.readErrors.Add(1)
		return nil, err
	}

	buf := make([]byte, readBufferSize)
	n, err := sc.port.Read(buf)
	if n > 0 {
		sc.stats.bytesReceived.Add(uint64(n))
		return buf[:n], nil
	}
	if err != nil {
		if sc.closed.Load() {
			return nil, ErrChannelClosed
		}
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		sc.stats.readErrors.Add(1)
		return nil, err
	}
	// Zero bytes and no error is the port's read timeout
	return nil, nil
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if sc.closed.Load() {
		return 0, ErrChannelClosed
	}

	sc.writeLock.Lock()
	defer sc.writeLock.Unlock()

	written := 0
	for written < len(data) {
		n, err := sc.port.Write(data[written:])
		written += n
		sc.stats.bytesSent.Add(uint64(n))
		if err != nil {
			sc.stats.writeErrors.Add(1)
			return written, err
		}
	}
	return written, nil
}

// Close implements PhysicalChannel.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	sc.stats.disconnects.Add(1)
	return sc.port.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return sc.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel.SetConnectionStateListener.
// A serial line has no connection events; the listener is stored but never called.
func (sc *SerialChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	sc.notifier.set(listener)
}

// PortName returns the device the channel was opened on
func (sc *SerialChannel) PortName() string {
	return sc.portName
}

// ListSerialPorts returns the serial ports present on this machine
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
