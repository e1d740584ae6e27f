package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Filter rewrites the bytes of one Write before they reach the peer. It gets
// its own copy and returns what is delivered; nil or empty drops the write.
type Filter func(data []byte) []byte

// Pipe is one end of an in-memory line. Bytes written to one end are read
// from the other. Filters and chunking let tests inject loss, corruption and
// fragmented reads.
type Pipe struct {
	in   *pipeBuffer
	out  *pipeBuffer
	peer *Pipe

	filter    atomic.Pointer[Filter]
	chunkSize atomic.Int64

	stats    counters
	notifier notifier
	closed   atomic.Bool
}

type pipeBuffer struct {
	mu     sync.Mutex
	data   []byte
	ready  chan struct{}
	closed bool
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{ready: make(chan struct{}, 1)}
}

func (b *pipeBuffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// NewPipe returns the two connected ends of a line
func NewPipe() (*Pipe, *Pipe) {
	ab := newPipeBuffer()
	ba := newPipeBuffer()
	a := &Pipe{in: ba, out: ab}
	b := &Pipe{in: ab, out: ba}
	a.peer, b.peer = b, a
	a.stats.connects.Add(1)
	b.stats.connects.Add(1)
	return a, b
}

// SetFilter installs f on writes from this end; nil removes it
func (p *Pipe) SetFilter(f Filter) {
	if f == nil {
		p.filter.Store(nil)
		return
	}
	p.filter.Store(&f)
}

// SetChunkSize caps how many bytes one ReadTimeout on this end returns;
// zero means no cap
func (p *Pipe) SetChunkSize(n int) {
	p.chunkSize.Store(int64(n))
}

// Inject delivers raw bytes to this end as if the peer had written them,
// bypassing the peer's filter
func (p *Pipe) Inject(data []byte) {
	p.in.mu.Lock()
	p.in.data = append(p.in.data, data...)
	p.in.mu.Unlock()
	p.in.signal()
}

// ReadTimeout implements PhysicalChannel.ReadTimeout
func (p *Pipe) ReadTimeout(ctx context.Context, d time.Duration) ([]byte, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		p.in.mu.Lock()
		if n := len(p.in.data); n > 0 {
			if limit := int(p.chunkSize.Load()); limit > 0 && n > limit {
				n = limit
			}
			out := make([]byte, n)
			copy(out, p.in.data)
			p.in.data = p.in.data[n:]
			if len(p.in.data) > 0 {
				p.in.signal()
			}
			p.in.mu.Unlock()
			p.stats.bytesReceived.Add(uint64(n))
			return out, nil
		}
		closed := p.in.closed || p.closed.Load()
		p.in.mu.Unlock()

		if closed {
			return nil, ErrChannelClosed
		}

		select {
		case <-p.in.ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Write implements PhysicalChannel.Write
func (p *Pipe) Write(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.closed.Load() {
		return 0, ErrChannelClosed
	}

	deliver := data
	if f := p.filter.Load(); f != nil {
		deliver = (*f)(append([]byte(nil), data...))
	}

	p.out.mu.Lock()
	if p.out.closed {
		p.out.mu.Unlock()
		p.stats.bytesDropped.Add(uint64(len(data)))
		return len(data), nil
	}
	p.out.data = append(p.out.data, deliver...)
	p.out.mu.Unlock()
	p.out.signal()

	p.stats.bytesSent.Add(uint64(len(data)))
	if dropped := len(data) - len(deliver); dropped > 0 {
		p.stats.bytesDropped.Add(uint64(dropped))
	}
	return len(data), nil
}

// Close implements PhysicalChannel.Close. The peer sees a silent line.
func (p *Pipe) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.in.mu.Lock()
	p.in.closed = true
	p.in.mu.Unlock()
	p.in.signal()
	p.stats.disconnects.Add(1)
	p.peer.notifier.lost()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (p *Pipe) Statistics() TransportStats {
	return p.stats.snapshot()
}

// SetConnectionStateListener implements PhysicalChannel.SetConnectionStateListener
func (p *Pipe) SetConnectionStateListener(listener ConnectionStateListener) {
	p.notifier.set(listener)
}
