package transfer

import (
	"net"
	"os"
	"sync"
	"time"
)

const mockQueueLen = 64

// MockConn is one end of an in-memory datagram pipe. Every Write delivers
// one datagram to the peer, or drops it when the peer's queue is full, and
// Read honours the read deadline the way a UDP socket does.
type MockConn struct {
	in   chan []byte
	peer *MockConn

	mu       sync.Mutex
	deadline time.Time
	kick     chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*MockConn)(nil)

// NewMockPair returns two connected ends.
func NewMockPair() (*MockConn, *MockConn) {
	a := newMockConn()
	b := newMockConn()
	a.peer = b
	b.peer = a
	return a, b
}

func newMockConn() *MockConn {
	return &MockConn{
		in:     make(chan []byte, mockQueueLen),
		kick:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Read receives one datagram, truncating it to len(p).
func (c *MockConn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		select {
		case <-c.closed:
			stopTimer(timer)
			return 0, net.ErrClosed
		case dgram := <-c.in:
			stopTimer(timer)
			return copy(p, dgram), nil
		case <-c.kick:
			stopTimer(timer)
		case <-expired:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Write sends p as one datagram.
func (c *MockConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	dgram := append([]byte(nil), p...)
	select {
	case c.peer.in <- dgram:
	default:
	}
	return len(p), nil
}

// SetReadDeadline sets the deadline for pending and future reads.
func (c *MockConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Close unblocks pending reads; later calls return net.ErrClosed.
func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
