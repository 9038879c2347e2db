package bufpool

import (
	"sync"
)

// Pool hands out datagram buffers of one fixed capacity, typically a
// response header plus the largest payload the caller will accept.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool whose buffers are exactly bufSize bytes long.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// Get returns a buffer of length BufSize. Contents are not zeroed.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	buf := *bp
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns buf to the pool. Buffers smaller than BufSize are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	buf = buf[:p.bufSize]
	p.pool.Put(&buf)
}

// BufSize returns the length of buffers handed out by Get.
func (p *Pool) BufSize() int {
	return p.bufSize
}
