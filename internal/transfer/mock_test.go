package transfer

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

// chunkServer answers chunk requests from data on one mock endpoint.
type chunkServer struct {
	data []byte
	// mutate may rewrite the n-th response datagram; returning nil drops it.
	mutate func(n int, dgram []byte) []byte

	mu       sync.Mutex
	requests int
	acks     []int64
}

func (s *chunkServer) serve(conn *MockConn) {
	buf := make([]byte, protocol.MaxDatagramSize)
	out := make([]byte, protocol.MaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if n == protocol.AckSize {
			if off, err := protocol.DecodeAck(buf[:n]); err == nil {
				s.mu.Lock()
				s.acks = append(s.acks, off)
				s.mu.Unlock()
			}
			continue
		}
		cmd, err := protocol.ParseCommand(buf[:n])
		if err != nil {
			continue
		}
		req, err := cmd.ChunkRequest()
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.requests++
		nreq := s.requests
		s.mu.Unlock()

		end := req.Offset + req.Length
		if end > int64(len(s.data)) {
			end = int64(len(s.data))
		}
		if req.Offset >= end {
			continue
		}
		m, err := protocol.EncodeChunkResponse(out, req.Offset, s.data[req.Offset:end])
		if err != nil {
			continue
		}
		dgram := out[:m]
		if s.mutate != nil {
			if dgram = s.mutate(nreq, dgram); dgram == nil {
				continue
			}
		}
		_, _ = conn.Write(dgram)
	}
}

func (s *chunkServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *chunkServer) ackOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.acks...)
}

func TestMockPairDeliversDatagrams(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()
	defer b.Close()

	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := a.Write([]byte("world!")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("first Read = %q, %v", buf[:n], err)
	}
	n, err = b.Read(buf[:3])
	if err != nil || string(buf[:n]) != "wor" {
		t.Fatalf("truncated Read = %q, %v", buf[:n], err)
	}
}

func TestMockConnReadDeadline(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()
	defer b.Close()

	_ = b.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	start := time.Now()
	_, err := b.Read(make([]byte, 4))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Read took %v", time.Since(start))
	}
	if !transport.IsTimeout(err) {
		t.Fatal("isTimeout should accept the deadline error")
	}
}

func TestMockConnDeadlineChangeWakesReader(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, func() { _ = b.SetReadDeadline(time.Now()) })
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Fatalf("Read error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read not woken by deadline change")
	}
}

func TestMockConnClose(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		done <- err
	}()
	_ = b.Close()
	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("Read error = %v, want net.ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read not woken by Close")
	}
	if _, err := b.Write([]byte("x")); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Write after Close = %v", err)
	}
}
