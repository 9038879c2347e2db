package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sheerbytes/segfetch/internal/bufpool"
	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

const (
	DefaultMaxChunkSize = 4096
	DefaultAckTimeout   = 2 * time.Second
	DefaultBacklogSize  = 64
)

// Config controls a Server.
type Config struct {
	// Root is the directory files are served from.
	Root         string
	MaxChunkSize int
	// AckTimeout bounds the wait for one acknowledgment after a chunk.
	AckTimeout time.Duration
	// BacklogSize bounds datagrams held while waiting for an acknowledgment.
	BacklogSize int
}

func (c Config) normalize() Config {
	if c.Root == "" {
		c.Root = "."
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.MaxChunkSize > protocol.MaxPayloadSize {
		c.MaxChunkSize = protocol.MaxPayloadSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.BacklogSize <= 0 {
		c.BacklogSize = DefaultBacklogSize
	}
	return c
}

type datagram struct {
	addr net.Addr
	buf  []byte
	n    int
}

func (d datagram) payload() []byte {
	return d.buf[:d.n]
}

// Server answers chunk, size and list requests for the files in one
// directory. It handles one datagram at a time; the only state it keeps
// between requests is the backlog of datagrams that arrived while it was
// waiting for an acknowledgment.
type Server struct {
	cfg    Config
	root   string
	logger *slog.Logger

	pool    *bufpool.Pool
	out     []byte
	backlog []datagram

	stats counters
}

// New returns a server for cfg. Root must be an existing directory.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Server{
		cfg:    cfg,
		root:   root,
		logger: logger,
		pool:   bufpool.New(protocol.MaxDatagramSize),
		out:    make([]byte, protocol.ResponseHeaderSize+cfg.MaxChunkSize),
	}, nil
}

// Root returns the absolute directory being served.
func (s *Server) Root() string {
	return s.root
}

// Serve reads and answers datagrams on conn until ctx is cancelled, which
// returns nil, or conn fails. Serve does not close conn.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.logger.Info("serving", "addr", conn.LocalAddr().String(), "root", s.root,
		"max_chunk_size", s.cfg.MaxChunkSize, "ack_timeout", s.cfg.AckTimeout)

	for {
		if ctx.Err() != nil {
			s.logger.Info("server stopped", s.Stats().attrs()...)
			return nil
		}
		dg, ok := s.dequeue()
		if !ok {
			var err error
			dg, err = s.read(ctx, conn)
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Info("server stopped", s.Stats().attrs()...)
					return nil
				}
				if transport.IsTimeout(err) {
					continue
				}
				return fmt.Errorf("read: %w", err)
			}
		}
		s.handle(ctx, conn, dg)
		s.pool.Put(dg.buf)
	}
}

func (s *Server) read(ctx context.Context, conn net.PacketConn) (datagram, error) {
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return datagram{}, err
	}
	// A cancel that fired before the reset above must not be lost.
	if err := ctx.Err(); err != nil {
		return datagram{}, err
	}
	buf := s.pool.Get()
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		s.pool.Put(buf)
		return datagram{}, err
	}
	return datagram{addr: addr, buf: buf, n: n}, nil
}

func (s *Server) handle(ctx context.Context, conn net.PacketConn, dg datagram) {
	s.stats.requests.Add(1)
	cmd, err := protocol.ParseCommand(dg.payload())
	if err != nil {
		if dg.n == protocol.AckSize {
			s.logger.Debug("unexpected ack", "peer", dg.addr.String())
		} else {
			s.logger.Debug("dropping request", "peer", dg.addr.String(), "error", err)
		}
		s.stats.dropped.Add(1)
		return
	}
	switch cmd.Name {
	case protocol.CmdDownload:
		s.serveChunk(ctx, conn, dg.addr, cmd)
	case protocol.CmdSize:
		s.serveSize(conn, dg.addr, cmd)
	case protocol.CmdList:
		s.serveList(conn, dg.addr)
	}
}

func (s *Server) serveChunk(ctx context.Context, conn net.PacketConn, peer net.Addr, cmd protocol.Command) {
	req, err := cmd.ChunkRequest()
	if err != nil {
		s.drop(peer, "bad chunk request", err)
		return
	}
	payload, err := s.readChunk(req, s.out[protocol.ResponseHeaderSize:])
	if err != nil {
		s.drop(peer, "chunk unavailable", err)
		return
	}
	n, err := protocol.EncodeChunkResponse(s.out, req.Offset, payload)
	if err != nil {
		s.drop(peer, "encode response", err)
		return
	}
	if _, err := conn.WriteTo(s.out[:n], peer); err != nil {
		s.logger.Warn("send chunk failed", "peer", peer.String(), "offset", req.Offset, "error", err)
		s.stats.dropped.Add(1)
		return
	}
	s.stats.chunks.Add(1)
	s.stats.bytes.Add(uint64(len(payload)))
	s.logger.Debug("chunk sent", "peer", peer.String(), "file", req.Filename, "offset", req.Offset, "len", len(payload))

	s.awaitAck(ctx, conn, peer, req.Offset)
}

// awaitAck waits up to AckTimeout for peer to acknowledge offset. Other
// peers' datagrams are queued for later. A request from peer itself ends the
// wait: the client has moved on.
func (s *Server) awaitAck(ctx context.Context, conn net.PacketConn, peer net.Addr, offset int64) {
	deadline := time.Now().Add(s.cfg.AckTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		buf := s.pool.Get()
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			s.pool.Put(buf)
			if transport.IsTimeout(err) && ctx.Err() == nil {
				s.stats.ackTimeouts.Add(1)
				s.logger.Warn("ack timeout", "peer", peer.String(), "offset", offset, "timeout", s.cfg.AckTimeout)
			}
			return
		}
		dg := datagram{addr: addr, buf: buf, n: n}
		if addr.String() != peer.String() {
			s.enqueue(dg)
			continue
		}
		if n == protocol.AckSize {
			if _, perr := protocol.ParseCommand(dg.payload()); perr != nil {
				got, _ := protocol.DecodeAck(dg.payload())
				s.pool.Put(buf)
				if got == offset {
					s.stats.acks.Add(1)
					return
				}
				s.logger.Debug("stale ack", "peer", peer.String(), "want", offset, "got", got)
				continue
			}
		}
		s.logger.Debug("ack superseded by new request", "peer", peer.String(), "offset", offset)
		s.enqueue(dg)
		return
	}
}

func (s *Server) enqueue(dg datagram) {
	if len(s.backlog) >= s.cfg.BacklogSize {
		s.logger.Debug("backlog full, dropping datagram", "peer", dg.addr.String())
		s.stats.dropped.Add(1)
		s.pool.Put(dg.buf)
		return
	}
	s.backlog = append(s.backlog, dg)
}

func (s *Server) dequeue() (datagram, bool) {
	if len(s.backlog) == 0 {
		return datagram{}, false
	}
	dg := s.backlog[0]
	s.backlog[0] = datagram{}
	s.backlog = s.backlog[1:]
	if len(s.backlog) == 0 {
		s.backlog = s.backlog[:0:0]
	}
	return dg, true
}

func (s *Server) drop(peer net.Addr, reason string, err error) {
	s.stats.dropped.Add(1)
	s.logger.Debug("dropping request", "peer", peer.String(), "reason", reason, "error", err)
}
