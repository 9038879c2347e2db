package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/sheerbytes/segfetch/pkg/protocol"
)

var (
	errNotRegular = errors.New("not a regular file")
	errPastEOF    = errors.New("offset at or beyond end of file")
	errEmptyRead  = errors.New("zero-byte read")
)

// open resolves name inside the served root. name has already passed
// protocol.ValidateFilename, so it cannot leave the root.
func (s *Server) open(name string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", name, errNotRegular)
	}
	return f, info, nil
}

// readChunk reads at most min(req.Length, size-offset, len(buf)) bytes of
// the requested file into buf. A short read is returned as is.
func (s *Server) readChunk(req protocol.ChunkRequest, buf []byte) ([]byte, error) {
	f, info, err := s.open(req.Filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size := info.Size()
	if req.Offset >= size {
		return nil, fmt.Errorf("%w: offset %d, size %d", errPastEOF, req.Offset, size)
	}
	length := req.Length
	if remaining := size - req.Offset; remaining < length {
		length = remaining
	}
	if int64(len(buf)) < length {
		length = int64(len(buf))
	}
	n, err := f.ReadAt(buf[:length], req.Offset)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = errEmptyRead
		}
		return nil, err
	}
	return buf[:n], nil
}

// fileSize returns the size of name, or protocol.SizeNotFound if it cannot
// be served.
func (s *Server) fileSize(name string) int64 {
	if protocol.ValidateFilename(name) != nil {
		return protocol.SizeNotFound
	}
	f, info, err := s.open(name)
	if err != nil {
		return protocol.SizeNotFound
	}
	f.Close()
	return info.Size()
}

// listing returns the regular files in the root, sorted by name.
func (s *Server) listing() ([]protocol.ListEntry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.ListEntry, 0, len(dirents))
	for _, de := range dirents {
		if !de.Type().IsRegular() || protocol.ValidateFilename(de.Name()) != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, protocol.ListEntry{Name: de.Name(), Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Server) serveSize(conn net.PacketConn, peer net.Addr, cmd protocol.Command) {
	s.stats.queries.Add(1)
	size := int64(protocol.SizeNotFound)
	if name, err := cmd.Filename(); err == nil {
		size = s.fileSize(name)
	}
	if _, err := conn.WriteTo(protocol.FormatSize(size), peer); err != nil {
		s.logger.Warn("send size failed", "peer", peer.String(), "error", err)
	}
}

func (s *Server) serveList(conn net.PacketConn, peer net.Addr) {
	s.stats.queries.Add(1)
	entries, err := s.listing()
	if err != nil {
		s.logger.Error("list root failed", "root", s.root, "error", err)
		return
	}
	reply, n := protocol.FormatList(entries, protocol.MaxDatagramSize)
	if n < len(entries) {
		s.logger.Debug("list truncated", "listed", n, "total", len(entries))
	}
	if len(reply) == 0 {
		reply = []byte("\n")
	}
	if _, err := conn.WriteTo(reply, peer); err != nil {
		s.logger.Warn("send list failed", "peer", peer.String(), "error", err)
	}
}
