package inbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Queue reads file names appended to an input file, one per line. It
// remembers how far it has read, so each name is handed out once. A line is
// only taken once its newline has been written.
type Queue struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	offset int64
}

// NewQueue returns a queue over path, starting at the beginning of the file.
func NewQueue(path string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{path: path, logger: logger.With("input", path)}
}

// Path returns the input file path.
func (q *Queue) Path() string {
	return q.path
}

// Offset returns the byte offset up to which the file has been consumed.
func (q *Queue) Offset() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.offset
}

// Pending returns the names on complete lines added since the previous
// call. A missing file yields no names. If the file shrank below the read
// offset it is read again from the start.
func (q *Queue) Pending() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, tail, err := q.scan()
	if err != nil {
		return nil, err
	}
	q.offset = tail
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names, nil
}

// entry is a queued name and the offset just past its line.
type entry struct {
	name string
	end  int64
}

// peek is Pending without consuming anything; commit consumes up to an
// offset peek returned.
func (q *Queue) peek() ([]entry, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scan()
}

func (q *Queue) commit(end int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if end > q.offset {
		q.offset = end
	}
}

// scan reads the complete lines past the offset and returns their names
// with the offset past the last newline. q.mu must be held.
func (q *Queue) scan() ([]entry, int64, error) {
	f, err := os.Open(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, q.offset, nil
	}
	if err != nil {
		return nil, q.offset, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, q.offset, fmt.Errorf("stat input: %w", err)
	}
	if info.Size() < q.offset {
		q.logger.Warn("input file truncated, rereading", "offset", q.offset, "size", info.Size())
		q.offset = 0
	}
	if info.Size() == q.offset {
		return nil, q.offset, nil
	}

	data, err := io.ReadAll(io.NewSectionReader(f, q.offset, info.Size()-q.offset))
	if err != nil {
		return nil, q.offset, fmt.Errorf("read input: %w", err)
	}
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		return nil, q.offset, nil
	}

	var entries []entry
	pos := q.offset
	for _, line := range strings.SplitAfter(string(data[:last+1]), "\n") {
		if line == "" {
			continue
		}
		pos += int64(len(line))
		if name := strings.TrimSpace(line); name != "" {
			entries = append(entries, entry{name: name, end: pos})
		}
	}
	return entries, q.offset + int64(last+1), nil
}
