package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SizeNotFound is the SIZE reply for a file the server cannot serve.
const SizeNotFound = -1

// ErrNotFound is returned by ParseSize for a SizeNotFound reply.
var ErrNotFound = errors.New("file not found on server")

// FormatSize renders a SIZE reply.
func FormatSize(size int64) []byte {
	return strconv.AppendInt(nil, size, 10)
}

// ParseSize parses a SIZE reply.
func ParseSize(b []byte) (int64, error) {
	s := strings.TrimSpace(string(b))
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size reply %q", ErrMalformedRequest, truncateToken(s))
	}
	if size == SizeNotFound {
		return 0, ErrNotFound
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: negative size %d", ErrMalformedRequest, size)
	}
	return size, nil
}

// ListEntry is one line of a LIST reply.
type ListEntry struct {
	Name string
	Size int64
}

// FormatList renders entries as "name size" lines, stopping before the reply
// would exceed limit bytes. It returns the reply and how many entries fit.
func FormatList(entries []ListEntry, limit int) ([]byte, int) {
	var buf bytes.Buffer
	n := 0
	for _, e := range entries {
		line := e.Name + " " + strconv.FormatInt(e.Size, 10) + "\n"
		if limit > 0 && buf.Len()+len(line) > limit {
			break
		}
		buf.WriteString(line)
		n++
	}
	return buf.Bytes(), n
}

// ParseList parses a LIST reply. Lines without a size are accepted with
// Size set to -1.
func ParseList(b []byte) ([]ListEntry, error) {
	var entries []ListEntry
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			entries = append(entries, ListEntry{Name: fields[0], Size: -1})
		default:
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: list line %q", ErrMalformedRequest, truncateToken(sc.Text()))
			}
			entries = append(entries, ListEntry{Name: fields[0], Size: size})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
