package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/segfetch/pkg/protocol"
)

// Limits on session shape.
const (
	MaxSegments    = 64
	MinPayloadSize = 16
	MaxPayloadSize = protocol.MaxPayloadSize
)

var (
	// ErrInvalidSize indicates a negative file size.
	ErrInvalidSize = errors.New("invalid file size")
	// ErrInvalidSegments indicates a segment count outside 1..MaxSegments.
	ErrInvalidSegments = errors.New("invalid segment count")
	// ErrInvalidPayload indicates a payload size outside MinPayloadSize..MaxPayloadSize.
	ErrInvalidPayload = errors.New("invalid payload size")
)

// Session identifies one file transfer. It is created once the file size is
// known and lives until reassembly finishes or fails.
type Session struct {
	ID          string
	Filename    string
	Size        int64
	Segments    int
	PayloadSize int
	// Dir holds the part files and the merged output.
	Dir       string
	CreatedAt time.Time
}

// New validates the parameters and returns a session with a fresh ID.
func New(filename string, size int64, segments, payloadSize int, dir string) (Session, error) {
	if err := protocol.ValidateFilename(filename); err != nil {
		return Session{}, err
	}
	if size < 0 {
		return Session{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if segments < 1 || segments > MaxSegments {
		return Session{}, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidSegments, segments, MaxSegments)
	}
	if payloadSize < MinPayloadSize || payloadSize > MaxPayloadSize {
		return Session{}, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidPayload, payloadSize, MinPayloadSize, MaxPayloadSize)
	}
	if dir == "" {
		dir = "."
	}
	return Session{
		ID:          uuid.NewString(),
		Filename:    filename,
		Size:        size,
		Segments:    segments,
		PayloadSize: payloadSize,
		Dir:         dir,
		CreatedAt:   time.Now(),
	}, nil
}

// Ranges partitions the file into the session's segments.
func (s Session) Ranges() []Range {
	return Partition(s.Size, s.Segments)
}

// PartPath is the temporary file for segment id: "<dir>/<name>.part<id>".
func (s Session) PartPath(id int) string {
	return filepath.Join(s.Dir, s.Filename+".part"+strconv.Itoa(id))
}
