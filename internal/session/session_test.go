package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	dir := t.TempDir()
	s, err := New("movie.mkv", 800, 4, 200, dir)
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "movie.mkv", s.Filename)
	assert.Equal(t, int64(800), s.Size)
	assert.Len(t, s.Ranges(), 4)
	assert.Equal(t, filepath.Join(dir, "movie.mkv.part2"), s.PartPath(2))
	assert.False(t, s.CreatedAt.IsZero())

	other, err := New("movie.mkv", 800, 4, 200, dir)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestNewSessionDefaultsDir(t *testing.T) {
	s, err := New("a.txt", 10, 1, 16, "")
	require.NoError(t, err)
	assert.Equal(t, ".", s.Dir)
}

func TestNewSessionValidation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		segments int
		payload  int
		wantErr  error
	}{
		{"negative size", "a.txt", -1, 4, 1024, ErrInvalidSize},
		{"zero segments", "a.txt", 10, 0, 1024, ErrInvalidSegments},
		{"too many segments", "a.txt", 10, MaxSegments + 1, 1024, ErrInvalidSegments},
		{"tiny payload", "a.txt", 10, 4, MinPayloadSize - 1, ErrInvalidPayload},
		{"huge payload", "a.txt", 10, 4, MaxPayloadSize + 1, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.filename, tt.size, tt.segments, tt.payload, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New("../escape", 10, 4, 1024, "")
	assert.Error(t, err)
}
