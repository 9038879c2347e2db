package transfer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sheerbytes/segfetch/internal/session"
)

// ErrMissingPart indicates a part file needed for a non-empty range is
// absent or empty.
var ErrMissingPart = errors.New("missing part file")

const maxOutputAttempts = 10000

// Merge concatenates the part files of a complete session, in segment order,
// into a newly created output file next to them and returns its path. Each
// part file is removed after it has been appended. Nothing is written when
// res is incomplete or a part file is unusable; the parts are left in place.
func Merge(sess session.Session, res Result, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", sess.ID, "file", sess.Filename)
	if err := res.Err(); err != nil {
		return "", err
	}

	ranges, err := partRanges(sess, res)
	if err != nil {
		return "", err
	}
	include := make([]bool, len(ranges))
	for i, r := range ranges {
		path := sess.PartPath(r.ID)
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0):
			if r.Len() > 0 {
				logger.Error("part file missing or empty", "segment", r.ID, "path", path)
				return "", fmt.Errorf("%w: segment %d (%s)", ErrMissingPart, r.ID, path)
			}
			logger.Debug("skipping empty part", "segment", r.ID)
		case err != nil:
			return "", fmt.Errorf("stat part %d: %w", r.ID, err)
		case info.Size() != r.Len():
			logger.Error("part file size mismatch", "segment", r.ID, "want", r.Len(), "got", info.Size())
			return "", fmt.Errorf("%w: segment %d has %d bytes, want %d", ErrIncomplete, r.ID, info.Size(), r.Len())
		default:
			include[i] = true
		}
	}

	out, outPath, err := CreateOutput(sess.Dir, sess.Filename)
	if err != nil {
		return "", err
	}

	var written int64
	for i, r := range ranges {
		path := sess.PartPath(r.ID)
		if !include[i] {
			_ = os.Remove(path)
			continue
		}
		n, err := appendPart(out, path)
		written += n
		if err != nil {
			_ = out.Close()
			_ = os.Remove(outPath)
			return "", fmt.Errorf("append part %d: %w", r.ID, err)
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("remove part file failed", "segment", r.ID, "error", err)
		}
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("sync output: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close output: %w", err)
	}
	if written != sess.Size {
		return "", fmt.Errorf("%w: merged %d bytes, want %d", ErrIncomplete, written, sess.Size)
	}
	logger.Info("file assembled", "path", outPath, "bytes", written)
	return outPath, nil
}

// partRanges returns the ranges the part files were written for, in segment
// order: those recorded in res, or the session's partition when res records
// none. The ranges must tile [0, sess.Size).
func partRanges(sess session.Session, res Result) ([]session.Range, error) {
	if len(res.Segments) == 0 {
		return sess.Ranges(), nil
	}
	ranges := make([]session.Range, len(res.Segments))
	for i, seg := range res.Segments {
		ranges[i] = session.Range{ID: seg.ID, Start: seg.Start, End: seg.End}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].ID < ranges[j].ID })

	var next int64
	for _, r := range ranges {
		if r.Start != next || r.End < r.Start {
			return nil, fmt.Errorf("%w: segment %d covers [%d, %d), want start %d", ErrIncomplete, r.ID, r.Start, r.End, next)
		}
		next = r.End
	}
	if next != sess.Size {
		return nil, fmt.Errorf("%w: segments cover %d bytes, want %d", ErrIncomplete, next, sess.Size)
	}
	return ranges, nil
}

func appendPart(dst *os.File, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(dst, src)
}

// OutputName returns the candidate output name for attempt n: the base name
// with a "_download" suffix, then "_download_1", "_download_2" and so on.
func OutputName(name string, n int) string {
	if n == 0 {
		return name + "_download"
	}
	return name + "_download_" + strconv.Itoa(n)
}

// CreateOutput exclusively creates the first free output name for name in
// dir, so an existing file is never overwritten.
func CreateOutput(dir, name string) (*os.File, string, error) {
	for n := 0; n < maxOutputAttempts; n++ {
		path := filepath.Join(dir, OutputName(name, n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create output %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("create output for %s: no free name after %d attempts", name, maxOutputAttempts)
}
