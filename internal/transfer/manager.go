package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sheerbytes/segfetch/internal/bufpool"
	"github.com/sheerbytes/segfetch/internal/progress"
	"github.com/sheerbytes/segfetch/internal/session"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

const (
	// DefaultRetryLimit is the number of attempts allowed per offset.
	DefaultRetryLimit = 40
	// DefaultTimeout bounds the wait for one chunk response.
	DefaultTimeout = time.Second

	sinkBufferSize = 64 * 1024
)

// ErrIncomplete indicates a session in which some segment did not complete.
var ErrIncomplete = errors.New("transfer incomplete")

// Dialer opens the dedicated endpoint for segment id.
type Dialer func(ctx context.Context, id int) (Conn, error)

// Options tunes the per-segment state machines.
type Options struct {
	RetryLimit int
	Timeout    time.Duration
}

func (o Options) normalize() Options {
	if o.RetryLimit <= 0 {
		o.RetryLimit = DefaultRetryLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Result is the outcome of a Manager run.
type Result struct {
	SessionID string
	Segments  []SegmentResult
	Elapsed   time.Duration
}

// Complete reports whether every segment reached COMPLETE.
func (r Result) Complete() bool {
	for _, seg := range r.Segments {
		if !seg.Complete() {
			return false
		}
	}
	return true
}

// Failed returns the segments that did not complete.
func (r Result) Failed() []SegmentResult {
	var failed []SegmentResult
	for _, seg := range r.Segments {
		if !seg.Complete() {
			failed = append(failed, seg)
		}
	}
	return failed
}

// Err returns nil for a complete result and an ErrIncomplete error naming
// the unfinished segments otherwise.
func (r Result) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	ids := make([]int, len(failed))
	for i, seg := range failed {
		ids[i] = seg.ID
	}
	return fmt.Errorf("%w: segments %v did not complete", ErrIncomplete, ids)
}

// Manager runs one segment per range of a session concurrently and joins
// them before returning. Segments share nothing but the progress tracker.
type Manager struct {
	sess    session.Session
	opts    Options
	dial    Dialer
	logger  *slog.Logger
	tracker *progress.Tracker
	pool    *bufpool.Pool
}

// NewManager prepares a manager for sess.
func NewManager(sess session.Session, dial Dialer, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ranges := sess.Ranges()
	lengths := make([]int64, len(ranges))
	for i, r := range ranges {
		lengths[i] = r.Len()
	}
	return &Manager{
		sess:    sess,
		opts:    opts.normalize(),
		dial:    dial,
		logger:  logger.With("session", sess.ID, "file", sess.Filename),
		tracker: progress.NewTracker(sess.Filename, lengths),
		pool:    bufpool.New(protocol.ResponseHeaderSize + sess.PayloadSize),
	}
}

// Progress returns the tracker updated as segments advance.
func (m *Manager) Progress() *progress.Tracker {
	return m.tracker
}

type segmentSlot struct {
	rng  session.Range
	file *os.File
	sink *bufio.Writer
	conn Conn
	buf  []byte
}

// Run opens a part file and an endpoint per segment, drives all segments to
// a terminal state, then flushes and closes everything. Failing to create a
// part file or an endpoint is returned as an error before any transfer
// starts. Segment failures are reported in the Result; the returned error is
// ctx.Err() if the run was cancelled.
func (m *Manager) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	ranges := m.sess.Ranges()
	result := Result{SessionID: m.sess.ID, Segments: make([]SegmentResult, len(ranges))}

	if err := os.MkdirAll(m.sess.Dir, 0o755); err != nil {
		return result, fmt.Errorf("create output dir: %w", err)
	}

	slots := make([]*segmentSlot, 0, len(ranges))
	defer func() {
		for _, slot := range slots {
			m.release(slot)
		}
	}()
	for _, r := range ranges {
		slot, err := m.open(ctx, r)
		if err != nil {
			return result, err
		}
		slots = append(slots, slot)
	}

	m.logger.Info("transfer started", "size", m.sess.Size, "segments", len(ranges), "payload_size", m.sess.PayloadSize)

	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot *segmentSlot) {
			defer wg.Done()
			result.Segments[slot.rng.ID] = m.runSegment(ctx, slot)
		}(slot)
	}
	wg.Wait()

	for _, slot := range slots {
		if err := slot.sink.Flush(); err != nil {
			seg := &result.Segments[slot.rng.ID]
			m.logger.Error("flush part file failed", "segment", slot.rng.ID, "error", err)
			if seg.Complete() {
				seg.State = StateFailed
				seg.Err = fmt.Errorf("flush part %d: %w", slot.rng.ID, err)
				m.tracker.SetState(slot.rng.ID, StateFailed.String())
			}
		}
	}
	result.Elapsed = time.Since(started)

	if err := ctx.Err(); err != nil {
		m.logger.Warn("transfer cancelled", "done", m.tracker.Done(), "size", m.sess.Size)
		return result, err
	}
	if failed := result.Failed(); len(failed) > 0 {
		m.logger.Error("transfer incomplete", "failed_segments", len(failed), "elapsed", result.Elapsed)
	} else {
		m.logger.Info("transfer finished", "elapsed", result.Elapsed)
	}
	return result, nil
}

func (m *Manager) open(ctx context.Context, r session.Range) (*segmentSlot, error) {
	path := m.sess.PartPath(r.ID)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create part file %s: %w", path, err)
	}
	slot := &segmentSlot{rng: r, file: file, sink: bufio.NewWriterSize(file, sinkBufferSize)}
	if r.Len() == 0 {
		return slot, nil
	}
	conn, err := m.dial(ctx, r.ID)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("open endpoint for segment %d: %w", r.ID, err)
	}
	slot.conn = conn
	slot.buf = m.pool.Get()
	return slot, nil
}

func (m *Manager) runSegment(ctx context.Context, slot *segmentSlot) SegmentResult {
	logger := m.logger.With("segment", slot.rng.ID)
	seg := NewSegment(SegmentConfig{
		Filename:    m.sess.Filename,
		Range:       slot.rng,
		PayloadSize: m.sess.PayloadSize,
		RetryLimit:  m.opts.RetryLimit,
		Timeout:     m.opts.Timeout,
	}, slot.conn, slot.sink, slot.buf, logger)
	seg.OnAdvance(m.tracker.Advance)
	seg.OnState(func(id int, st State) {
		m.tracker.SetState(id, st.String())
	})
	m.tracker.SetState(slot.rng.ID, seg.State().String())

	if seg.State().Terminal() {
		return SegmentResult{ID: slot.rng.ID, Start: slot.rng.Start, End: slot.rng.End, Cursor: slot.rng.End, State: seg.State()}
	}
	res := seg.Run(ctx)
	switch {
	case res.Complete():
		logger.Debug("segment complete", "retries", res.Retries, "timeouts", res.Timeouts, "rejected", res.Rejected)
	case ctx.Err() != nil:
		logger.Debug("segment cancelled", "cursor", res.Cursor)
	default:
		logger.Error("segment failed", "cursor", res.Cursor, "end", res.End, "error", res.Err)
	}
	return res
}

func (m *Manager) release(slot *segmentSlot) {
	if slot.conn != nil {
		_ = slot.conn.Close()
	}
	if slot.buf != nil {
		m.pool.Put(slot.buf)
	}
	_ = slot.sink.Flush()
	if err := slot.file.Close(); err != nil {
		m.logger.Warn("close part file failed", "segment", slot.rng.ID, "error", err)
	}
}
