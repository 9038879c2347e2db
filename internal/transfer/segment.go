package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/sheerbytes/segfetch/internal/session"
	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

// State is a step of the per-segment stop-and-wait cycle.
type State int

const (
	StateRequesting State = iota
	StateAwaitingResponse
	StateVerifying
	StateAdvancing
	StateRetrying
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "REQUESTING"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateVerifying:
		return "VERIFYING"
	case StateAdvancing:
		return "ADVANCING"
	case StateRetrying:
		return "RETRYING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var (
	// ErrSegmentExhausted indicates the retry budget for one offset ran out.
	ErrSegmentExhausted = errors.New("segment retry budget exhausted")
	// ErrOffsetMismatch indicates a response for an offset other than the cursor.
	ErrOffsetMismatch = errors.New("response offset mismatch")
	// ErrOversizedPayload indicates a response longer than the bytes requested.
	ErrOversizedPayload = errors.New("response payload larger than requested")
)

// Conn is the datagram endpoint a segment talks through. A connected
// *net.UDPConn satisfies it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// SegmentConfig holds the fixed parameters of one segment.
type SegmentConfig struct {
	Filename    string
	Range       session.Range
	PayloadSize int
	RetryLimit  int
	Timeout     time.Duration
}

// SegmentResult reports how a segment ended.
type SegmentResult struct {
	ID       int
	Start    int64
	End      int64
	Cursor   int64
	State    State
	Retries  int
	Timeouts int
	Rejected int
	Err      error
}

// Complete reports whether the segment delivered its whole range.
func (r SegmentResult) Complete() bool {
	return r.State == StateComplete
}

// Segment drives one byte range through request, receive, verify, persist
// and acknowledge until the cursor reaches the end of the range or the retry
// budget for the current offset is spent. One chunk is in flight at a time.
type Segment struct {
	cfg    SegmentConfig
	conn   Conn
	sink   io.Writer
	logger *slog.Logger

	state   State
	cursor  int64
	retries int

	buf    []byte
	ackBuf [protocol.AckSize]byte
	resp   protocol.ChunkResponse

	// stats across the segment's lifetime
	totalRetries int
	timeouts     int
	rejected     int

	onAdvance func(id int, n int)
	onState   func(id int, s State)
}

// NewSegment prepares a segment. buf receives responses and must hold a
// response header plus PayloadSize bytes; nil allocates one.
func NewSegment(cfg SegmentConfig, conn Conn, sink io.Writer, buf []byte, logger *slog.Logger) *Segment {
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	need := protocol.ResponseHeaderSize + cfg.PayloadSize
	if len(buf) < need {
		buf = make([]byte, need)
	}
	if logger == nil {
		logger = slog.Default()
	}
	state := StateRequesting
	if cfg.Range.Len() <= 0 {
		state = StateComplete
	}
	return &Segment{
		cfg:    cfg,
		conn:   conn,
		sink:   sink,
		logger: logger,
		state:  state,
		cursor: cfg.Range.Start,
		buf:    buf[:need],
	}
}

// OnAdvance registers a callback invoked with the number of bytes persisted
// after every accepted chunk.
func (s *Segment) OnAdvance(fn func(id int, n int)) {
	s.onAdvance = fn
}

// OnState registers a callback invoked on every state change.
func (s *Segment) OnState(fn func(id int, st State)) {
	s.onState = fn
}

// State returns the current state.
func (s *Segment) State() State {
	return s.state
}

// Cursor returns the next offset the segment expects.
func (s *Segment) Cursor() int64 {
	return s.cursor
}

// Run drives the segment to COMPLETE or FAILED. The result's Err is nil on
// COMPLETE, wraps ErrSegmentExhausted when the retry budget ran out, and is
// ctx.Err() when cancelled, in which case the state is left where it was.
func (s *Segment) Run(ctx context.Context) SegmentResult {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var err error
	for !s.state.Terminal() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		err = s.step(ctx)
		if err != nil && !s.state.Terminal() {
			break
		}
	}
	if s.state == StateComplete {
		err = nil
	}
	return SegmentResult{
		ID:       s.cfg.Range.ID,
		Start:    s.cfg.Range.Start,
		End:      s.cfg.Range.End,
		Cursor:   s.cursor,
		State:    s.state,
		Retries:  s.totalRetries,
		Timeouts: s.timeouts,
		Rejected: s.rejected,
		Err:      err,
	}
}

// step performs one transition. A non-nil error with a non-terminal state
// means the run must stop (cancellation); with FAILED it is the cause.
func (s *Segment) step(ctx context.Context) error {
	switch s.state {
	case StateRequesting:
		if err := s.sendRequest(); err != nil {
			s.logger.Debug("request send failed", "offset", s.cursor, "error", err)
			if err := s.retry(err); err != nil {
				return err
			}
			return s.pace(ctx)
		}
		s.setState(StateAwaitingResponse)
		return nil

	case StateAwaitingResponse:
		n, err := s.readResponse(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if transport.IsTimeout(err) {
				s.timeouts++
				return s.retry(fmt.Errorf("timeout waiting for offset %d", s.cursor))
			}
			if errors.Is(err, net.ErrClosed) {
				s.setState(StateFailed)
				return fmt.Errorf("segment %d endpoint closed: %w", s.cfg.Range.ID, err)
			}
			// Refused ports and similar errors return at once.
			s.logger.Debug("read failed", "offset", s.cursor, "error", err)
			if err := s.retry(err); err != nil {
				return err
			}
			return s.pace(ctx)
		}
		resp, err := protocol.DecodeChunkResponse(s.buf[:n])
		if err != nil {
			s.rejected++
			return s.retry(err)
		}
		s.resp = resp
		s.setState(StateVerifying)
		return nil

	case StateVerifying:
		if err := s.verify(s.resp); err != nil {
			s.rejected++
			s.logger.Debug("response rejected", "offset", s.cursor, "got_offset", s.resp.Offset, "error", err)
			return s.retry(err)
		}
		s.setState(StateAdvancing)
		return nil

	case StateAdvancing:
		return s.advance()

	case StateRetrying:
		s.setState(StateRequesting)
		return nil
	}
	return nil
}

func (s *Segment) sendRequest() error {
	req := protocol.ChunkRequest{
		Filename: s.cfg.Filename,
		Offset:   s.cursor,
		Length:   s.nextLength(),
	}
	b, err := req.Encode()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *Segment) nextLength() int64 {
	length := int64(s.cfg.PayloadSize)
	if remaining := s.cfg.Range.End - s.cursor; remaining < length {
		length = remaining
	}
	return length
}

func (s *Segment) readResponse(ctx context.Context) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return 0, err
	}
	// A cancel landing before the deadline above was set has been overwritten.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.conn.Read(s.buf)
}

// pace holds off the next attempt after a socket error for a quarter of the
// response timeout.
func (s *Segment) pace(ctx context.Context) error {
	t := time.NewTimer(s.cfg.Timeout / 4)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Segment) verify(resp protocol.ChunkResponse) error {
	if resp.Offset != s.cursor {
		return fmt.Errorf("%w: want %d, got %d", ErrOffsetMismatch, s.cursor, resp.Offset)
	}
	if int64(len(resp.Payload)) > s.nextLength() {
		return fmt.Errorf("%w: %d > %d", ErrOversizedPayload, len(resp.Payload), s.nextLength())
	}
	return resp.Verify()
}

func (s *Segment) advance() error {
	payload := s.resp.Payload
	confirmed := s.resp.Offset
	if _, err := s.sink.Write(payload); err != nil {
		s.setState(StateFailed)
		s.logger.Error("segment output write failed", "offset", confirmed, "error", err)
		return fmt.Errorf("segment %d write at offset %d: %w", s.cfg.Range.ID, confirmed, err)
	}
	s.cursor += int64(len(payload))
	s.retries = 0

	n, _ := protocol.EncodeAck(s.ackBuf[:], confirmed)
	if _, err := s.conn.Write(s.ackBuf[:n]); err != nil {
		// The server only logs a missing ack; the data is already persisted.
		s.logger.Debug("ack send failed", "offset", confirmed, "error", err)
	}
	if s.onAdvance != nil {
		s.onAdvance(s.cfg.Range.ID, len(payload))
	}

	if s.cursor >= s.cfg.Range.End {
		s.setState(StateComplete)
		return nil
	}
	s.setState(StateRequesting)
	return nil
}

// retry charges one attempt against the current offset and moves to
// RETRYING, or to FAILED once the budget is spent.
func (s *Segment) retry(cause error) error {
	s.retries++
	s.totalRetries++
	if s.retries >= s.cfg.RetryLimit {
		s.setState(StateFailed)
		s.logger.Error("segment exhausted retries", "offset", s.cursor, "retries", s.retries, "last_error", cause)
		return fmt.Errorf("%w: segment %d at offset %d after %d attempts: %v",
			ErrSegmentExhausted, s.cfg.Range.ID, s.cursor, s.retries, cause)
	}
	s.setState(StateRetrying)
	return nil
}

func (s *Segment) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		s.onState(s.cfg.Range.ID, st)
	}
}
