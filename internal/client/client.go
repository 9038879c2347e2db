package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheerbytes/segfetch/internal/progress"
	"github.com/sheerbytes/segfetch/internal/session"
	"github.com/sheerbytes/segfetch/internal/transfer"
	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

const (
	DefaultSegments      = 4
	DefaultPayloadSize   = 1024
	DefaultQueryAttempts = 3
)

var (
	// ErrNotFound is returned when the server reports a file as absent.
	ErrNotFound = protocol.ErrNotFound
	// ErrNoReply is returned when a query gets no answer within its attempts.
	ErrNoReply = errors.New("no reply from server")
)

// ProgressFunc is called with the tracker of a starting transfer and returns
// a function that stops reporting once the transfer ends.
type ProgressFunc func(t *progress.Tracker) (stop func())

// Options configures a Client.
type Options struct {
	Segments      int
	PayloadSize   int
	RetryLimit    int
	Timeout       time.Duration
	QueryAttempts int
	OutDir        string
	ReadBuffer    int
	WriteBuffer   int
	Progress      ProgressFunc
}

func (o Options) normalize() Options {
	if o.Segments <= 0 {
		o.Segments = DefaultSegments
	}
	if o.Segments > session.MaxSegments {
		o.Segments = session.MaxSegments
	}
	if o.PayloadSize <= 0 {
		o.PayloadSize = DefaultPayloadSize
	}
	if o.PayloadSize < session.MinPayloadSize {
		o.PayloadSize = session.MinPayloadSize
	}
	if o.PayloadSize > session.MaxPayloadSize {
		o.PayloadSize = session.MaxPayloadSize
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = transfer.DefaultRetryLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = transfer.DefaultTimeout
	}
	if o.QueryAttempts <= 0 {
		o.QueryAttempts = DefaultQueryAttempts
	}
	if o.OutDir == "" {
		o.OutDir = "."
	}
	return o
}

// Client fetches files from one server.
type Client struct {
	addr   string
	opts   Options
	logger *slog.Logger
}

// New returns a client for the server at addr.
func New(addr string, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{addr: addr, opts: opts.normalize(), logger: logger.With("server", addr)}
}

// Report describes a finished fetch.
type Report struct {
	Name    string
	Path    string
	Size    int64
	Elapsed time.Duration
	Result  transfer.Result
}

// Fetch downloads name into the output directory. The merged file is only
// created when every segment completed; otherwise the error wraps
// transfer.ErrIncomplete and the part files are left in place.
func (c *Client) Fetch(ctx context.Context, name string) (Report, error) {
	report := Report{Name: name}
	if err := protocol.ValidateFilename(name); err != nil {
		return report, err
	}
	started := time.Now()

	size, err := c.Size(ctx, name)
	if err != nil {
		return report, fmt.Errorf("size of %s: %w", name, err)
	}
	report.Size = size

	sess, err := session.New(name, size, c.opts.Segments, c.opts.PayloadSize, c.opts.OutDir)
	if err != nil {
		return report, err
	}
	mgr := transfer.NewManager(sess, c.dialSegment, transfer.Options{
		RetryLimit: c.opts.RetryLimit,
		Timeout:    c.opts.Timeout,
	}, c.logger)

	stop := func() {}
	if c.opts.Progress != nil {
		stop = c.opts.Progress(mgr.Progress())
	}
	res, err := mgr.Run(ctx)
	stop()
	report.Result = res
	report.Elapsed = time.Since(started)
	if err != nil {
		return report, err
	}
	if err := res.Err(); err != nil {
		return report, fmt.Errorf("fetch %s: %w", name, err)
	}

	path, err := transfer.Merge(sess, res, c.logger)
	if err != nil {
		return report, fmt.Errorf("merge %s: %w", name, err)
	}
	report.Path = path
	report.Elapsed = time.Since(started)
	return report, nil
}

func (c *Client) dialSegment(ctx context.Context, id int) (transfer.Conn, error) {
	conn, tune, err := transport.DialUDP(ctx, c.addr, c.opts.ReadBuffer, c.opts.WriteBuffer)
	if err != nil {
		return nil, err
	}
	if tune.Status == transport.StatusDenied {
		c.logger.Debug("segment socket tuning", "segment", id, "result", tune.String())
	}
	return conn, nil
}
