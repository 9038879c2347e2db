package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

// Size asks the server for the size of name. It returns ErrNotFound when
// the server cannot serve the file.
func (c *Client) Size(ctx context.Context, name string) (int64, error) {
	req, err := protocol.SizeRequest(name)
	if err != nil {
		return 0, err
	}
	reply, err := c.query(ctx, req)
	if err != nil {
		return 0, err
	}
	return protocol.ParseSize(reply)
}

// List asks the server for the files it serves.
func (c *Client) List(ctx context.Context) ([]protocol.ListEntry, error) {
	reply, err := c.query(ctx, protocol.ListRequest())
	if err != nil {
		return nil, err
	}
	return protocol.ParseList(reply)
}

// query sends req and waits for a single reply datagram, resending up to
// QueryAttempts times.
func (c *Client) query(ctx context.Context, req []byte) ([]byte, error) {
	conn, _, err := transport.DialUDP(ctx, c.addr, 0, 0)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, protocol.MaxDatagramSize)
	var lastErr error
	for attempt := 1; attempt <= c.opts.QueryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := conn.Write(req); err != nil {
			lastErr = err
			continue
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
			return nil, err
		}
		n, err := conn.Read(buf)
		if err == nil {
			return append([]byte(nil), buf[:n]...), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		c.logger.Debug("query attempt failed", "attempt", attempt, "error", err)
		if !transport.IsTimeout(err) {
			// Refused ports report immediately; pace the next attempt.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.Timeout / 4):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrNoReply, c.opts.QueryAttempts, lastErr)
}
