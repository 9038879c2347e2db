package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ListenUDP binds a UDP socket on addr and applies the requested buffer
// sizes best effort.
func ListenUDP(addr string, readBuf, writeBuf int) (*net.UDPConn, UDPTuneResult, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, UDPTuneResult{}, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, UDPTuneResult{}, fmt.Errorf("listen %s: %w", addr, err)
	}
	return conn, ApplyUDPBuffers(conn, readBuf, writeBuf), nil
}

// DialUDP opens a connected UDP socket to addr on a fresh local port and
// applies the requested buffer sizes best effort.
func DialUDP(ctx context.Context, addr string, readBuf, writeBuf int) (*net.UDPConn, UDPTuneResult, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, UDPTuneResult{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn, ok := c.(*net.UDPConn)
	if !ok {
		_ = c.Close()
		return nil, UDPTuneResult{}, fmt.Errorf("dial %s: unexpected conn type %T", addr, c)
	}
	return conn, ApplyUDPBuffers(conn, readBuf, writeBuf), nil
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
