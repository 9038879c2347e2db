package transport

import (
	"fmt"
	"net"
	"strings"
)

const (
	minUDPBuffer = 64 * 1024
	maxUDPBuffer = 64 * 1024 * 1024
)

// Tuning outcomes reported in UDPTuneResult.Status.
const (
	StatusOK      = "ok"
	StatusDenied  = "denied"
	StatusSkipped = "skipped"
)

// UDPTuneResult describes what ApplyUDPBuffers asked the kernel for.
type UDPTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

func (r UDPTuneResult) String() string {
	if r.Err != "" {
		return fmt.Sprintf("udp buffers r=%s w=%s status=%s err=%s", FormatBytes(int64(r.RequestedR)), FormatBytes(int64(r.RequestedW)), r.Status, r.Err)
	}
	return fmt.Sprintf("udp buffers r=%s w=%s status=%s", FormatBytes(int64(r.RequestedR)), FormatBytes(int64(r.RequestedW)), r.Status)
}

// ApplyUDPBuffers sets socket buffer sizes on conn, best effort. A zero size
// leaves that direction at the OS default. Failures are reported, not
// returned, because a small buffer only costs throughput.
func ApplyUDPBuffers(conn *net.UDPConn, r, w int) UDPTuneResult {
	result := UDPTuneResult{Status: StatusOK}
	if conn == nil || (r <= 0 && w <= 0) {
		result.Status = StatusSkipped
		return result
	}

	var errs []string
	if r > 0 {
		result.RequestedR = clampUDPBuffer(r)
		if err := conn.SetReadBuffer(result.RequestedR); err != nil {
			errs = append(errs, "read: "+err.Error())
		}
	}
	if w > 0 {
		result.RequestedW = clampUDPBuffer(w)
		if err := conn.SetWriteBuffer(result.RequestedW); err != nil {
			errs = append(errs, "write: "+err.Error())
		}
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func clampUDPBuffer(n int) int {
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}
