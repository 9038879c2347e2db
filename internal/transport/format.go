package transport

import "fmt"

// FormatBytes renders n with a binary unit, e.g. "800B", "1.50KiB", "3.00GiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		if n < 0 {
			n = 0
		}
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// FormatRate renders a bytes-per-second rate.
func FormatRate(bps float64) string {
	if bps <= 0 {
		return "0B/s"
	}
	return FormatBytes(int64(bps)) + "/s"
}
