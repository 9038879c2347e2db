package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sheerbytes/segfetch/internal/transport"
)

// Render modes accepted by Render.
const (
	ModeAuto  = "auto"
	ModeTTY   = "tty"
	ModePlain = "plain"
	ModeOff   = "off"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

// IsTTY reports whether w is a character device.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Render starts drawing view to w until ctx ends or the returned stop func is
// called. stop blocks until the final frame is written.
func Render(ctx context.Context, w io.Writer, mode string, view func() Stats) func() {
	switch mode {
	case ModeOff:
		return func() {}
	case ModeTTY:
		return renderTea(ctx, w, view)
	case ModePlain:
		return renderPlain(ctx, w, view, time.Second)
	default:
		if IsTTY(w) {
			return renderTea(ctx, w, view)
		}
		return renderPlain(ctx, w, view, time.Second)
	}
}

func renderPlain(ctx context.Context, w io.Writer, view func() Stats, every time.Duration) func() {
	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintln(w, FormatLine(view()))
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			fmt.Fprintln(w, FormatLine(view()))
		})
	}
}

// FormatLine renders stats as a single key=value line.
func FormatLine(s Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "progress file=%s percent=%.2f done=%s total=%s rate=%s eta=%s",
		s.Name, s.Percent,
		transport.FormatBytes(s.BytesDone), transport.FormatBytes(s.Total),
		transport.FormatRate(s.RateBps), formatETA(s.ETA))
	for _, seg := range s.Segments {
		fmt.Fprintf(&b, " seg%d=%.0f%%", seg.ID, seg.Percent)
	}
	return b.String()
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func renderBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(percent / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func renderTTY(s Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", colorize(fmt.Sprintf("%s  %6.2f%%  %s/%s  %s  eta %s",
		s.Name, s.Percent,
		transport.FormatBytes(s.BytesDone), transport.FormatBytes(s.Total),
		transport.FormatRate(s.RateBps), formatETA(s.ETA)), colorGreen, true))
	for _, seg := range s.Segments {
		color := colorCyan
		if seg.State == "FAILED" {
			color = colorRed
		}
		fmt.Fprintf(&b, "%s\n", colorize(fmt.Sprintf("  seg %-2d %s %6.2f%% %s",
			seg.ID, renderBar(seg.Percent, 30), seg.Percent, seg.State), color, true))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
