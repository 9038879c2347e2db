package progress

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	stats := Stats{
		Name:      "a.txt",
		BytesDone: 400,
		Total:     800,
		Percent:   50,
		Segments: []SegmentStats{
			{ID: 0, Percent: 100},
			{ID: 1, Percent: 0},
		},
	}
	line := FormatLine(stats)
	for _, want := range []string{"file=a.txt", "percent=50.00", "done=400B", "total=800B", "eta=-", "seg0=100%", "seg1=0%"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(50, 10); got != "[#####.....]" {
		t.Fatalf("unexpected bar %q", got)
	}
	if got := renderBar(150, 4); got != "[####]" {
		t.Fatalf("bar must clamp, got %q", got)
	}
	if got := renderBar(-1, 4); got != "[....]" {
		t.Fatalf("bar must clamp, got %q", got)
	}
}

func TestRenderTTYMarksFailedSegment(t *testing.T) {
	out := renderTTY(Stats{Name: "x", Segments: []SegmentStats{{ID: 0, State: "FAILED"}}})
	if !strings.Contains(out, colorRed) || !strings.Contains(out, "FAILED") {
		t.Fatalf("expected failed segment in red, got %q", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRenderPlainWritesFinalLine(t *testing.T) {
	var out syncBuffer
	tr := NewTracker("a.txt", []int64{10})
	stop := renderPlain(context.Background(), &out, tr.Snapshot, 5*time.Millisecond)
	tr.Advance(0, 10)
	time.Sleep(20 * time.Millisecond)
	stop()
	stop()

	if !strings.Contains(out.String(), "percent=100.00") {
		t.Fatalf("expected final 100%% line, got %q", out.String())
	}
}

func TestRenderOff(t *testing.T) {
	var out syncBuffer
	stop := Render(context.Background(), &out, ModeOff, func() Stats { return Stats{} })
	stop()
	if out.String() != "" {
		t.Fatalf("expected no output, got %q", out.String())
	}
}
