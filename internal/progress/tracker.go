package progress

import (
	"sync"
	"time"
)

// SegmentStats is the progress of one segment.
type SegmentStats struct {
	ID      int
	Done    int64
	Total   int64
	Percent float64
	State   string
}

// Stats is a point-in-time snapshot of a transfer.
type Stats struct {
	Name      string
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
	Segments  []SegmentStats
}

type segmentProgress struct {
	total int64
	done  int64
	state string
}

// Tracker accumulates per-segment byte counts under one lock and derives an
// aggregate percentage and a smoothed rate. Counts only grow.
type Tracker struct {
	mu        sync.Mutex
	name      string
	segments  []segmentProgress
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewTracker returns a tracker for segments of the given lengths.
func NewTracker(name string, lengths []int64) *Tracker {
	return NewTrackerWithNow(name, lengths, time.Now)
}

// NewTrackerWithNow returns a tracker with a custom time source (for tests).
func NewTrackerWithNow(name string, lengths []int64, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		name:     name,
		segments: make([]segmentProgress, len(lengths)),
		alpha:    0.2,
		now:      now,
	}
	for i, n := range lengths {
		if n < 0 {
			n = 0
		}
		t.segments[i].total = n
		t.total += n
	}
	t.startedAt = now()
	t.lastAt = t.startedAt
	return t
}

// Advance credits n bytes to segment id. Credit beyond the segment's length
// is dropped so the aggregate never exceeds the total.
func (t *Tracker) Advance(id int, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.segments) {
		return
	}
	seg := &t.segments[id]
	add := int64(n)
	if room := seg.total - seg.done; add > room {
		add = room
	}
	if add <= 0 {
		return
	}
	seg.done += add
	t.done += add

	now := t.now()
	deltaTime := now.Sub(t.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(t.done-t.lastDone) / deltaTime
		if t.rateBps == 0 {
			t.rateBps = inst
		} else {
			t.rateBps = t.alpha*inst + (1-t.alpha)*t.rateBps
		}
		t.lastAt = now
		t.lastDone = t.done
	}
}

// SetState records a display state for segment id.
func (t *Tracker) SetState(id int, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.segments) {
		return
	}
	t.segments[id].state = state
}

// Done returns the aggregate number of bytes credited so far.
func (t *Tracker) Done() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Snapshot returns the current stats.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := Stats{
		Name:      t.name,
		BytesDone: t.done,
		Total:     t.total,
		RateBps:   t.rateBps,
		StartedAt: t.startedAt,
		Segments:  make([]SegmentStats, len(t.segments)),
	}
	stats.Percent = percent(t.done, t.total)
	if t.rateBps > 0 && t.total > t.done {
		stats.ETA = time.Duration(float64(t.total-t.done) / t.rateBps * float64(time.Second))
	}
	for i, seg := range t.segments {
		stats.Segments[i] = SegmentStats{
			ID:      i,
			Done:    seg.done,
			Total:   seg.total,
			Percent: percent(seg.done, seg.total),
			State:   seg.state,
		}
	}
	return stats
}

// An empty range counts as finished.
func percent(done, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
