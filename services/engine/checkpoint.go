package engine

import (
	"time"

	"replaylab/services/signal"
)

// Checkpoint is a fixed intraday time at which the simulator verifies that
// some signal covers the preceding window. An unmet checkpoint suspends the
// loop so the caller can author one mid-run.
type Checkpoint struct {
	Label  string
	At     time.Duration // time-of-day offset from midnight
	Window time.Duration // how far back signal coverage is required
}

// DefaultCheckpoints places one check mid-morning and one mid-afternoon.
func DefaultCheckpoints() []Checkpoint {
	return []Checkpoint{
		{Label: "mid-morning", At: 10*time.Hour + 30*time.Minute, Window: 90 * time.Minute},
		{Label: "mid-afternoon", At: 14 * time.Hour, Window: 150 * time.Minute},
	}
}

// checkpointTracker remembers which checkpoints have been handled. A
// checkpoint is asked at most once per run, whether or not a signal arrives.
type checkpointTracker struct {
	points  []Checkpoint
	handled map[string]bool
}

func newCheckpointTracker(points []Checkpoint) *checkpointTracker {
	return &checkpointTracker{points: points, handled: make(map[string]bool)}
}

// unmet returns the first unhandled checkpoint the bar time has crossed for
// which no signal timestamp falls inside the preceding window.
func (t *checkpointTracker) unmet(barTime time.Time, signals []signal.Signal) *Checkpoint {
	offset := clockOffset(barTime)
	for i := range t.points {
		cp := &t.points[i]
		if t.handled[cp.Label] || offset < cp.At {
			continue
		}
		if t.covered(barTime, *cp, signals) {
			t.handled[cp.Label] = true
			continue
		}
		return cp
	}
	return nil
}

func (t *checkpointTracker) markHandled(cp Checkpoint) {
	t.handled[cp.Label] = true
}

// covered checks whether any signal is timestamped inside
// (checkpoint − window, checkpoint] on the bar's date.
func (t *checkpointTracker) covered(barTime time.Time, cp Checkpoint, signals []signal.Signal) bool {
	y, m, d := barTime.Date()
	cpTime := time.Date(y, m, d, 0, 0, 0, 0, barTime.Location()).Add(cp.At)
	windowStart := cpTime.Add(-cp.Window)
	for _, s := range signals {
		if s.Timestamp.After(windowStart) && !s.Timestamp.After(cpTime) {
			return true
		}
	}
	return false
}
