// Package schedule decides when the recurring reminder jobs do real work.
// The window classifier is pure: it maps an instant to (inside the active
// notification period?, which minutes-before-day-end bucket matches?) so
// the dispatcher tick can be a cheap no-op on every other invocation.
package schedule

import (
	"fmt"
	"math"
	"time"
)

const minutesPerDay = 24 * 60

// Bucket is one configured "minutes before day-end" reminder offset.
type Bucket struct {
	OffsetMin int
}

// Label renders the bucket for human-facing message text, e.g. "30 minutes".
func (b Bucket) Label() string {
	if b.OffsetMin >= 60 && b.OffsetMin%60 == 0 {
		h := b.OffsetMin / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", b.OffsetMin)
}

// Key is the compact bucket identifier used in idempotency keys, e.g. "30m".
func (b Bucket) Key() string {
	return fmt.Sprintf("%dm", b.OffsetMin)
}

// Decision is the outcome of classifying one instant.
type Decision struct {
	Active  bool // inside the active notification period
	Matched bool // exactly one bucket is within tolerance
	Bucket  Bucket
}

// Window classifies instants against a configured active period and bucket
// list. Offsets must be strictly descending and spaced more than twice the
// tolerance apart (validated at configuration load), which guarantees at
// most one bucket matches any instant.
type Window struct {
	startMin  int // active period start, minutes since midnight
	endMin    int // active period end, may be numerically before start (wraps midnight)
	offsets   []int
	tolerance float64
}

// NewWindow builds a classifier from clock minutes and offsets. Inputs are
// assumed validated by config.ValidateReminderWindow.
func NewWindow(startMin, endMin int, offsetsMin []int, toleranceMin float64) *Window {
	offsets := make([]int, len(offsetsMin))
	copy(offsets, offsetsMin)
	return &Window{
		startMin:  startMin,
		endMin:    endMin,
		offsets:   offsets,
		tolerance: toleranceMin,
	}
}

// Classify maps an instant to a decision. It performs no I/O.
func (w *Window) Classify(now time.Time) Decision {
	clock := float64(now.Hour()*60+now.Minute()) + float64(now.Second())/60

	if !w.inActivePeriod(clock) {
		return Decision{}
	}

	d := Decision{Active: true}
	untilDayEnd := minutesPerDay - clock
	for _, off := range w.offsets {
		if math.Abs(untilDayEnd-float64(off)) <= w.tolerance {
			d.Matched = true
			d.Bucket = Bucket{OffsetMin: off}
			break
		}
	}
	return d
}

func (w *Window) inActivePeriod(clock float64) bool {
	start, end := float64(w.startMin), float64(w.endMin)
	if start <= end {
		return clock >= start && clock <= end
	}
	// period wraps midnight, e.g. 21:00 through 00:05
	return clock >= start || clock <= end
}
