// Package streak computes habit streaks and completion rates from check-in
// history. The stored streak counter on the habit row is authoritative on
// the hot path; Recompute re-derives it from history when a historical
// check-in is toggled.
package streak

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/models"
)

// Store is the check-in history the engine reads and the habit counters it
// maintains. Implemented by storage.Store; tests use in-memory fakes.
type Store interface {
	// CheckinOn returns the check-in for (habit, date), or nil when absent.
	CheckinOn(ctx context.Context, habitID uint, date time.Time) (*models.HabitCheckin, error)
	// LatestCompleted returns the most recent completed check-in on or
	// before the given date, or nil when none exists.
	LatestCompleted(ctx context.Context, habitID uint, onOrBefore time.Time) (*models.HabitCheckin, error)
	// CompletedCount counts completed check-ins in [from, to] inclusive.
	CompletedCount(ctx context.Context, habitID uint, from, to time.Time) (int, error)
	// UpdateStreak persists the recomputed counter and last check-in date.
	UpdateStreak(ctx context.Context, habitID uint, streakDays int, lastCheckin *time.Time) error
}

// Engine answers streak questions for the dispatcher and keeps the stored
// counters consistent after historical edits.
type Engine struct {
	store Store
}

// NewEngine creates an engine over the given history store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// IsDoneToday reports whether a completed check-in exists for the habit on
// the given day.
func (e *Engine) IsDoneToday(ctx context.Context, habitID uint, today time.Time) (bool, error) {
	c, err := e.store.CheckinOn(ctx, habitID, models.DateOf(today))
	if err != nil {
		return false, err
	}
	return c != nil && c.Completed, nil
}

// CurrentStreak returns the stored streak counter. It is not recomputed
// from history here: the write path maintains it, and Recompute repairs it
// after historical edits.
func (e *Engine) CurrentStreak(habit *models.Habit) int {
	return habit.StreakDays
}

// CompletionRate returns the percentage of days in the trailing window
// (ending today, inclusive) with a completed check-in. A habit with no
// history yields 0, not an error.
func (e *Engine) CompletionRate(ctx context.Context, habitID uint, today time.Time, windowDays int) (float64, error) {
	if windowDays <= 0 {
		return 0, nil
	}
	end := models.DateOf(today)
	start := end.AddDate(0, 0, -(windowDays - 1))
	n, err := e.store.CompletedCount(ctx, habitID, start, end)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(windowDays) * 100, nil
}

// Recompute re-derives streak_days and last_checkin after a historical
// check-in was toggled: it finds the habit's latest completed check-in,
// then walks backward day-by-day while consecutive completed check-ins
// exist, and persists the result. The search is anchored at the later of
// the toggled day and today, so unchecking an early day of a run still
// sees the completed days after it.
func (e *Engine) Recompute(ctx context.Context, habitID uint, toggled time.Time) error {
	anchor := models.DateOf(toggled)
	if today := models.DateOf(time.Now()); today.After(anchor) {
		anchor = today
	}
	latest, err := e.store.LatestCompleted(ctx, habitID, anchor)
	if err != nil {
		return err
	}
	if latest == nil {
		return e.store.UpdateStreak(ctx, habitID, 0, nil)
	}

	last := models.DateOf(latest.Date)
	count := 1
	for day := last.AddDate(0, 0, -1); ; day = day.AddDate(0, 0, -1) {
		c, err := e.store.CheckinOn(ctx, habitID, day)
		if err != nil {
			return err
		}
		if c == nil || !c.Completed {
			break
		}
		count++
	}

	return e.store.UpdateStreak(ctx, habitID, count, &last)
}
