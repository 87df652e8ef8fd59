// Package activity maintains the rolling weekly per-day activity counters
// shown on user dashboards. Rollover to a new week is lazy: any read or
// write first resets a row whose week_start predates the current week's
// Monday. A weekly sweep applies the same rollover to dormant users.
package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
)

// Labels are the chart labels matching the Monday-first counter order.
var Labels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Store persists weekly activity rows. Reset and IncrementDay must be
// atomic against concurrent writers (conditional update / counter
// expression, not read-then-write). Implemented by storage.Store.
type Store interface {
	// GetOrCreate fetches the user's row, creating a zeroed one at the
	// given week start when absent.
	GetOrCreate(ctx context.Context, userID uint, weekStart time.Time) (*models.WeeklyActivity, error)
	// ResetWeek zeroes all counters and advances week_start, guarded so a
	// concurrent reset to the same week applies once.
	ResetWeek(ctx context.Context, id uint, weekStart time.Time) error
	// IncrementDay atomically adds amount to one day counter and the total.
	IncrementDay(ctx context.Context, id uint, dayIdx, amount int) error
	// StaleIDs lists rows whose week_start is before the given Monday.
	StaleIDs(ctx context.Context, before time.Time) ([]uint, error)
}

// Snapshot is the read view returned to statistics consumers.
type Snapshot struct {
	Days      [7]int    `json:"weekly_data"`
	Total     int       `json:"total_activities"`
	WeekStart time.Time `json:"week_start"`
	Labels    [7]string `json:"labels"`
}

// Tracker is the activity aggregator.
type Tracker struct {
	store Store
	log   *zap.SugaredLogger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Record increments the day counter for the instant's weekday, rolling the
// row over first when it belongs to an earlier week. amount values below 1
// count as 1.
func (t *Tracker) Record(ctx context.Context, userID uint, now time.Time, amount int) error {
	if amount < 1 {
		amount = 1
	}
	row, err := t.rolledOver(ctx, userID, now)
	if err != nil {
		return err
	}
	return t.store.IncrementDay(ctx, row.ID, models.WeekdayIndex(now.Weekday()), amount)
}

// CurrentWeek returns the rolled-over snapshot for a user, creating a
// zeroed row when none exists.
func (t *Tracker) CurrentWeek(ctx context.Context, userID uint, now time.Time) (Snapshot, error) {
	row, err := t.rolledOver(ctx, userID, now)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Days:      row.Days(),
		Total:     row.Total,
		WeekStart: models.DateOf(row.WeekStart),
		Labels:    Labels,
	}, nil
}

// SweepRollover resets every stale row so dashboards of dormant users also
// reflect the new week. Invoked by the weekly scheduled job. Returns the
// number of rows rolled over.
func (t *Tracker) SweepRollover(ctx context.Context, now time.Time) (int, error) {
	monday := models.MondayOf(now)
	ids, err := t.store.StaleIDs(ctx, monday)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, id := range ids {
		if err := t.store.ResetWeek(ctx, id, monday); err != nil {
			t.log.Warnf("weekly rollover failed for activity row %d: %v", id, err)
			continue
		}
		reset++
	}
	return reset, nil
}

func (t *Tracker) rolledOver(ctx context.Context, userID uint, now time.Time) (*models.WeeklyActivity, error) {
	monday := models.MondayOf(now)
	row, err := t.store.GetOrCreate(ctx, userID, monday)
	if err != nil {
		return nil, err
	}
	if row.Stale(now) {
		if err := t.store.ResetWeek(ctx, row.ID, monday); err != nil {
			return nil, err
		}
		row.Reset(monday)
	}
	return row, nil
}
