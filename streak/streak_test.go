package streak

import (
	"context"
	"testing"
	"time"

	"github.com/taskforge/taskforge/models"
)

type fakeStore struct {
	// completed check-in dates keyed by day (local midnight)
	checkins map[time.Time]bool // value = completed flag

	updatedStreak int
	updatedLast   *time.Time
	updated       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{checkins: map[time.Time]bool{}}
}

func (f *fakeStore) add(date time.Time, completed bool) {
	f.checkins[models.DateOf(date)] = completed
}

func (f *fakeStore) CheckinOn(_ context.Context, _ uint, date time.Time) (*models.HabitCheckin, error) {
	completed, ok := f.checkins[models.DateOf(date)]
	if !ok {
		return nil, nil
	}
	return &models.HabitCheckin{Date: models.DateOf(date), Completed: completed}, nil
}

func (f *fakeStore) LatestCompleted(_ context.Context, _ uint, onOrBefore time.Time) (*models.HabitCheckin, error) {
	limit := models.DateOf(onOrBefore)
	var best *models.HabitCheckin
	for day, completed := range f.checkins {
		if !completed || day.After(limit) {
			continue
		}
		if best == nil || day.After(best.Date) {
			best = &models.HabitCheckin{Date: day, Completed: true}
		}
	}
	return best, nil
}

func (f *fakeStore) CompletedCount(_ context.Context, _ uint, from, to time.Time) (int, error) {
	n := 0
	for day, completed := range f.checkins {
		if completed && !day.Before(from) && !day.After(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateStreak(_ context.Context, _ uint, streakDays int, lastCheckin *time.Time) error {
	f.updated = true
	f.updatedStreak = streakDays
	f.updatedLast = lastCheckin
	return nil
}

func day(offset int) time.Time {
	base := time.Date(2025, 6, 20, 0, 0, 0, 0, time.Local)
	return base.AddDate(0, 0, offset)
}

func TestIsDoneToday(t *testing.T) {
	store := newFakeStore()
	store.add(day(0), true)
	store.add(day(-1), false)
	engine := NewEngine(store)

	done, err := engine.IsDoneToday(context.Background(), 1, day(0))
	if err != nil || !done {
		t.Errorf("IsDoneToday(today) = %v, %v, want true, nil", done, err)
	}

	done, err = engine.IsDoneToday(context.Background(), 1, day(-1))
	if err != nil || done {
		t.Errorf("IsDoneToday(incomplete day) = %v, %v, want false, nil", done, err)
	}

	done, err = engine.IsDoneToday(context.Background(), 1, day(-2))
	if err != nil || done {
		t.Errorf("IsDoneToday(no record) = %v, %v, want false, nil", done, err)
	}
}

func TestCurrentStreakUsesStoredCounter(t *testing.T) {
	engine := NewEngine(newFakeStore())
	habit := &models.Habit{StreakDays: 7}
	if got := engine.CurrentStreak(habit); got != 7 {
		t.Errorf("CurrentStreak = %d, want 7", got)
	}
}

func TestCompletionRate(t *testing.T) {
	store := newFakeStore()
	// 3 completed days inside a 7-day window ending today
	store.add(day(0), true)
	store.add(day(-2), true)
	store.add(day(-4), true)
	store.add(day(-3), false)
	store.add(day(-10), true) // outside the window
	engine := NewEngine(store)

	rate, err := engine.CompletionRate(context.Background(), 1, day(0), 7)
	if err != nil {
		t.Fatalf("CompletionRate: %v", err)
	}
	want := 3.0 / 7.0 * 100
	if rate < want-0.01 || rate > want+0.01 {
		t.Errorf("CompletionRate = %v, want %v", rate, want)
	}
}

func TestCompletionRateEmptyHistory(t *testing.T) {
	engine := NewEngine(newFakeStore())
	rate, err := engine.CompletionRate(context.Background(), 1, day(0), 30)
	if err != nil || rate != 0 {
		t.Errorf("CompletionRate(no history) = %v, %v, want 0, nil", rate, err)
	}
}

func TestRecomputeWalksBackward(t *testing.T) {
	store := newFakeStore()
	// 5 consecutive completed days ending yesterday, gap before them
	for i := 1; i <= 5; i++ {
		store.add(day(-i), true)
	}
	store.add(day(-7), true)
	engine := NewEngine(store)

	if err := engine.Recompute(context.Background(), 1, day(-1)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if !store.updated {
		t.Fatal("Recompute did not persist")
	}
	if store.updatedStreak != 5 {
		t.Errorf("recomputed streak = %d, want 5", store.updatedStreak)
	}
	if store.updatedLast == nil || !store.updatedLast.Equal(day(-1)) {
		t.Errorf("recomputed last_checkin = %v, want %v", store.updatedLast, day(-1))
	}
}

func TestRecomputeStopsAtIncompleteDay(t *testing.T) {
	store := newFakeStore()
	store.add(day(-1), true)
	store.add(day(-2), false) // breaks the chain
	store.add(day(-3), true)
	engine := NewEngine(store)

	if err := engine.Recompute(context.Background(), 1, day(-1)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if store.updatedStreak != 1 {
		t.Errorf("recomputed streak = %d, want 1", store.updatedStreak)
	}
}

func TestRecomputeNoHistoryResetsToZero(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store)

	if err := engine.Recompute(context.Background(), 1, day(0)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if store.updatedStreak != 0 || store.updatedLast != nil {
		t.Errorf("recompute of empty history = (%d, %v), want (0, nil)", store.updatedStreak, store.updatedLast)
	}
}

func TestRecomputeUncheckEarlyDayKeepsLaterRun(t *testing.T) {
	store := newFakeStore()
	// three completed days; the user un-checks the earliest one, leaving
	// an unbroken two-day run that ends on the most recent day
	store.add(day(-2), false)
	store.add(day(-1), true)
	store.add(day(0), true)
	engine := NewEngine(store)

	if err := engine.Recompute(context.Background(), 1, day(-2)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if store.updatedStreak != 2 {
		t.Errorf("recomputed streak = %d, want 2", store.updatedStreak)
	}
	if store.updatedLast == nil || !store.updatedLast.Equal(day(0)) {
		t.Errorf("recomputed last_checkin = %v, want %v", store.updatedLast, day(0))
	}
}

func TestRecomputeAfterUntoggleOfLatestDay(t *testing.T) {
	store := newFakeStore()
	// the user un-checked yesterday; the remaining chain ends two days ago
	store.add(day(-1), false)
	store.add(day(-2), true)
	store.add(day(-3), true)
	engine := NewEngine(store)

	if err := engine.Recompute(context.Background(), 1, day(-1)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if store.updatedStreak != 2 {
		t.Errorf("recomputed streak = %d, want 2", store.updatedStreak)
	}
	if store.updatedLast == nil || !store.updatedLast.Equal(day(-2)) {
		t.Errorf("recomputed last_checkin = %v, want %v", store.updatedLast, day(-2))
	}
}
