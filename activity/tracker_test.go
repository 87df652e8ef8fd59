package activity

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
)

type fakeStore struct {
	rows   map[uint]*models.WeeklyActivity
	nextID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uint]*models.WeeklyActivity{}, nextID: 1}
}

func (f *fakeStore) GetOrCreate(_ context.Context, userID uint, weekStart time.Time) (*models.WeeklyActivity, error) {
	for _, row := range f.rows {
		if row.UserID == userID {
			clone := *row
			return &clone, nil
		}
	}
	row := &models.WeeklyActivity{ID: f.nextID, UserID: userID, WeekStart: weekStart}
	f.rows[row.ID] = row
	f.nextID++
	clone := *row
	return &clone, nil
}

func (f *fakeStore) ResetWeek(_ context.Context, id uint, weekStart time.Time) error {
	if row, ok := f.rows[id]; ok && models.DateOf(row.WeekStart).Before(weekStart) {
		row.Reset(weekStart)
	}
	return nil
}

func (f *fakeStore) IncrementDay(_ context.Context, id uint, dayIdx, amount int) error {
	if row, ok := f.rows[id]; ok {
		row.Add(dayIdx, amount)
	}
	return nil
}

func (f *fakeStore) StaleIDs(_ context.Context, before time.Time) ([]uint, error) {
	var ids []uint
	for id, row := range f.rows {
		if models.DateOf(row.WeekStart).Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func testTracker() (*Tracker, *fakeStore) {
	store := newFakeStore()
	return NewTracker(store, zap.NewNop().Sugar()), store
}

// Wednesday of a fixed week.
var wednesday = time.Date(2025, 6, 18, 14, 30, 0, 0, time.Local)

func TestRecordThenSnapshotRoundTrip(t *testing.T) {
	tracker, _ := testTracker()
	ctx := context.Background()

	if err := tracker.Record(ctx, 1, wednesday, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tracker.Record(ctx, 1, wednesday, 2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	snap, err := tracker.CurrentWeek(ctx, 1, wednesday)
	if err != nil {
		t.Fatalf("CurrentWeek: %v", err)
	}
	if snap.Days[2] != 3 { // Wednesday is Monday-first index 2
		t.Errorf("Wednesday counter = %d, want 3", snap.Days[2])
	}
	if snap.Total != 3 {
		t.Errorf("Total = %d, want 3", snap.Total)
	}
	if want := models.MondayOf(wednesday); !snap.WeekStart.Equal(want) {
		t.Errorf("WeekStart = %v, want %v", snap.WeekStart, want)
	}
}

func TestSnapshotCreatesZeroRow(t *testing.T) {
	tracker, _ := testTracker()

	snap, err := tracker.CurrentWeek(context.Background(), 9, wednesday)
	if err != nil {
		t.Fatalf("CurrentWeek: %v", err)
	}
	if snap.Total != 0 {
		t.Errorf("Total = %d, want 0", snap.Total)
	}
	for i, n := range snap.Days {
		if n != 0 {
			t.Errorf("Days[%d] = %d, want 0", i, n)
		}
	}
}

func TestLazyRolloverOnRead(t *testing.T) {
	tracker, store := testTracker()
	ctx := context.Background()

	// seed a row two Mondays back with accumulated activity
	stale := &models.WeeklyActivity{ID: 1, UserID: 1, WeekStart: models.MondayOf(wednesday).AddDate(0, 0, -14)}
	stale.Add(0, 5)
	stale.Add(4, 2)
	store.rows[1] = stale
	store.nextID = 2

	snap, err := tracker.CurrentWeek(ctx, 1, wednesday)
	if err != nil {
		t.Fatalf("CurrentWeek: %v", err)
	}
	if snap.Total != 0 {
		t.Errorf("Total after rollover = %d, want 0", snap.Total)
	}
	if want := models.MondayOf(wednesday); !snap.WeekStart.Equal(want) {
		t.Errorf("WeekStart after rollover = %v, want %v", snap.WeekStart, want)
	}

	sum := 0
	for _, n := range snap.Days {
		sum += n
	}
	if sum != snap.Total {
		t.Errorf("total invariant broken: sum(days) = %d, total = %d", sum, snap.Total)
	}
}

func TestLazyRolloverOnWrite(t *testing.T) {
	tracker, store := testTracker()
	ctx := context.Background()

	stale := &models.WeeklyActivity{ID: 1, UserID: 1, WeekStart: models.MondayOf(wednesday).AddDate(0, 0, -7)}
	stale.Add(6, 10) // all of last week's activity on Sunday
	store.rows[1] = stale
	store.nextID = 2

	if err := tracker.Record(ctx, 1, wednesday, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	row := store.rows[1]
	if row.Total != 1 {
		t.Errorf("Total = %d, want 1 (old week discarded, new increment applied)", row.Total)
	}
	if row.Sunday != 0 {
		t.Errorf("Sunday = %d, want 0 after rollover", row.Sunday)
	}
	if row.Wednesday != 1 {
		t.Errorf("Wednesday = %d, want 1", row.Wednesday)
	}
}

func TestSweepRolloverResetsOnlyStaleRows(t *testing.T) {
	tracker, store := testTracker()
	ctx := context.Background()

	staleRow := &models.WeeklyActivity{ID: 1, UserID: 1, WeekStart: models.MondayOf(wednesday).AddDate(0, 0, -7)}
	staleRow.Add(1, 4)
	freshRow := &models.WeeklyActivity{ID: 2, UserID: 2, WeekStart: models.MondayOf(wednesday)}
	freshRow.Add(2, 3)
	store.rows[1] = staleRow
	store.rows[2] = freshRow
	store.nextID = 3

	n, err := tracker.SweepRollover(ctx, wednesday)
	if err != nil {
		t.Fatalf("SweepRollover: %v", err)
	}
	if n != 1 {
		t.Errorf("SweepRollover reset %d rows, want 1", n)
	}
	if store.rows[1].Total != 0 {
		t.Errorf("stale row total = %d, want 0", store.rows[1].Total)
	}
	if store.rows[2].Total != 3 {
		t.Errorf("fresh row total = %d, want 3 (untouched)", store.rows[2].Total)
	}
}

func TestWeekdayIndexMapping(t *testing.T) {
	// Monday-first indices: Mon=0 .. Sun=6
	if got := models.WeekdayIndex(time.Monday); got != 0 {
		t.Errorf("WeekdayIndex(Monday) = %d, want 0", got)
	}
	if got := models.WeekdayIndex(time.Sunday); got != 6 {
		t.Errorf("WeekdayIndex(Sunday) = %d, want 6", got)
	}
	if got := models.WeekdayIndex(time.Wednesday); got != 2 {
		t.Errorf("WeekdayIndex(Wednesday) = %d, want 2", got)
	}
}
