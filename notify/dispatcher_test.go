package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/schedule"
	"github.com/taskforge/taskforge/streak"
)

type fakeDispatchStore struct {
	mu sync.Mutex

	users  []uint
	habits map[uint][]models.Habit
	broken []models.Habit
	prefs  map[uint]DeliveryPrefs

	created     []*models.Notification
	keys        map[string]bool
	webSent     map[uint]bool
	chatSent    map[uint]bool
	failUsers   int
	failCreates int
	nextID      uint
}

func newDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{
		habits:   map[uint][]models.Habit{},
		prefs:    map[uint]DeliveryPrefs{},
		keys:     map[string]bool{},
		webSent:  map[uint]bool{},
		chatSent: map[uint]bool{},
		nextID:   1,
	}
}

func (f *fakeDispatchStore) UsersWithActiveHabits(context.Context) ([]uint, error) {
	if f.failUsers > 0 {
		f.failUsers--
		return nil, errors.New("db gone")
	}
	return f.users, nil
}

func (f *fakeDispatchStore) ActiveHabits(_ context.Context, userID uint) ([]models.Habit, error) {
	return f.habits[userID], nil
}

func (f *fakeDispatchStore) BrokenStreakHabits(context.Context, time.Time) ([]models.Habit, error) {
	return f.broken, nil
}

func (f *fakeDispatchStore) DeliveryPrefs(_ context.Context, userID uint) (DeliveryPrefs, error) {
	return f.prefs[userID], nil
}

func (f *fakeDispatchStore) CreateNotification(_ context.Context, n *models.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates > 0 {
		f.failCreates--
		return false, errors.New("deadlock, retry")
	}
	if n.DedupeKey != nil {
		if f.keys[*n.DedupeKey] {
			return false, nil
		}
		f.keys[*n.DedupeKey] = true
	}
	n.ID = f.nextID
	f.nextID++
	f.created = append(f.created, n)
	return true, nil
}

func (f *fakeDispatchStore) MarkWebSent(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webSent[id] = true
	return nil
}

func (f *fakeDispatchStore) MarkTelegramSent(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatSent[id] = true
	return nil
}

// fakeHistory implements streak.Store; only CheckinOn matters here.
type fakeHistory struct {
	done map[uint]map[string]bool // habit id -> day -> completed
}

func (f *fakeHistory) CheckinOn(_ context.Context, habitID uint, date time.Time) (*models.HabitCheckin, error) {
	if f.done[habitID][date.Format("2006-01-02")] {
		return &models.HabitCheckin{HabitID: habitID, Date: date, Completed: true}, nil
	}
	return nil, nil
}

func (f *fakeHistory) LatestCompleted(context.Context, uint, time.Time) (*models.HabitCheckin, error) {
	return nil, nil
}

func (f *fakeHistory) CompletedCount(context.Context, uint, time.Time, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeHistory) UpdateStreak(context.Context, uint, int, *time.Time) error { return nil }

type fakePush struct {
	mu    sync.Mutex
	sends int
	fail  bool
}

func (p *fakePush) Send(context.Context, uint, string, Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("no socket")
	}
	p.sends++
	return nil
}

type fakeChat struct {
	mu    sync.Mutex
	sends int
	fail  bool
}

func (c *fakeChat) Send(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("api down")
	}
	c.sends++
	return nil
}

// fiveMinTick is an instant inside the active period exactly five minutes
// before day-end, so the 5-minute bucket matches.
var fiveMinTick = time.Date(2026, 3, 4, 23, 55, 0, 0, time.UTC)

func testWindow() *schedule.Window {
	return schedule.NewWindow(21*60, 5, []int{120, 60, 30, 15, 5}, 2.5)
}

func newTestDispatcher(store *fakeDispatchStore, hist *fakeHistory, push *fakePush, chat *fakeChat, now time.Time) *Dispatcher {
	return NewDispatcher(store, streak.NewEngine(hist), testWindow(), push, chat, zap.NewNop().Sugar(), Options{
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		Now:           func() time.Time { return now },
	})
}

func TestTickOutsideWindowDoesNothing(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{{ID: 10, UserID: 1, Name: "Run"}}
	d := newTestDispatcher(store, &fakeHistory{}, &fakePush{}, &fakeChat{}, time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("notifications = %d, want 0 outside active period", len(store.created))
	}
}

func TestTickSkipsUsersWithNothingOutstanding(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{{ID: 10, UserID: 1, Name: "Run", StreakDays: 4}}
	hist := &fakeHistory{done: map[uint]map[string]bool{10: {"2026-03-04": true}}}
	d := newTestDispatcher(store, hist, &fakePush{}, &fakeChat{}, fiveMinTick)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("notifications = %d, want 0 when everything is checked in", len(store.created))
	}
}

func TestTickOneReminderPerUser(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1, 2}
	store.habits[1] = []models.Habit{
		{ID: 10, UserID: 1, Name: "Run", StreakDays: 4},
		{ID: 11, UserID: 1, Name: "Read", StreakDays: 2},
	}
	store.habits[2] = []models.Habit{{ID: 20, UserID: 2, Name: "Meditate"}}
	store.prefs[1] = DeliveryPrefs{PushEnabled: true, ChatEnabled: true, TelegramID: "100"}
	store.prefs[2] = DeliveryPrefs{PushEnabled: true}
	push := &fakePush{}
	chat := &fakeChat{}
	d := newTestDispatcher(store, &fakeHistory{}, push, chat, fiveMinTick)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(store.created) != 2 {
		t.Fatalf("notifications = %d, want one per user", len(store.created))
	}
	wantKeys := map[string]bool{"1:5m:2026-03-04": true, "2:5m:2026-03-04": true}
	for _, n := range store.created {
		if n.NotificationType != models.NotificationStreakReminder {
			t.Errorf("type = %q, want streak_reminder", n.NotificationType)
		}
		if n.DedupeKey == nil || !wantKeys[*n.DedupeKey] {
			t.Errorf("unexpected dedupe key %v", n.DedupeKey)
		}
		if n.ScheduledTime == nil || !n.ScheduledTime.Equal(fiveMinTick) {
			t.Errorf("scheduled time = %v, want tick instant", n.ScheduledTime)
		}
	}
	if push.sends != 2 {
		t.Errorf("push sends = %d, want 2", push.sends)
	}
	if chat.sends != 1 {
		t.Errorf("chat sends = %d, want 1 (only user 1 has chat enabled)", chat.sends)
	}
}

func TestTickDuplicateFireSuppressed(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{{ID: 10, UserID: 1, Name: "Run"}}
	store.prefs[1] = DeliveryPrefs{PushEnabled: true}
	push := &fakePush{}
	d := newTestDispatcher(store, &fakeHistory{}, push, &fakeChat{}, fiveMinTick)

	for i := 0; i < 2; i++ {
		if err := d.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if len(store.created) != 1 {
		t.Fatalf("notifications = %d, want 1 after double fire", len(store.created))
	}
	if push.sends != 1 {
		t.Errorf("push sends = %d, want 1; suppressed duplicate must not redeliver", push.sends)
	}
}

func TestSingularMessageForOnlyOutstandingHabit(t *testing.T) {
	// two active habits, the streaked one already done today: the reminder
	// must use the singular streak-naive phrasing for the remaining habit
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{
		{ID: 10, UserID: 1, Name: "Run", StreakDays: 10},
		{ID: 11, UserID: 1, Name: "Read", StreakDays: 0},
	}
	hist := &fakeHistory{done: map[uint]map[string]bool{10: {"2026-03-04": true}}}
	d := newTestDispatcher(store, hist, &fakePush{}, &fakeChat{}, fiveMinTick)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("notifications = %d, want 1", len(store.created))
	}
	n := store.created[0]
	if !strings.Contains(n.Message, `"Read"`) || strings.Contains(n.Message, "streak") {
		t.Errorf("message = %q, want singular streak-naive phrasing for Read", n.Message)
	}
	if n.RelatedHabitID == nil || *n.RelatedHabitID != 11 {
		t.Errorf("related habit = %v, want 11", n.RelatedHabitID)
	}
}

func TestDeliverRecordsPartialFailure(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{{ID: 10, UserID: 1, Name: "Run"}}
	store.prefs[1] = DeliveryPrefs{PushEnabled: true, ChatEnabled: true, TelegramID: "100"}
	chat := &fakeChat{fail: true}
	d := newTestDispatcher(store, &fakeHistory{}, &fakePush{}, chat, fiveMinTick)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("notifications = %d, want 1; a failed channel must not drop the row", len(store.created))
	}
	id := store.created[0].ID
	if !store.webSent[id] {
		t.Error("web_sent not recorded for the successful channel")
	}
	if store.chatSent[id] {
		t.Error("telegram_sent recorded despite chat failure")
	}
}

func TestBrokenStreakCheckOnePerUser(t *testing.T) {
	store := newDispatchStore()
	store.broken = []models.Habit{
		{ID: 10, UserID: 1, Name: "Run", StreakDays: 7},
		{ID: 11, UserID: 1, Name: "Read", StreakDays: 3},
		{ID: 20, UserID: 2, Name: "Meditate", StreakDays: 30},
	}
	store.prefs[1] = DeliveryPrefs{PushEnabled: true}
	store.prefs[2] = DeliveryPrefs{PushEnabled: true}
	// noon: the broken-streak job ignores the reminder window
	noon := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(store, &fakeHistory{}, &fakePush{}, &fakeChat{}, noon)

	if err := d.BrokenStreakCheck(context.Background()); err != nil {
		t.Fatalf("BrokenStreakCheck: %v", err)
	}

	if len(store.created) != 2 {
		t.Fatalf("notifications = %d, want one per affected user", len(store.created))
	}
	byUser := map[uint]*models.Notification{}
	for _, n := range store.created {
		byUser[n.UserID] = n
	}
	if n := byUser[1]; n == nil || *n.DedupeKey != "1:broken:2026-03-05" {
		t.Errorf("user 1 notification = %+v", n)
	} else if n.RelatedHabitID != nil {
		t.Error("multi-habit broken notification should not name a single habit")
	}
	if n := byUser[2]; n == nil || n.RelatedHabitID == nil || *n.RelatedHabitID != 20 {
		t.Errorf("user 2 notification = %+v", n)
	}

	// a rerun the same day is absorbed by the dedupe key
	if err := d.BrokenStreakCheck(context.Background()); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(store.created) != 2 {
		t.Errorf("notifications after rerun = %d, want 2", len(store.created))
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	store := newDispatchStore()
	store.users = []uint{1}
	store.habits[1] = []models.Habit{{ID: 10, UserID: 1, Name: "Run"}}
	store.failCreates = 2 // two transient failures, third attempt lands
	d := newTestDispatcher(store, &fakeHistory{}, &fakePush{}, &fakeChat{}, fiveMinTick)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.created) != 1 {
		t.Errorf("notifications = %d, want 1 after retries", len(store.created))
	}
}

func TestRetryExhaustionSurfacesError(t *testing.T) {
	store := newDispatchStore()
	store.failUsers = 3 // every attempt fails
	d := newTestDispatcher(store, &fakeHistory{}, &fakePush{}, &fakeChat{}, fiveMinTick)

	if err := d.Tick(context.Background()); err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
}
