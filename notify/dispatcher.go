package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/schedule"
	"github.com/taskforge/taskforge/streak"
)

// Store is the datastore surface the dispatcher needs. Implemented by
// storage.Store; tests use in-memory fakes.
type Store interface {
	// UsersWithActiveHabits enumerates ids of users owning at least one
	// active habit.
	UsersWithActiveHabits(ctx context.Context) ([]uint, error)
	// ActiveHabits lists a user's active habits.
	ActiveHabits(ctx context.Context, userID uint) ([]models.Habit, error)
	// BrokenStreakHabits lists active habits with a positive streak whose
	// last check-in is strictly older than the day before the given day.
	BrokenStreakHabits(ctx context.Context, today time.Time) ([]models.Habit, error)
	// DeliveryPrefs resolves a user's channel routing preferences.
	DeliveryPrefs(ctx context.Context, userID uint) (DeliveryPrefs, error)
	// CreateNotification inserts the row; returns false without error when
	// the dedupe key already exists (insert-or-ignore).
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	// MarkWebSent / MarkTelegramSent flip one delivery flag.
	MarkWebSent(ctx context.Context, id uint) error
	MarkTelegramSent(ctx context.Context, id uint) error
}

// Dispatcher runs the scheduled notification jobs. It holds no state
// between invocations: each tick is a pure function of the current instant
// and the datastore snapshot.
type Dispatcher struct {
	store   Store
	streaks *streak.Engine
	window  *schedule.Window
	push    PushChannel
	chat    ChatChannel
	compose *Composer
	log     *zap.SugaredLogger

	retryAttempts   int
	retryBackoff    time.Duration
	deliveryTimeout time.Duration

	now func() time.Time
}

// Options configures dispatcher retry and delivery bounds.
type Options struct {
	RetryAttempts   int
	RetryBackoff    time.Duration
	DeliveryTimeout time.Duration
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewDispatcher wires the dispatcher. Channels may be nil in tests.
func NewDispatcher(store Store, streaks *streak.Engine, window *schedule.Window, push PushChannel, chat ChatChannel, log *zap.SugaredLogger, opts Options) *Dispatcher {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		store:           store,
		streaks:         streaks,
		window:          window,
		push:            push,
		chat:            chat,
		compose:         NewComposer(),
		log:             log,
		retryAttempts:   opts.RetryAttempts,
		retryBackoff:    opts.RetryBackoff,
		deliveryTimeout: opts.DeliveryTimeout,
		now:             opts.Now,
	}
}

// Tick is the recurring reminder job. Outside the active period, or when
// no bucket matches, it returns immediately; real work happens only a
// handful of instants per day. For each user with outstanding habits it
// persists exactly one reminder and fans it out to both channels.
func (d *Dispatcher) Tick(ctx context.Context) error {
	now := d.now()
	dec := d.window.Classify(now)
	if !dec.Active || !dec.Matched {
		return nil
	}

	var users []uint
	err := d.withRetry(ctx, "enumerate users", func() error {
		var e error
		users, e = d.store.UsersWithActiveHabits(ctx)
		return e
	})
	if err != nil {
		return err
	}

	day := now.Format("2006-01-02")
	for _, userID := range users {
		if err := d.remindUser(ctx, userID, dec.Bucket, day, now); err != nil {
			// one user's failure never aborts the rest of the run
			d.log.Errorf("reminder for user %d failed: %v", userID, err)
		}
	}
	return nil
}

func (d *Dispatcher) remindUser(ctx context.Context, userID uint, bucket schedule.Bucket, day string, now time.Time) error {
	var habits []models.Habit
	err := d.withRetry(ctx, "load habits", func() error {
		var e error
		habits, e = d.store.ActiveHabits(ctx, userID)
		return e
	})
	if err != nil {
		return err
	}

	var outstanding []models.Habit
	for _, h := range habits {
		done, err := d.streaks.IsDoneToday(ctx, h.ID, now)
		if err != nil {
			return err
		}
		if !done {
			outstanding = append(outstanding, h)
		}
	}
	if len(outstanding) == 0 {
		return nil
	}

	key := fmt.Sprintf("%d:%s:%s", userID, bucket.Key(), day)
	scheduled := now
	n := &models.Notification{
		UserID:           userID,
		Message:          d.compose.Reminder(outstanding, bucket),
		NotificationType: models.NotificationStreakReminder,
		ScheduledTime:    &scheduled,
		DedupeKey:        &key,
	}
	if len(outstanding) == 1 {
		n.RelatedHabitID = &outstanding[0].ID
	}

	var created bool
	err = d.withRetry(ctx, "persist notification", func() error {
		var e error
		created, e = d.store.CreateNotification(ctx, n)
		return e
	})
	if err != nil {
		return err
	}
	if !created {
		// double-fired tick; the unique key already absorbed it
		d.log.Debugf("duplicate reminder suppressed for user %d key %s", userID, key)
		return nil
	}

	d.Deliver(ctx, n)
	return nil
}

// BrokenStreakCheck is the unconditional daily job run near day-rollover.
// It emits one notification per user whose positive streaks lapsed (last
// check-in strictly older than yesterday), through the same two-channel
// delivery path, regardless of the reminder window.
func (d *Dispatcher) BrokenStreakCheck(ctx context.Context) error {
	now := d.now()

	var habits []models.Habit
	err := d.withRetry(ctx, "load broken streaks", func() error {
		var e error
		habits, e = d.store.BrokenStreakHabits(ctx, now)
		return e
	})
	if err != nil {
		return err
	}

	byUser := map[uint][]models.Habit{}
	order := []uint{}
	for _, h := range habits {
		if _, seen := byUser[h.UserID]; !seen {
			order = append(order, h.UserID)
		}
		byUser[h.UserID] = append(byUser[h.UserID], h)
	}

	day := now.Format("2006-01-02")
	for _, userID := range order {
		lost := byUser[userID]
		key := fmt.Sprintf("%d:broken:%s", userID, day)
		n := &models.Notification{
			UserID:           userID,
			Message:          d.compose.BrokenStreak(lost),
			NotificationType: models.NotificationStreakReminder,
			DedupeKey:        &key,
		}
		if len(lost) == 1 {
			n.RelatedHabitID = &lost[0].ID
		}

		var created bool
		err := d.withRetry(ctx, "persist broken-streak notification", func() error {
			var e error
			created, e = d.store.CreateNotification(ctx, n)
			return e
		})
		if err != nil {
			d.log.Errorf("broken-streak notification for user %d failed: %v", userID, err)
			continue
		}
		if !created {
			continue
		}
		d.Deliver(ctx, n)
	}
	return nil
}

// Deliver fans a persisted notification out to both channels. The calls
// run concurrently with independent deadlines; each channel's failure is
// logged and left visible only in its sent flag. The notification row
// stays regardless of outcome.
func (d *Dispatcher) Deliver(ctx context.Context, n *models.Notification) {
	prefs, err := d.store.DeliveryPrefs(ctx, n.UserID)
	if err != nil {
		d.log.Errorf("delivery prefs for user %d: %v", n.UserID, err)
		return
	}

	var wg sync.WaitGroup

	if prefs.PushEnabled && d.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
			defer cancel()
			meta := Metadata{
				NotificationID: n.ID,
				Type:           n.NotificationType,
				CreatedAt:      n.CreatedAt,
				RelatedHabitID: n.RelatedHabitID,
			}
			if err := d.push.Send(cctx, n.UserID, n.Message, meta); err != nil {
				d.log.Warnf("push delivery failed for notification %d: %v", n.ID, err)
				return
			}
			if err := d.store.MarkWebSent(cctx, n.ID); err != nil {
				d.log.Warnf("recording web_sent for notification %d: %v", n.ID, err)
			}
		}()
	}

	if prefs.ChatEnabled && d.chat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
			defer cancel()
			if err := d.chat.Send(cctx, prefs.TelegramID, n.Message); err != nil {
				d.log.Warnf("chat delivery failed for notification %d: %v", n.ID, err)
				return
			}
			if err := d.store.MarkTelegramSent(cctx, n.ID); err != nil {
				d.log.Warnf("recording telegram_sent for notification %d: %v", n.ID, err)
			}
		}()
	}

	wg.Wait()
}

// withRetry retries transient datastore failures a bounded number of
// times with linear backoff before giving up.
func (d *Dispatcher) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= d.retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == d.retryAttempts {
			break
		}
		d.log.Warnf("%s attempt %d/%d failed: %v", op, attempt, d.retryAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.retryBackoff):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
