// Package storage is the gorm-backed datastore. A single Store satisfies
// the narrow per-domain interfaces (streak.Store, activity.Store,
// notify.Store, session.Store) plus the account and notification surfaces
// the HTTP controllers and the chat bot consume.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taskforge/taskforge/activity"
	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/notify"
	"github.com/taskforge/taskforge/session"
	"github.com/taskforge/taskforge/streak"
)

// The one Store backs every domain package.
var (
	_ streak.Store   = (*Store)(nil)
	_ activity.Store = (*Store)(nil)
	_ notify.Store   = (*Store)(nil)
	_ session.Store  = (*Store)(nil)
)

// Store wraps the gorm handle. All methods honor the caller's context.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ---- accounts ----

// UserByUsername returns the account, or nil when it does not exist.
func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByID returns the account, or nil when it does not exist.
func (s *Store) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account row.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// ApplyPassword stores a new credential hash on the account.
func (s *Store) ApplyPassword(ctx context.Context, userID uint, hash string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", hash).Error
}

// SetPushEnabled flips the user's web push preference.
func (s *Store) SetPushEnabled(ctx context.Context, userID uint, enabled bool) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("push_enabled", enabled).Error
}

// ---- telegram profiles ----

// ProfileByUser returns the user's chat profile, or nil when absent.
func (s *Store) ProfileByUser(ctx context.Context, userID uint) (*models.TelegramProfile, error) {
	var p models.TelegramProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ProfileByTelegramID resolves a connected chat identity to its profile,
// or nil when no account is bound to it.
func (s *Store) ProfileByTelegramID(ctx context.Context, telegramID string) (*models.TelegramProfile, error) {
	var p models.TelegramProfile
	err := s.db.WithContext(ctx).
		Where("telegram_id = ? AND connected = ?", telegramID, true).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ProfileByBindCode resolves an outstanding bind code, or nil.
func (s *Store) ProfileByBindCode(ctx context.Context, code string) (*models.TelegramProfile, error) {
	var p models.TelegramProfile
	err := s.db.WithContext(ctx).
		Where("bind_code = ? AND connected = ?", code, false).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile fetches the user's chat profile, creating a blank one when
// absent.
func (s *Store) EnsureProfile(ctx context.Context, userID uint) (*models.TelegramProfile, error) {
	var p models.TelegramProfile
	err := s.db.WithContext(ctx).
		Where(models.TelegramProfile{UserID: userID}).
		Attrs(models.TelegramProfile{NotificationsEnabled: true}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetBindCode stages a fresh bind code on the user's profile.
func (s *Store) SetBindCode(ctx context.Context, userID uint, code string) error {
	return s.db.WithContext(ctx).Model(&models.TelegramProfile{}).
		Where("user_id = ?", userID).
		Update("bind_code", code).Error
}

// ConnectProfile completes a bind: attaches the chat identity, marks the
// link active, and clears the consumed code. Conditional on the code still
// being staged so two chats cannot claim it.
func (s *Store) ConnectProfile(ctx context.Context, profileID uint, telegramID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.TelegramProfile{}).
		Where("id = ? AND connected = ?", profileID, false).
		Updates(map[string]interface{}{
			"telegram_id": telegramID,
			"connected":   true,
			"bind_code":   "",
		})
	return res.RowsAffected == 1, res.Error
}

// DisconnectProfile severs the chat link and disables 2FA with it.
func (s *Store) DisconnectProfile(ctx context.Context, telegramID string) error {
	return s.db.WithContext(ctx).Model(&models.TelegramProfile{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			"connected":          false,
			"telegram_id":        "",
			"two_factor_enabled": false,
		}).Error
}

// SetChatNotifications toggles the chat delivery preference by chat identity.
func (s *Store) SetChatNotifications(ctx context.Context, telegramID string, enabled bool) error {
	return s.db.WithContext(ctx).Model(&models.TelegramProfile{}).
		Where("telegram_id = ?", telegramID).
		Update("notifications_enabled", enabled).Error
}

// SetTwoFactor toggles 2FA for the user. Enabling requires a connected profile.
func (s *Store) SetTwoFactor(ctx context.Context, userID uint, enabled bool) error {
	q := s.db.WithContext(ctx).Model(&models.TelegramProfile{}).
		Where("user_id = ?", userID)
	if enabled {
		q = q.Where("connected = ?", true)
	}
	res := q.Update("two_factor_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if enabled && res.RowsAffected == 0 {
		return errors.New("no connected chat profile")
	}
	return nil
}

// ---- habits and check-ins (streak.Store) ----

// HabitByID returns the habit, or nil when absent, scoped to its owner.
func (s *Store) HabitByID(ctx context.Context, userID, habitID uint) (*models.Habit, error) {
	var h models.Habit
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", habitID, userID).
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CheckinOn returns the check-in for (habit, date), or nil when absent.
func (s *Store) CheckinOn(ctx context.Context, habitID uint, date time.Time) (*models.HabitCheckin, error) {
	var c models.HabitCheckin
	err := s.db.WithContext(ctx).
		Where("habit_id = ? AND date = ?", habitID, models.DateOf(date)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestCompleted returns the most recent completed check-in on or before
// the given date, or nil when none exists.
func (s *Store) LatestCompleted(ctx context.Context, habitID uint, onOrBefore time.Time) (*models.HabitCheckin, error) {
	var c models.HabitCheckin
	err := s.db.WithContext(ctx).
		Where("habit_id = ? AND completed = ? AND date <= ?", habitID, true, models.DateOf(onOrBefore)).
		Order("date DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CompletedCount counts completed check-ins in [from, to] inclusive.
func (s *Store) CompletedCount(ctx context.Context, habitID uint, from, to time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.HabitCheckin{}).
		Where("habit_id = ? AND completed = ? AND date BETWEEN ? AND ?", habitID, true, models.DateOf(from), models.DateOf(to)).
		Count(&n).Error
	return int(n), err
}

// UpdateStreak persists the recomputed counter and last check-in date.
func (s *Store) UpdateStreak(ctx context.Context, habitID uint, streakDays int, lastCheckin *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Habit{}).
		Where("id = ?", habitID).
		Updates(map[string]interface{}{
			"streak_days":  streakDays,
			"last_checkin": lastCheckin,
		}).Error
}

// UpsertCheckin records (or overwrites) a day's completion state, keyed by
// the (habit, date) unique index.
func (s *Store) UpsertCheckin(ctx context.Context, habitID uint, date time.Time, completed bool) error {
	c := models.HabitCheckin{
		HabitID:   habitID,
		Date:      models.DateOf(date),
		Completed: completed,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed"}),
		}).
		Create(&c).Error
}

// ---- weekly activity (activity.Store) ----

// GetOrCreate fetches the user's weekly row, creating a zeroed one at the
// given week start when absent.
func (s *Store) GetOrCreate(ctx context.Context, userID uint, weekStart time.Time) (*models.WeeklyActivity, error) {
	var a models.WeeklyActivity
	err := s.db.WithContext(ctx).
		Where(models.WeeklyActivity{UserID: userID}).
		Attrs(models.WeeklyActivity{WeekStart: weekStart}).
		FirstOrCreate(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ResetWeek zeroes the counters and advances week_start. The week_start
// guard makes a concurrent double reset to the same week apply once.
func (s *Store) ResetWeek(ctx context.Context, id uint, weekStart time.Time) error {
	return s.db.WithContext(ctx).Model(&models.WeeklyActivity{}).
		Where("id = ? AND week_start < ?", id, weekStart).
		Updates(map[string]interface{}{
			"monday": 0, "tuesday": 0, "wednesday": 0, "thursday": 0,
			"friday": 0, "saturday": 0, "sunday": 0,
			"total":      0,
			"week_start": weekStart,
		}).Error
}

// IncrementDay atomically adds amount to one day counter and the total in
// a single UPDATE, so concurrent recordings never lose increments.
func (s *Store) IncrementDay(ctx context.Context, id uint, dayIdx, amount int) error {
	if dayIdx < 0 || dayIdx > 6 {
		return fmt.Errorf("day index %d out of range", dayIdx)
	}
	col := models.WeekdayColumn(dayIdx)
	return s.db.WithContext(ctx).Model(&models.WeeklyActivity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			col:     gorm.Expr(col+" + ?", amount),
			"total": gorm.Expr("total + ?", amount),
		}).Error
}

// StaleIDs lists weekly rows whose week_start is before the given Monday.
func (s *Store) StaleIDs(ctx context.Context, before time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.WeeklyActivity{}).
		Where("week_start < ?", before).
		Pluck("id", &ids).Error
	return ids, err
}

// ---- notifications (notify.Store) ----

// UsersWithActiveHabits enumerates ids of users owning at least one active habit.
func (s *Store) UsersWithActiveHabits(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Habit{}).
		Where("active = ?", true).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ActiveHabits lists a user's active habits.
func (s *Store) ActiveHabits(ctx context.Context, userID uint) ([]models.Habit, error) {
	var habits []models.Habit
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("id").
		Find(&habits).Error
	return habits, err
}

// BrokenStreakHabits lists active habits with a positive streak whose last
// check-in is strictly older than the day before the given day, ordered so
// each user's habits are contiguous.
func (s *Store) BrokenStreakHabits(ctx context.Context, today time.Time) ([]models.Habit, error) {
	yesterday := models.DateOf(today).AddDate(0, 0, -1)
	var habits []models.Habit
	err := s.db.WithContext(ctx).
		Where("active = ? AND streak_days > 0 AND last_checkin IS NOT NULL AND last_checkin < ?", true, yesterday).
		Order("user_id, id").
		Find(&habits).Error
	return habits, err
}

// DeliveryPrefs resolves the user's channel routing: web push from the
// account flag, chat from the profile's link and preference state.
func (s *Store) DeliveryPrefs(ctx context.Context, userID uint) (notify.DeliveryPrefs, error) {
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return notify.DeliveryPrefs{}, err
	}
	if u == nil {
		return notify.DeliveryPrefs{}, nil
	}
	prefs := notify.DeliveryPrefs{PushEnabled: u.PushEnabled}

	p, err := s.ProfileByUser(ctx, userID)
	if err != nil {
		return notify.DeliveryPrefs{}, err
	}
	if p != nil && p.ChatDeliverable() {
		prefs.ChatEnabled = true
		prefs.TelegramID = p.TelegramID
	}
	return prefs, nil
}

// CreateNotification inserts the row with insert-or-ignore semantics on
// the dedupe key: a duplicate reports (false, nil) instead of an error.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkWebSent records successful web push delivery.
func (s *Store) MarkWebSent(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Update("web_sent", true).Error
}

// MarkTelegramSent records successful chat delivery.
func (s *Store) MarkTelegramSent(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Update("telegram_sent", true).Error
}

// UnreadNotifications lists the user's unread notifications, newest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND `read` = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RecentNotifications lists the user's latest notifications regardless of
// read state.
func (s *Store) RecentNotifications(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotificationRead flips one notification to read, scoped to its owner.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}

// MarkAllNotificationsRead flips every unread notification for the user.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// ---- confirmation sessions (session.Store) ----

// CreateSession inserts a confirmation session row.
func (s *Store) CreateSession(ctx context.Context, cs *models.ConfirmationSession) error {
	return s.db.WithContext(ctx).Create(cs).Error
}

// DeleteUserSessions removes all sessions for (user, kind), any status.
func (s *Store) DeleteUserSessions(ctx context.Context, userID uint, kind string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Delete(&models.ConfirmationSession{}).Error
}

// LatestByUser returns the most recently created session for (user, kind),
// or nil when none exists.
func (s *Store) LatestByUser(ctx context.Context, userID uint, kind string) (*models.ConfirmationSession, error) {
	var cs models.ConfirmationSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("id DESC").
		First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// PendingByTelegramID lists pending sessions for a chat identity and kind,
// most recent first.
func (s *Store) PendingByTelegramID(ctx context.Context, telegramID, kind string) ([]models.ConfirmationSession, error) {
	var out []models.ConfirmationSession
	err := s.db.WithContext(ctx).
		Where("telegram_id = ? AND kind = ? AND status = ?", telegramID, kind, models.SessionPending).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// SessionByReference returns a chat identity's session with the given
// reference regardless of status, or nil when none exists.
func (s *Store) SessionByReference(ctx context.Context, telegramID, reference string) (*models.ConfirmationSession, error) {
	var out models.ConfirmationSession
	err := s.db.WithContext(ctx).
		Where("telegram_id = ? AND reference = ?", telegramID, reference).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition applies the compare-and-set status change: a single
// conditional UPDATE whose row count reports whether this caller won.
func (s *Store) Transition(ctx context.Context, id uint, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ConfirmationSession{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// SetStagedHash stores (or clears) the first-entry hash of the
// password-reset double-entry flow.
func (s *Store) SetStagedHash(ctx context.Context, id uint, hash string) error {
	return s.db.WithContext(ctx).Model(&models.ConfirmationSession{}).
		Where("id = ?", id).
		Update("staged_hash", hash).Error
}

// SetPromptMessageID remembers the chat prompt message for later retraction.
func (s *Store) SetPromptMessageID(ctx context.Context, id uint, messageID string) error {
	return s.db.WithContext(ctx).Model(&models.ConfirmationSession{}).
		Where("id = ?", id).
		Update("prompt_message_id", messageID).Error
}

// DeleteSession removes one session row.
func (s *Store) DeleteSession(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.ConfirmationSession{}, id).Error
}

// PendingExpiredBefore lists pending sessions whose expiry has passed.
func (s *Store) PendingExpiredBefore(ctx context.Context, now time.Time) ([]models.ConfirmationSession, error) {
	var out []models.ConfirmationSession
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.SessionPending, now).
		Find(&out).Error
	return out, err
}

// PurgeTerminal deletes terminal sessions last touched before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status <> ? AND updated_at < ?", models.SessionPending, cutoff).
		Delete(&models.ConfirmationSession{})
	return res.RowsAffected, res.Error
}
