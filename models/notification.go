package models

import "time"

// Notification type values.
const (
	NotificationGeneral         = "general"
	NotificationStreakReminder  = "streak_reminder"
	NotificationGoalReminder    = "goal_reminder"
	NotificationHabitCompletion = "habit_completion"
	NotificationAchievement     = "achievement"
)

// Notification is a message produced for a user, fanned out to the web
// push channel and the chat channel independently. The per-channel sent
// flags record delivery outcome; a failed channel never blocks the other
// one and never removes the row.
//
// DedupeKey carries the (user, bucket label, calendar day) idempotency
// key for scheduled reminders. It is empty for event-driven
// notifications; the unique index tolerates repeated NULLs.
type Notification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	Message          string     `gorm:"size:1000;not null" json:"message"`
	NotificationType string     `gorm:"size:50;default:general;index" json:"notification_type"`
	Read             bool       `gorm:"default:false;index" json:"read"`
	WebSent          bool       `gorm:"default:false" json:"web_sent"`
	TelegramSent     bool       `gorm:"default:false" json:"telegram_sent"`
	ScheduledTime    *time.Time `json:"scheduled_time"`
	RelatedHabitID   *uint      `json:"related_habit_id"`
	DedupeKey        *string    `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}
