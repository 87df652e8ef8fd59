// Package notify builds and fans out user notifications: the scheduled
// streak reminders, the daily broken-streak check, and the two delivery
// channels they write to.
package notify

import (
	"context"
	"time"
)

// Metadata accompanies a push delivery so the web client can render the
// notification without another round trip.
type Metadata struct {
	NotificationID uint      `json:"notification_id"`
	Type           string    `json:"notification_type"`
	CreatedAt      time.Time `json:"created_at"`
	RelatedHabitID *uint     `json:"related_habit_id,omitempty"`
}

// PushChannel is the in-browser live channel. Implementations must respect
// the context deadline; a failed or timed-out send is recorded on the
// notification row, never escalated.
type PushChannel interface {
	Send(ctx context.Context, userID uint, message string, meta Metadata) error
}

// ChatChannel is the third-party chat transport keyed by external chat
// identity. Same failure contract as PushChannel.
type ChatChannel interface {
	Send(ctx context.Context, telegramID, message string) error
}

// DeliveryPrefs is the per-user routing decision input: which channels are
// enabled and where the chat channel points.
type DeliveryPrefs struct {
	PushEnabled bool
	ChatEnabled bool // chat link active AND chat notifications enabled
	TelegramID  string
}
