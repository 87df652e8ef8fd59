package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account holder. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email        string         `gorm:"size:255" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	PushEnabled  bool           `gorm:"default:true" json:"push_enabled"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Habits       []Habit        `json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// TelegramProfile links a user to a chat identity and holds their
// per-channel delivery preferences.
type TelegramProfile struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	UserID               uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	TelegramID           string    `gorm:"size:50;index" json:"telegram_id"`
	Connected            bool      `gorm:"default:false" json:"connected"`
	NotificationsEnabled bool      `gorm:"default:true" json:"notifications_enabled"`
	TwoFactorEnabled     bool      `gorm:"default:false" json:"two_factor_enabled"`
	BindCode             string    `gorm:"size:6" json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ChatDeliverable reports whether the chat channel may be used for this profile.
func (p *TelegramProfile) ChatDeliverable() bool {
	return p.Connected && p.NotificationsEnabled && p.TelegramID != ""
}
