package models

import "time"

// Confirmation session kinds.
const (
	SessionKindLogin2FA      = "login_2fa"
	SessionKindPasswordReset = "password_reset"
)

// Confirmation session statuses. pending is the only non-terminal status.
const (
	SessionPending  = "pending"
	SessionApproved = "approved"
	SessionDeclined = "declined"
	SessionExpired  = "expired"
	SessionConsumed = "consumed"
)

// ConfirmationSession is a short-lived out-of-band approval record gating
// login (2FA) or password reset. At most one pending session exists per
// (user, kind); transitions out of pending are compare-and-set so racing
// actors (chat callback, polling client, expiry sweep) cannot both win.
type ConfirmationSession struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"index:ix_user_kind,priority:1;not null" json:"user_id"`
	Kind       string `gorm:"size:20;index:ix_user_kind,priority:2;not null" json:"kind"`
	TelegramID string `gorm:"size:50;index" json:"telegram_id"`
	// Reference is an opaque token handed to the chat prompt so callbacks
	// can name the session without exposing its row id.
	Reference string `gorm:"size:36;uniqueIndex" json:"reference"`
	Status    string `gorm:"size:20;default:pending;index" json:"status"`
	// PromptMessageID remembers the chat message carrying the
	// approve/decline keyboard so it can be retracted on expiry.
	PromptMessageID string `gorm:"size:50" json:"-"`
	// StagedHash holds the bcrypt hash of the first password-reset entry
	// while the confirming second entry is awaited.
	StagedHash string    `gorm:"size:255" json:"-"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExpiredAt reports whether the session's TTL has lapsed at the given instant.
func (s *ConfirmationSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Terminal reports whether the session is inert: no further status
// transition may apply, only deletion by the cleanup sweep.
func (s *ConfirmationSession) Terminal() bool {
	return s.Status != SessionPending
}
