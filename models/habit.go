package models

import "time"

// Habit cadence values.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Habit is a recurring commitment tracked per user. The streak counter is
// authoritative: it is maintained on the check-in write path and only
// recomputed when a historical check-in is toggled.
type Habit struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	Name        string     `gorm:"size:100;not null" json:"name"`
	Description string     `gorm:"size:500" json:"description"`
	Frequency   string     `gorm:"size:20;default:daily" json:"frequency"`
	Active      bool       `gorm:"default:true;index" json:"active"`
	StreakDays  int        `gorm:"default:0" json:"streak_days"`
	LastCheckin *time.Time `json:"last_checkin"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StreakBrokenBy reports whether the habit's streak is broken as of the
// given day: the last check-in is strictly older than the day before.
func (h *Habit) StreakBrokenBy(today time.Time) bool {
	if h.LastCheckin == nil {
		return false
	}
	yesterday := DateOf(today).AddDate(0, 0, -1)
	return DateOf(*h.LastCheckin).Before(yesterday)
}

// HabitCheckin is a single day's completion record. (habit, date) is unique.
type HabitCheckin struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	HabitID   uint      `gorm:"not null;uniqueIndex:ux_habit_date,priority:1" json:"habit_id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:ux_habit_date,priority:2" json:"date"`
	Completed bool      `gorm:"default:false" json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// DateOf truncates a timestamp to its calendar day in local time.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
