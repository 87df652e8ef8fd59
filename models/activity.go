package models

import "time"

// WeeklyActivity keeps one rolling row per user with per-day activity
// counters for the current week. week_start is always a Monday; a row
// whose week_start precedes the current week's Monday is reset before any
// read or write ("lazy rollover"). Invariant: total == sum of day counters.
type WeeklyActivity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Monday    int       `gorm:"default:0" json:"monday"`
	Tuesday   int       `gorm:"default:0" json:"tuesday"`
	Wednesday int       `gorm:"default:0" json:"wednesday"`
	Thursday  int       `gorm:"default:0" json:"thursday"`
	Friday    int       `gorm:"default:0" json:"friday"`
	Saturday  int       `gorm:"default:0" json:"saturday"`
	Sunday    int       `gorm:"default:0" json:"sunday"`
	WeekStart time.Time `gorm:"type:date;not null" json:"week_start"`
	Total     int       `gorm:"default:0" json:"total"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// weekdayColumns maps WeekdayIndex positions (Mon=0..Sun=6) to column names.
var weekdayColumns = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// WeekdayIndex converts time.Weekday (Sunday=0) to the Monday-first index
// used throughout the weekly counters (Mon=0..Sun=6).
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// WeekdayColumn returns the counter column name for a Monday-first index.
func WeekdayColumn(idx int) string {
	return weekdayColumns[idx]
}

// MondayOf returns the Monday of the week containing t, truncated to a date.
func MondayOf(t time.Time) time.Time {
	day := DateOf(t)
	return day.AddDate(0, 0, -WeekdayIndex(day.Weekday()))
}

// Days returns the seven counters as a Monday-first slice for chart payloads.
func (a *WeeklyActivity) Days() [7]int {
	return [7]int{a.Monday, a.Tuesday, a.Wednesday, a.Thursday, a.Friday, a.Saturday, a.Sunday}
}

// Add increments the counter at the Monday-first index and the total.
func (a *WeeklyActivity) Add(idx, amount int) {
	switch idx {
	case 0:
		a.Monday += amount
	case 1:
		a.Tuesday += amount
	case 2:
		a.Wednesday += amount
	case 3:
		a.Thursday += amount
	case 4:
		a.Friday += amount
	case 5:
		a.Saturday += amount
	case 6:
		a.Sunday += amount
	default:
		return
	}
	a.Total += amount
}

// Stale reports whether the row belongs to a week before the one containing now.
func (a *WeeklyActivity) Stale(now time.Time) bool {
	return DateOf(a.WeekStart).Before(MondayOf(now))
}

// Reset zeroes all counters and advances week_start to the given Monday.
func (a *WeeklyActivity) Reset(monday time.Time) {
	a.Monday, a.Tuesday, a.Wednesday, a.Thursday, a.Friday, a.Saturday, a.Sunday = 0, 0, 0, 0, 0, 0, 0
	a.Total = 0
	a.WeekStart = monday
}
