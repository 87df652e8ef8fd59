package notify

import (
	"fmt"

	"github.com/microcosm-cc/bluemonday"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/schedule"
)

// Composer renders notification text. Habit names are user-authored and
// end up embedded in web-rendered payloads, so they pass through a strict
// sanitizer first.
type Composer struct {
	sanitize *bluemonday.Policy
}

// NewComposer creates a composer with a strip-everything HTML policy.
func NewComposer() *Composer {
	return &Composer{sanitize: bluemonday.StrictPolicy()}
}

// Reminder renders the bucket-gated streak reminder. Singular phrasing
// names the one outstanding habit and, when it has a positive streak, the
// days at stake; plural phrasing summarizes the count and the combined
// streak value.
func (c *Composer) Reminder(habits []models.Habit, bucket schedule.Bucket) string {
	left := bucket.Label()
	if len(habits) == 1 {
		h := habits[0]
		name := c.sanitize.Sanitize(h.Name)
		if h.StreakDays > 0 {
			return fmt.Sprintf("Don't lose your %d-day streak on %q! %s left today.", h.StreakDays, name, left)
		}
		return fmt.Sprintf("Your habit %q is still unchecked. %s left today.", name, left)
	}

	combined := 0
	for _, h := range habits {
		combined += h.StreakDays
	}
	if combined > 0 {
		return fmt.Sprintf("%d habits are still unchecked, %d streak days at stake. %s left today.", len(habits), combined, left)
	}
	return fmt.Sprintf("%d habits are still unchecked. %s left today.", len(habits), left)
}

// BrokenStreak renders the day-after notification for habits whose streak
// lapsed, singular or plural.
func (c *Composer) BrokenStreak(habits []models.Habit) string {
	if len(habits) == 1 {
		h := habits[0]
		return fmt.Sprintf("You lost your %d-day streak on %q. Check in today to start a new one!", h.StreakDays, c.sanitize.Sanitize(h.Name))
	}
	return fmt.Sprintf("You lost streaks on %d habits. Check in today to start over!", len(habits))
}
