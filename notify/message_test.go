package notify

import (
	"strings"
	"testing"

	"github.com/taskforge/taskforge/models"
	"github.com/taskforge/taskforge/schedule"
)

func TestReminderSingularWithStreak(t *testing.T) {
	c := NewComposer()
	msg := c.Reminder([]models.Habit{{Name: "Meditate", StreakDays: 12}}, schedule.Bucket{OffsetMin: 30})
	want := `Don't lose your 12-day streak on "Meditate"! 30 minutes left today.`
	if msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestReminderSingularWithoutStreak(t *testing.T) {
	c := NewComposer()
	msg := c.Reminder([]models.Habit{{Name: "Meditate"}}, schedule.Bucket{OffsetMin: 120})
	want := `Your habit "Meditate" is still unchecked. 2 hours left today.`
	if msg != want {
		t.Errorf("got %q, want %q", msg, want)
	}
}

func TestReminderPluralCombinesStreaks(t *testing.T) {
	c := NewComposer()
	habits := []models.Habit{
		{Name: "Meditate", StreakDays: 5},
		{Name: "Run", StreakDays: 3},
	}
	msg := c.Reminder(habits, schedule.Bucket{OffsetMin: 60})
	if !strings.Contains(msg, "2 habits") || !strings.Contains(msg, "8 streak days") {
		t.Errorf("plural message missing count or combined streak: %q", msg)
	}
	if !strings.Contains(msg, "1 hour left today") {
		t.Errorf("plural message missing time-left phrasing: %q", msg)
	}
}

func TestReminderPluralWithoutStreaks(t *testing.T) {
	c := NewComposer()
	habits := []models.Habit{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	msg := c.Reminder(habits, schedule.Bucket{OffsetMin: 5})
	if strings.Contains(msg, "streak") {
		t.Errorf("zero-streak plural message should not mention streaks: %q", msg)
	}
	if !strings.Contains(msg, "3 habits") {
		t.Errorf("missing habit count: %q", msg)
	}
}

func TestReminderSanitizesHabitName(t *testing.T) {
	c := NewComposer()
	msg := c.Reminder([]models.Habit{{Name: `<script>alert(1)</script>Read`}}, schedule.Bucket{OffsetMin: 15})
	if strings.Contains(msg, "<script>") {
		t.Errorf("habit name not sanitized: %q", msg)
	}
	if !strings.Contains(msg, "Read") {
		t.Errorf("sanitizer stripped legitimate text: %q", msg)
	}
}

func TestBrokenStreakMessages(t *testing.T) {
	c := NewComposer()

	one := c.BrokenStreak([]models.Habit{{Name: "Run", StreakDays: 9}})
	if !strings.Contains(one, "9-day streak") || !strings.Contains(one, `"Run"`) {
		t.Errorf("singular broken-streak message wrong: %q", one)
	}

	many := c.BrokenStreak([]models.Habit{{Name: "Run"}, {Name: "Read"}})
	if !strings.Contains(many, "2 habits") {
		t.Errorf("plural broken-streak message wrong: %q", many)
	}
}
