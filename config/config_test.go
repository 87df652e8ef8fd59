package config

import (
	"strings"
	"testing"
)

func validReminderConfig() AppConfig {
	return AppConfig{
		ActivePeriodStart:  "21:00",
		ActivePeriodEnd:    "00:05",
		BucketOffsetsMin:   []int{120, 60, 30, 15, 5},
		BucketToleranceMin: 2.5,
	}
}

func TestValidateReminderWindowAcceptsDefaults(t *testing.T) {
	if err := validReminderConfig().ValidateReminderWindow(); err != nil {
		t.Fatalf("ValidateReminderWindow() = %v, want nil", err)
	}
}

func TestValidateReminderWindowRejectsCloseOffsets(t *testing.T) {
	c := validReminderConfig()
	// gap of 4 minutes <= 2 x 2.5 tolerance: both could match one tick
	c.BucketOffsetsMin = []int{30, 26}
	err := c.ValidateReminderWindow()
	if err == nil {
		t.Fatal("ValidateReminderWindow() = nil, want spacing error")
	}
	if !strings.Contains(err.Error(), "tolerance") {
		t.Errorf("error %q does not mention tolerance", err)
	}
}

func TestValidateReminderWindowRejectsUnsortedOffsets(t *testing.T) {
	c := validReminderConfig()
	c.BucketOffsetsMin = []int{30, 60}
	if err := c.ValidateReminderWindow(); err == nil {
		t.Fatal("ValidateReminderWindow() = nil, want descending-order error")
	}
}

func TestValidateReminderWindowRejectsBadInputs(t *testing.T) {
	cases := []func(*AppConfig){
		func(c *AppConfig) { c.BucketOffsetsMin = nil },
		func(c *AppConfig) { c.BucketOffsetsMin = []int{30, 0} },
		func(c *AppConfig) { c.BucketToleranceMin = 0 },
		func(c *AppConfig) { c.ActivePeriodStart = "25:00" },
		func(c *AppConfig) { c.ActivePeriodEnd = "banana" },
	}
	for i, mutate := range cases {
		c := validReminderConfig()
		mutate(&c)
		if err := c.ValidateReminderWindow(); err == nil {
			t.Errorf("case %d: ValidateReminderWindow() = nil, want error", i)
		}
	}
}

func TestClockMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"00:00", 0},
		{"00:05", 5},
		{"21:00", 1260},
		{"23:59", 1439},
	}
	for _, tc := range tests {
		if got := ClockMinutes(tc.in); got != tc.want {
			t.Errorf("ClockMinutes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
