package query

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"now", now},
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05.123+02:00", time.Date(2024, 1, 2, 1, 4, 5, 123000000, time.UTC)},
		{"2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)},
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local)},
		{"1 hours ago", now.Add(-time.Hour)},
		{"2 days ago", now.AddDate(0, 0, -2)},
		{"30 minutes ago", now.Add(-30 * time.Minute)},
		{"15s ago", now.Add(-15 * time.Second)},
		{"500 ms ago", now.Add(-500 * time.Millisecond)},
		{"1 week ago", now.AddDate(0, 0, -7)},
		{"3 months ago", now.AddDate(0, -3, 0)},
		{"1 year ago", now.AddDate(-1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTime(tt.input, now)
			if err != nil {
				t.Fatalf("ParseTime(%q) failed: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTime_Invalid(t *testing.T) {
	for _, input := range []string{"", "yesterday", "ago", "two hours ago", "5 fortnights ago", "2024-13-01"} {
		if _, err := ParseTime(input, time.Now()); err == nil {
			t.Errorf("ParseTime(%q) should fail", input)
		}
	}
}
