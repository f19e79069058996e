package security

import (
	"testing"
	"time"
)

func TestHealthScore(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) int64 {
		return now.Add(-time.Duration(d) * 24 * time.Hour).UnixMilli()
	}

	tests := []struct {
		days int
		want int
	}{
		{0, 100},
		{30, 100},
		{31, 80},
		{90, 80},
		{91, 60},
		{180, 60},
		{181, 40},
		{365, 40},
		{366, 20},
		{395, 19},
		{965, 0},
		{3000, 0},
		{-10, 100},
	}

	for _, tt := range tests {
		if got := HealthScore(daysAgo(tt.days), now); got != tt.want {
			t.Errorf("HealthScore(%d days) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := DaysSince(now.Add(-47*time.Hour).UnixMilli(), now); got != 1 {
		t.Errorf("DaysSince(47h) = %d, want 1", got)
	}
	if got := DaysSince(now.Add(time.Hour).UnixMilli(), now); got != 0 {
		t.Errorf("DaysSince(future) = %d, want 0", got)
	}
}

func TestHealthLabel(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, HealthGood},
		{80, HealthGood},
		{79, HealthFair},
		{50, HealthFair},
		{49, HealthLow},
		{25, HealthLow},
		{24, HealthStale},
		{0, HealthStale},
	}

	for _, tt := range tests {
		if got := HealthLabel(tt.score); got != tt.want {
			t.Errorf("HealthLabel(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
