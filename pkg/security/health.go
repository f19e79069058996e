package security

import "time"

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Health labels
const (
	HealthGood  = "Good"
	HealthFair  = "Fair"
	HealthLow   = "Low"
	HealthStale = "Stale"
)

// DaysSince returns the whole days between updatedAt (epoch milliseconds)
// and now. A timestamp in the future counts as zero days.
func DaysSince(updatedAt int64, now time.Time) int {
	d := (now.UnixMilli() - updatedAt) / dayMillis
	if d < 0 {
		return 0
	}
	return int(d)
}

// HealthScore rates how fresh a secret is from 0 to 100: 100 up to 30
// days, 80 up to 90, 60 up to 180, 40 up to a year, then 20 minus one point
// per further 30 days.
func HealthScore(updatedAt int64, now time.Time) int {
	days := DaysSince(updatedAt, now)
	switch {
	case days <= 30:
		return 100
	case days <= 90:
		return 80
	case days <= 180:
		return 60
	case days <= 365:
		return 40
	default:
		return max(0, 20-(days-365)/30)
	}
}

// HealthLabel returns the badge for a HealthScore.
func HealthLabel(score int) string {
	switch {
	case score >= 80:
		return HealthGood
	case score >= 50:
		return HealthFair
	case score >= 25:
		return HealthLow
	default:
		return HealthStale
	}
}
