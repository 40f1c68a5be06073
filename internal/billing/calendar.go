// Package billing holds the pure billing rules: calendar arithmetic, the
// transaction state machine and the renewal step. Nothing here touches shared
// state; callers apply the returned values.
package billing

import (
	"time"

	"github.com/Dhoini/billing-scheduler/internal/domain"
)

// NextBillingDate advances from by exactly one period of freq using calendar
// arithmetic. When the target month is shorter, the day is clamped to the
// month's last day (Jan 31 -> Feb 29 in 2024). Unknown frequencies return from
// unchanged.
func NextBillingDate(from time.Time, freq domain.Frequency) time.Time {
	switch freq {
	case domain.FrequencyMonthly:
		return addMonthsClamped(from, 1)
	case domain.FrequencyYearly:
		return addMonthsClamped(from, 12)
	default:
		return from
	}
}

// AddPeriods applies n successive NextBillingDate steps
func AddPeriods(from time.Time, freq domain.Frequency, n int) time.Time {
	next := from
	for i := 0; i < n; i++ {
		next = NextBillingDate(next, freq)
	}
	return next
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	// first day of the target month, normalized by time.Date
	first := time.Date(year, month+time.Month(months), 1, hour, minute, sec, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
