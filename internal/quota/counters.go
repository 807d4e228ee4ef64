// internal/quota/counters.go
package quota

import "time"

// Limits holds the free-tier caps.
type Limits struct {
	Daily   int
	Monthly int
	Groups  int
}

// DefaultLimits mirrors the free plan: 5 actions/day, 100/month, 3 groups.
func DefaultLimits() Limits {
	return Limits{Daily: 5, Monthly: 100, Groups: 3}
}

// Counters is a point-in-time snapshot of one user's free-tier usage. Absence
// of cache entries reads as the zero value: a fresh window.
type Counters struct {
	Daily   int
	Monthly int
	Groups  map[int64]struct{}
}

// NewCounters returns an empty usage snapshot.
func NewCounters() Counters {
	return Counters{Groups: map[int64]struct{}{}}
}

// InGroup reports whether the user has already triggered the bot from chatID.
func (c Counters) InGroup(chatID int64) bool {
	_, ok := c.Groups[chatID]
	return ok
}

// GroupCount returns the number of distinct groups used.
func (c Counters) GroupCount() int {
	return len(c.Groups)
}

// NextDailyReset returns the upcoming midnight in the reset time zone.
func NextDailyReset(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return next
}

// NextMonthlyReset returns 00:05 on the first of the next month in the reset
// time zone. The five-minute offset keeps the monthly boundary clear of the
// daily one.
func NextMonthlyReset(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 5, 0, 0, loc)
	return first.AddDate(0, 1, 0)
}
