package leaderboard

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPeriod is returned for a period name other than all, weekly or monthly.
var ErrUnknownPeriod = errors.New("leaderboard: unknown period")

// Period names accepted by ResolvePeriod.
const (
	PeriodAll     = "all"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// WeekStart returns local midnight of the most recent startDay at or before now.
func WeekStart(now time.Time, loc *time.Location, startDay time.Weekday) time.Time {
	local := now.In(loc)
	daysBack := (int(local.Weekday()) - int(startDay) + 7) % 7
	return time.Date(local.Year(), local.Month(), local.Day()-daysBack, 0, 0, 0, 0, loc)
}

// MonthStart returns local midnight of the first day of now's month.
func MonthStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// ResolvePeriod maps a period name to an inclusive [start, end] window.
// The window ends one second before the next period starts, so the
// window (and its cache key) is stable for the whole period. ok is false
// for the all-time period.
func ResolvePeriod(name string, now time.Time, loc *time.Location, startDay time.Weekday) (start, end time.Time, ok bool, err error) {
	switch name {
	case "", PeriodAll:
		return time.Time{}, time.Time{}, false, nil
	case PeriodWeekly:
		start = WeekStart(now, loc, startDay)
		end = start.AddDate(0, 0, 7).Add(-time.Second)
	case PeriodMonthly:
		start = MonthStart(now, loc)
		end = start.AddDate(0, 1, 0).Add(-time.Second)
	default:
		return time.Time{}, time.Time{}, false, fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
	}
	return start, end, true, nil
}
