package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tfdgestao/relatorios/internal/models"
)

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseTimeOfDay splits a 24h "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	m := timeOfDayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ComputeNextRun returns the first execution time strictly after now, in
// now's location, or nil for on-demand schedules. A malformed definition
// also yields nil; definitions are validated before they are persisted.
func ComputeNextRun(s *models.ReportSchedule, now time.Time) *time.Time {
	if s.Recurrence == models.RecurrenceOnDemand {
		return nil
	}

	hour, minute, err := ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return nil
	}

	loc := now.Location()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	switch s.Recurrence {
	case models.RecurrenceDaily:
	case models.RecurrenceWeekly:
		if s.Weekday == nil {
			return nil
		}
		diff := *s.Weekday - int(candidate.Weekday())
		if diff <= 0 {
			diff += 7
		}
		candidate = candidate.AddDate(0, 0, diff)
	case models.RecurrenceMonthly:
		if s.DayOfMonth == nil {
			return nil
		}
		candidate = onDayOfMonth(candidate.Year(), candidate.Month(), *s.DayOfMonth, hour, minute, loc)
		if !candidate.After(now) {
			candidate = onDayOfMonth(candidate.Year(), candidate.Month()+1, *s.DayOfMonth, hour, minute, loc)
		}
	default:
		return nil
	}

	return &candidate
}

// onDayOfMonth builds year/month/day hh:mm, clamping day to the month's
// last day. month may overflow into the next year.
func onDayOfMonth(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if last := DaysIn(first.Year(), first.Month(), loc); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}
