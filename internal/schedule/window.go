// Package schedule holds the working-window and pacing math shared by the
// campaign runner and the progress advisory, so the execution loop and the
// read-only projections can never disagree about the same window.
package schedule

import "time"

const timeOfDay = "15:04"

// WithinWindow reports whether t falls inside the [start, end] working
// window, both "HH:MM" time-of-day strings. An unset window is always
// open. When start sorts after end the window crosses midnight and
// containment becomes tod >= start OR tod <= end.
func WithinWindow(t time.Time, start, end string) bool {
	if start == "" || end == "" {
		return true
	}
	tod := t.Format(timeOfDay)
	if start > end {
		return tod >= start || tod <= end
	}
	return tod >= start && tod <= end
}

// AllowedDay reports whether t's weekday is allowed. An empty list allows
// every day.
func AllowedDay(t time.Time, days []time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

// NextWindowStart returns the next instant the window opens after t.
// Starts with today's opening; if that is not strictly after t it advances
// a day, then keeps advancing until the weekday is allowed. The walk is
// bounded to a week so a misconfigured day list cannot spin forever.
func NextWindowStart(t time.Time, start string, days []time.Weekday) time.Time {
	if start == "" {
		start = "00:00"
	}
	opening := atTimeOfDay(t, start)
	if !opening.After(t) {
		opening = opening.AddDate(0, 0, 1)
	}
	for i := 0; i < 7 && !AllowedDay(opening, days); i++ {
		opening = atTimeOfDay(opening.AddDate(0, 0, 1), start)
	}
	return opening
}

// WindowBounds returns the opening and closing instants of the window
// segment containing t. Only meaningful when WithinWindow(t) holds; ok is
// false when no window is configured (callers fall back to the calendar
// day).
func WindowBounds(t time.Time, start, end string) (from, to time.Time, ok bool) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, false
	}
	from = atTimeOfDay(t, start)
	to = atTimeOfDay(t, end)
	if start > end {
		// crossing midnight: the segment either started yesterday or
		// ends tomorrow, depending on which side of midnight t is
		if t.Format(timeOfDay) >= start {
			to = to.AddDate(0, 0, 1)
		} else {
			from = from.AddDate(0, 0, -1)
		}
	}
	return from, to, true
}

// DayBounds is the fallback window for campaigns with no configured
// working hours: the calendar day containing t.
func DayBounds(t time.Time) (from, to time.Time) {
	from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 0, 1)
}

func atTimeOfDay(t time.Time, hhmm string) time.Time {
	parsed, err := time.Parse(timeOfDay, hhmm)
	if err != nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return time.Date(t.Year(), t.Month(), t.Day(), parsed.Hour(), parsed.Minute(), 0, 0, t.Location())
}
