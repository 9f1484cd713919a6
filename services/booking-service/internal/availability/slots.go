package availability

import (
	"time"

	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// DayWindows projects an expert's weekly schedule onto one calendar day,
// returning UTC intervals. The date is interpreted in each window's own
// timezone, so a Lisbon expert's Monday 09:00 block lands correctly no
// matter where the guest browses from.
func DayWindows(date time.Time, windows []model.ScheduleWindow) []Interval {
	var out []Interval
	for _, w := range windows {
		if w.EndMinute <= w.StartMinute {
			continue
		}
		loc := time.UTC
		if w.Timezone != "" {
			if l, err := time.LoadLocation(w.Timezone); err == nil {
				loc = l
			}
		}
		localDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
		if localDay.Weekday() != w.Weekday {
			continue
		}
		start := localDay.Add(time.Duration(w.StartMinute) * time.Minute)
		end := localDay.Add(time.Duration(w.EndMinute) * time.Minute)
		out = append(out, Interval{Start: start.UTC(), End: end.UTC()})
	}
	return out
}

// AvailableSlots returns slot start times within [windowStart, windowEnd)
// where a booking of length duration would not overlap any busy interval.
// Slots starting before now are excluded.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

// Contains reports whether [start, end) fits entirely inside one of the
// windows. Used to reject bookings outside the expert's schedule.
func Contains(windows []Interval, start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	for _, w := range windows {
		if !start.Before(w.Start) && !end.After(w.End) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
