package availability

import (
	"testing"
	"time"

	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
)

func TestAvailableSlots_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestDayWindows_TimezoneProjection(t *testing.T) {
	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// Wednesday 2026-01-28. New York is UTC-5 in January.
	date := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windows := []model.ScheduleWindow{
		{Weekday: time.Wednesday, StartMinute: 9 * 60, EndMinute: 17 * 60, Timezone: "America/New_York"},
		{Weekday: time.Thursday, StartMinute: 9 * 60, EndMinute: 17 * 60, Timezone: "America/New_York"},
	}

	out := DayWindows(date, windows)
	if len(out) != 1 {
		t.Fatalf("expected 1 window for Wednesday, got %d", len(out))
	}
	wantStart := time.Date(2026, 1, 28, 14, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 1, 28, 22, 0, 0, 0, time.UTC)
	if !out[0].Start.Equal(wantStart) || !out[0].End.Equal(wantEnd) {
		t.Fatalf("expected %s-%s, got %s-%s", wantStart, wantEnd, out[0].Start, out[0].End)
	}
}

func TestDayWindows_SkipsInverted(t *testing.T) {
	date := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windows := []model.ScheduleWindow{
		{Weekday: time.Wednesday, StartMinute: 10 * 60, EndMinute: 9 * 60},
	}
	if out := DayWindows(date, windows); len(out) != 0 {
		t.Fatalf("expected inverted window to be dropped, got %v", out)
	}
}

func TestContains(t *testing.T) {
	base := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	windows := []Interval{{Start: base, End: base.Add(8 * time.Hour)}}

	if !Contains(windows, base, base.Add(time.Hour)) {
		t.Fatal("expected in-window interval to be accepted")
	}
	if Contains(windows, base.Add(-time.Minute), base.Add(time.Hour)) {
		t.Fatal("expected interval starting before the window to be rejected")
	}
	if Contains(windows, base.Add(7*time.Hour+30*time.Minute), base.Add(8*time.Hour+time.Minute)) {
		t.Fatal("expected interval overrunning the window to be rejected")
	}
	if Contains(windows, base.Add(time.Hour), base.Add(time.Hour)) {
		t.Fatal("expected empty interval to be rejected")
	}
}
