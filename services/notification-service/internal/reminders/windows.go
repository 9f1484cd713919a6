// Package reminders scans upcoming confirmed reservations and triggers
// reminder notifications for guests and experts.
package reminders

import "time"

// Window is one reminder horizon. A run at time t covers reservations
// starting in [t+Offset, t+Offset+Span). Span matches the cron cadence of
// the window so consecutive runs tile the timeline without gaps; overlap
// from late or repeated runs is harmless because transaction ids repeat.
type Window struct {
	Name   string
	Offset time.Duration
	Span   time.Duration
}

var (
	// Day-ahead reminders run hourly.
	Window24h = Window{Name: "24h", Offset: 24 * time.Hour, Span: time.Hour}
	// Last-call reminders run every 15 minutes.
	Window1h = Window{Name: "1h", Offset: time.Hour, Span: 15 * time.Minute}
)

func (w Window) Range(now time.Time) (time.Time, time.Time) {
	from := now.Add(w.Offset)
	return from, from.Add(w.Span)
}

func ByName(name string) (Window, bool) {
	switch name {
	case Window24h.Name:
		return Window24h, true
	case Window1h.Name:
		return Window1h, true
	}
	return Window{}, false
}
