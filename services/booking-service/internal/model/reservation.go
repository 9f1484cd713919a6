package model

import "time"

// Reservation statuses. Paid bookings are only materialized once the
// payment webhook confirms them, so there is no pending state.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

type Reservation struct {
	ID            string
	EventID       string
	ExpertID      string
	GuestName     string
	GuestEmail    string
	GuestTimezone string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
	PaymentStatus string
	MeetingURL    string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}

// Event is a bookable service offered by an expert.
type Event struct {
	ID              string
	ExpertID        string
	ExpertUsername  string
	ExpertName      string
	ExpertEmail     string
	Slug            string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Currency        string
	Active          bool
}

func (e Event) Free() bool {
	return e.PriceCents <= 0
}

// ScheduleWindow is one recurring availability block in the expert's
// local timezone, e.g. Monday 09:00-17:00.
type ScheduleWindow struct {
	Weekday     time.Weekday
	StartMinute int // minutes after local midnight
	EndMinute   int
	Timezone    string
}
