package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleva-care/eleva-backend/libs/idempotency"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/notify"
)

// Reservation carries what a reminder needs about one upcoming booking.
type Reservation struct {
	ID            string
	EventName     string
	GuestName     string
	GuestEmail    string
	GuestTimezone string
	ExpertID      string
	ExpertName    string
	ExpertEmail   string
	StartTime     time.Time
	MeetingURL    string
}

// Source lists confirmed reservations starting inside [from, to).
type Source interface {
	ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]Reservation, error)
}

// Recorder logs each attempted delivery for auditing. Failures to record are
// logged but do not block the remaining recipients.
type Recorder interface {
	RecordNotification(ctx context.Context, reservationID, role, recipient, workflow, transactionID, status string) error
}

type Runner struct {
	source   Source
	trigger  notify.Trigger
	recorder Recorder
	logger   *slog.Logger
}

func NewRunner(source Source, trigger notify.Trigger, recorder Recorder, logger *slog.Logger) *Runner {
	return &Runner{source: source, trigger: trigger, recorder: recorder, logger: logger}
}

// RoleCounts aggregates send outcomes for one recipient role.
type RoleCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Report summarizes one run. Counts are kept per recipient role so an
// operator can tell guest delivery apart from expert delivery; one
// reservation contributes at most one send per role.
type Report struct {
	Window  string     `json:"window"`
	Scanned int        `json:"scanned"`
	Guest   RoleCounts `json:"guest"`
	Expert  RoleCounts `json:"expert"`
	RanAt   time.Time  `json:"ran_at"`
}

// Sent is the total of successful sends across both roles.
func (r Report) Sent() int { return r.Guest.Sent + r.Expert.Sent }

// Failed is the total of failed sends across both roles.
func (r Report) Failed() int { return r.Guest.Failed + r.Expert.Failed }

// Run triggers reminders for every reservation inside the window. Each
// recipient gets an independent trigger under a deterministic transaction id,
// so re-running the same window re-sends nothing and one failing recipient
// never blocks the rest.
func (r *Runner) Run(ctx context.Context, w Window, now time.Time) (Report, error) {
	report := Report{Window: w.Name, RanAt: now.UTC()}

	from, to := w.Range(now)
	reservations, err := r.source.ListConfirmedStartingBetween(ctx, from, to)
	if err != nil {
		return report, err
	}
	report.Scanned = len(reservations)

	workflow := "appointment-reminder-" + w.Name
	for _, res := range reservations {
		r.send(ctx, &report, workflow, w, res, "guest", notify.Subscriber{
			SubscriberID: "guest-" + res.ID,
			Email:        res.GuestEmail,
			FirstName:    res.GuestName,
		})
		r.send(ctx, &report, workflow, w, res, "expert", notify.Subscriber{
			SubscriberID: res.ExpertID,
			Email:        res.ExpertEmail,
			FirstName:    res.ExpertName,
		})
	}
	return report, nil
}

func (r *Runner) send(ctx context.Context, report *Report, workflow string, w Window, res Reservation, role string, to notify.Subscriber) {
	if to.Email == "" {
		return
	}

	counts := &report.Guest
	if role == "expert" {
		counts = &report.Expert
	}

	transactionID := idempotency.ReminderKey(w.Name, role, res.ID)
	payload := map[string]any{
		"reservation_id": res.ID,
		"event_name":     res.EventName,
		"guest_name":     res.GuestName,
		"expert_name":    res.ExpertName,
		"start_time":     res.StartTime.UTC().Format(time.RFC3339),
		"timezone":       res.GuestTimezone,
		"meeting_url":    res.MeetingURL,
		"role":           role,
	}

	status := "sent"
	if err := r.trigger.Trigger(ctx, workflow, transactionID, to, payload); err != nil {
		status = "failed"
		counts.Failed++
		r.logger.Error("reminder trigger failed",
			"err", err,
			"reservation_id", res.ID,
			"role", role,
			"transaction_id", transactionID,
		)
	} else {
		counts.Sent++
	}

	if r.recorder != nil {
		if err := r.recorder.RecordNotification(ctx, res.ID, role, to.Email, workflow, transactionID, status); err != nil {
			r.logger.Error("failed to record notification", "err", err, "reservation_id", res.ID, "role", role)
		}
	}
}
