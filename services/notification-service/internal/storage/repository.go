package storage

import (
	"context"
	"time"

	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/reminders"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListConfirmedStartingBetween returns confirmed reservations with
// start_time in [from, to), joined with the event and expert the reminder
// needs to render.
func (r *Repository) ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]reminders.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT res.id, e.name, res.guest_name, res.guest_email, res.guest_timezone,
		       u.id, u.name, u.email, res.start_time, COALESCE(res.meeting_url, '')
		FROM reservations res
		JOIN events e ON e.id = res.event_id
		JOIN users u ON u.id = res.expert_id
		WHERE res.status = 'confirmed'
		  AND res.start_time >= $1
		  AND res.start_time < $2
		ORDER BY res.start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminders.Reservation
	for rows.Next() {
		var res reminders.Reservation
		if err := rows.Scan(
			&res.ID, &res.EventName, &res.GuestName, &res.GuestEmail, &res.GuestTimezone,
			&res.ExpertID, &res.ExpertName, &res.ExpertEmail, &res.StartTime, &res.MeetingURL,
		); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordNotification appends one delivery attempt to the notifications log.
func (r *Repository) RecordNotification(ctx context.Context, reservationID, role, recipient, workflow, transactionID, status string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (reservation_id, role, recipient, workflow, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reservationID, role, recipient, workflow, transactionID, status)
	return err
}
