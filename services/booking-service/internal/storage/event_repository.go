package storage

import (
	"context"
	"time"

	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
)

type EventRepository struct {
	pool *db.Pool
}

func NewEventRepository(pool *db.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `
	e.id, e.expert_id, u.username, u.name, u.email,
	e.slug, e.name, e.duration_minutes, e.price_cents, e.currency, e.active
`

func (r *EventRepository) GetByID(ctx context.Context, eventID string) (model.Event, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN users u ON u.id = e.expert_id
		WHERE e.id = $1
	`, eventID)
	return scanEvent(row)
}

// GetBySlug resolves the event behind a public booking page URL. Slugs are
// globally unique across experts.
func (r *EventRepository) GetBySlug(ctx context.Context, slug string) (model.Event, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN users u ON u.id = e.expert_id
		WHERE e.slug = $1
	`, slug)
	return scanEvent(row)
}

// ListScheduleWindows returns the expert's recurring weekly availability.
func (r *EventRepository) ListScheduleWindows(ctx context.Context, expertID string) ([]model.ScheduleWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.weekday, a.start_minute, a.end_minute, s.timezone
		FROM schedule_availabilities a
		JOIN schedules s ON s.id = a.schedule_id
		WHERE s.expert_id = $1
		ORDER BY a.weekday, a.start_minute
	`, expertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduleWindow
	for rows.Next() {
		var w model.ScheduleWindow
		var weekday int
		if err := rows.Scan(&weekday, &w.StartMinute, &w.EndMinute, &w.Timezone); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type eventRow interface {
	Scan(dest ...any) error
}

func scanEvent(row eventRow) (model.Event, error) {
	var e model.Event
	if err := row.Scan(
		&e.ID,
		&e.ExpertID,
		&e.ExpertUsername,
		&e.ExpertName,
		&e.ExpertEmail,
		&e.Slug,
		&e.Name,
		&e.DurationMinutes,
		&e.PriceCents,
		&e.Currency,
		&e.Active,
	); err != nil {
		return model.Event{}, err
	}
	return e, nil
}
