package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Event is the bookable service offering, read from the shared schema. Only
// the fields the payment flow needs are loaded here.
type Event struct {
	ID              string
	ExpertID        string
	ExpertUsername  string
	ExpertEmail     string
	Slug            string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Currency        string
	Active          bool
}

func (e Event) Free() bool { return e.PriceCents == 0 }

const eventQuery = `
	SELECT e.id, e.expert_id, u.username, u.email, e.slug,
	       e.name, e.duration_minutes, e.price_cents, e.currency, e.active
	FROM events e
	JOIN users u ON u.id = e.expert_id
`

func (r *Repository) GetEvent(ctx context.Context, eventID string) (Event, error) {
	return r.scanEvent(r.pool.QueryRow(ctx, eventQuery+`WHERE e.id = $1`, eventID))
}

// GetEventBySlug resolves an event by the expert's username and the event's
// slug, the pair the public booking page addresses events with.
func (r *Repository) GetEventBySlug(ctx context.Context, username, slug string) (Event, error) {
	return r.scanEvent(r.pool.QueryRow(ctx, eventQuery+`WHERE u.username = $1 AND e.slug = $2`, username, slug))
}

func (r *Repository) scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.ExpertID, &e.ExpertUsername, &e.ExpertEmail, &e.Slug,
		&e.Name, &e.DurationMinutes, &e.PriceCents, &e.Currency, &e.Active,
	)
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// InsertProviderEvent records one inbound provider notification. The unique
// index on (provider, provider_event_id) turns replays into
// ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, e ProviderEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, e.Provider, e.ProviderEventID, e.EventType, e.Payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProviderEvent
		}
		return err
	}
	return nil
}

type CheckoutSession struct {
	StripeSessionID string
	EventID         string
	GuestEmail      string
	StartTime       time.Time
	Status          string
	URL             string
}

func (r *Repository) RecordCheckoutSession(ctx context.Context, s CheckoutSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, event_id, guest_email, start_time, status, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = now()
	`, s.StripeSessionID, s.EventID, s.GuestEmail, s.StartTime, s.Status, s.URL)
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed', completed_at = $2, updated_at = now()
		WHERE stripe_session_id = $1
	`, sessionID, at)
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired', updated_at = now()
		WHERE stripe_session_id = $1
	`, sessionID, at)
	return err
}

// Reservation carries what the webhook needs to materialize a paid booking.
type Reservation struct {
	ID            string
	EventID       string
	ExpertID      string
	GuestName     string
	GuestEmail    string
	GuestTimezone string
	StartTime     time.Time
	EndTime       time.Time
	MeetingURL    string
}

// ConfirmReservation inserts the reservation produced by a successful
// payment. The partial unique index on (event_id, lower(guest_email),
// start_time) WHERE status <> 'cancelled' makes the insert idempotent: a
// replayed or racing webhook finds the row already there and gets the
// existing id back with created=false.
func (r *Repository) ConfirmReservation(ctx context.Context, tx pgx.Tx, res Reservation, cancelTokenHash []byte) (string, bool, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, event_id, expert_id, guest_name, guest_email, guest_timezone,
			 start_time, end_time, status, payment_status, meeting_url, cancel_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'confirmed', 'succeeded', $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, res.ID, res.EventID, res.ExpertID, res.GuestName, res.GuestEmail, res.GuestTimezone,
		res.StartTime, res.EndTime, res.MeetingURL, cancelTokenHash).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	err = tx.QueryRow(ctx, `
		SELECT id FROM reservations
		WHERE event_id = $1 AND lower(guest_email) = lower($2) AND start_time = $3
		  AND status <> 'cancelled'
	`, res.EventID, res.GuestEmail, res.StartTime).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}
