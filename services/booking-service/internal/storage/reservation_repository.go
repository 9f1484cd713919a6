package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type ReservationRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	IdempotencyKey  string
	ReservationID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewReservationRepository(pool *db.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func (r *ReservationRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockIdempotencyKey claims key for the current transaction. It returns the
// existing record (and exists=true) when the key was already finalized, so
// the handler can replay the recorded response.
func (r *ReservationRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservation_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	// A concurrent request may have claimed the key first; by the time the
	// row lock is granted its response can already be recorded. Report the
	// key as existing so the caller replays instead of double-inserting.
	return rec, rec.StatusCode > 0, nil
}

func (r *ReservationRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, reservationID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE reservation_idempotency_keys
		SET reservation_id = $2,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, reservationID, statusCode, response)
	return err
}

// Create inserts a reservation plus the bcrypt hash of its cancel token.
// The partial unique index on (event_id, lower(guest_email), start_time)
// WHERE status <> 'cancelled' makes duplicate active bookings impossible;
// violations surface through IsDuplicate.
func (r *ReservationRepository) Create(ctx context.Context, tx pgx.Tx, res *model.Reservation, cancelTokenHash []byte) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, event_id, expert_id, guest_name, guest_email, guest_timezone,
			 start_time, end_time, status, payment_status, meeting_url, cancel_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, res.ID, res.EventID, res.ExpertID, res.GuestName, res.GuestEmail, res.GuestTimezone,
		res.StartTime, res.EndTime, res.Status, res.PaymentStatus, res.MeetingURL, cancelTokenHash).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ReservationRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, reservationID string) (model.Reservation, []byte, error) {
	var res model.Reservation
	var cancelledAt *time.Time
	var tokenHash []byte
	err := tx.QueryRow(ctx, `
		SELECT id, event_id, expert_id, guest_name, guest_email, guest_timezone,
			start_time, end_time, status, payment_status, COALESCE(meeting_url, ''),
			cancelled_at, COALESCE(cancellation_reason, ''), cancel_token_hash, created_at
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, reservationID).Scan(
		&res.ID,
		&res.EventID,
		&res.ExpertID,
		&res.GuestName,
		&res.GuestEmail,
		&res.GuestTimezone,
		&res.StartTime,
		&res.EndTime,
		&res.Status,
		&res.PaymentStatus,
		&res.MeetingURL,
		&cancelledAt,
		&res.CancelReason,
		&tokenHash,
		&res.CreatedAt,
	)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	res.CancelledAt = cancelledAt
	return res, tokenHash, nil
}

func (r *ReservationRepository) Cancel(ctx context.Context, tx pgx.Tx, reservationID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, reservationID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListBookedIntervals returns active reservations for an expert overlapping
// [start, end). Cancelled reservations do not block slots.
func (r *ReservationRepository) ListBookedIntervals(ctx context.Context, expertID string, start, end time.Time) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, expert_id, start_time, end_time, status
		FROM reservations
		WHERE expert_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, expertID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.EventID, &res.ExpertID, &res.StartTime, &res.EndTime, &res.Status); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ReservationRepository) ListByExpert(ctx context.Context, expertID string, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, expert_id, guest_name, guest_email, guest_timezone,
			start_time, end_time, status, payment_status, COALESCE(meeting_url, ''),
			cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM reservations
		WHERE expert_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, expertID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		var cancelledAt *time.Time
		if err := rows.Scan(
			&res.ID,
			&res.EventID,
			&res.ExpertID,
			&res.GuestName,
			&res.GuestEmail,
			&res.GuestTimezone,
			&res.StartTime,
			&res.EndTime,
			&res.Status,
			&res.PaymentStatus,
			&res.MeetingURL,
			&cancelledAt,
			&res.CancelReason,
			&res.CreatedAt,
		); err != nil {
			return nil, err
		}
		res.CancelledAt = cancelledAt
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// IsDuplicate reports a unique-constraint violation (active double booking
// or replayed key).
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *ReservationRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(reservation_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM reservation_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(
		&rec.IdempotencyKey,
		&rec.ReservationID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
