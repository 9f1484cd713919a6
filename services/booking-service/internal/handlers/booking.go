package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/outbox"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/availability"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// EventSource loads events and the owning expert's weekly schedule.
type EventSource interface {
	GetByID(ctx context.Context, eventID string) (model.Event, error)
	GetBySlug(ctx context.Context, slug string) (model.Event, error)
	ListScheduleWindows(ctx context.Context, expertID string) ([]model.ScheduleWindow, error)
}

// ReservationStore persists reservations and their idempotency records.
type ReservationStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, reservationID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, res *model.Reservation, cancelTokenHash []byte) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, reservationID string) (model.Reservation, []byte, error)
	Cancel(ctx context.Context, tx pgx.Tx, reservationID, reason string) (time.Time, error)
	ListBookedIntervals(ctx context.Context, expertID string, start, end time.Time) ([]model.Reservation, error)
	ListByExpert(ctx context.Context, expertID string, limit int) ([]model.Reservation, error)
}

type BookingHandler struct {
	reservations   ReservationStore
	events         EventSource
	outboxRepo     *outbox.Repository
	logger         *slog.Logger
	meetingBaseURL string
	slotStep       time.Duration
}

func NewBookingHandler(reservations ReservationStore, events EventSource, outboxRepo *outbox.Repository, logger *slog.Logger, meetingBaseURL string, slotStep time.Duration) *BookingHandler {
	if slotStep <= 0 {
		slotStep = 15 * time.Minute
	}
	return &BookingHandler{
		reservations:   reservations,
		events:         events,
		outboxRepo:     outboxRepo,
		logger:         logger,
		meetingBaseURL: strings.TrimRight(meetingBaseURL, "/"),
		slotStep:       slotStep,
	}
}

type createReservationRequest struct {
	EventID       string `json:"event_id"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestTimezone string `json:"guest_timezone"`
	StartTime     string `json:"start_time"`
}

type createReservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	MeetingURL    string `json:"meeting_url"`
	CancelToken   string `json:"cancel_token,omitempty"`
}

type cancelReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	CancelToken   string `json:"cancel_token"`
	Reason        string `json:"reason"`
}

type cancelReservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type listReservationItem struct {
	ReservationID string `json:"reservation_id"`
	EventID       string `json:"event_id"`
	GuestEmail    string `json:"guest_email"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Create books a free event directly. Paid events must go through the
// payment-intent flow; this endpoint rejects them so a client cannot skip
// checkout.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.EventID = strings.TrimSpace(req.EventID)
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.GuestEmail = strings.ToLower(strings.TrimSpace(req.GuestEmail))
	req.GuestTimezone = strings.TrimSpace(req.GuestTimezone)

	if req.EventID == "" || req.GuestName == "" || req.GuestEmail == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if !strings.Contains(req.GuestEmail, "@") {
		http.Error(w, "invalid guest_email", http.StatusBadRequest)
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	if req.GuestTimezone != "" {
		if _, err := time.LoadLocation(req.GuestTimezone); err != nil {
			http.Error(w, "invalid guest_timezone", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	event, err := h.events.GetByID(ctx, req.EventID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load event", http.StatusInternalServerError)
		return
	}
	if !event.Active {
		http.Error(w, "event is not bookable", http.StatusGone)
		return
	}
	if !event.Free() {
		http.Error(w, "paid events require the payment flow", http.StatusPaymentRequired)
		return
	}

	endTime := startTime.Add(time.Duration(event.DurationMinutes) * time.Minute)

	tx, err := h.reservations.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.reservations.LockIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	ok, err := h.withinSchedule(ctx, event.ExpertID, startTime, endTime)
	if err != nil {
		http.Error(w, "failed to check availability", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "requested time is outside the expert's availability", http.StatusUnprocessableEntity)
		return
	}

	reservationID := uuid.NewString()
	cancelToken := newCancelToken()
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(cancelToken), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "failed to prepare reservation", http.StatusInternalServerError)
		return
	}

	res := &model.Reservation{
		ID:            reservationID,
		EventID:       event.ID,
		ExpertID:      event.ExpertID,
		GuestName:     req.GuestName,
		GuestEmail:    req.GuestEmail,
		GuestTimezone: req.GuestTimezone,
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        model.StatusConfirmed,
		PaymentStatus: "none",
		MeetingURL:    h.meetingBaseURL + "/" + reservationID,
	}

	if _, err := h.reservations.Create(ctx, tx, res, tokenHash); err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "time slot already booked for this guest", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create reservation", http.StatusInternalServerError)
		return
	}

	if err := h.insertCreatedEvent(ctx, tx, res, event); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createReservationResponse{
		ReservationID: reservationID,
		Status:        res.Status,
		MeetingURL:    res.MeetingURL,
		CancelToken:   cancelToken,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		// The replayed response includes the cancel token: the key belongs
		// to the caller who booked, so the replay is not a leak.
		if err := h.reservations.FinalizeIdempotency(ctx, tx, idempotencyKey, reservationID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	req.CancelToken = strings.TrimSpace(req.CancelToken)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ReservationID == "" || req.CancelToken == "" {
		http.Error(w, "reservation_id and cancel_token required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.reservations.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, tokenHash, err := h.reservations.GetForUpdate(ctx, tx, req.ReservationID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "reservation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load reservation", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword(tokenHash, []byte(req.CancelToken)); err != nil {
		http.Error(w, "invalid cancel token", http.StatusForbidden)
		return
	}

	// Cancelling twice is a no-op, not an error.
	if res.Status == model.StatusCancelled && res.CancelledAt != nil {
		h.writeCancelResponse(w, res.ID, res.CancelledAt.UTC())
		return
	}

	cancelledAt, err := h.reservations.Cancel(ctx, tx, res.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel reservation", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"reservation_id": res.ID,
		"event_id":       res.EventID,
		"expert_id":      res.ExpertID,
		"guest_email":    res.GuestEmail,
		"start_time":     res.StartTime.UTC().Format(time.RFC3339),
		"end_time":       res.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "reservation",
		AggregateID:   res.ID,
		EventType:     "booking.reservation.cancelled.v1",
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, res.ID, cancelledAt.UTC())
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slug := strings.TrimSpace(r.PathValue("slug"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if slug == "" || dateStr == "" {
		http.Error(w, "event slug and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	event, err := h.events.GetBySlug(ctx, slug)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load event", http.StatusInternalServerError)
		return
	}

	windows, err := h.dayWindows(ctx, event.ExpertID, date)
	if err != nil {
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	if len(windows) == 0 {
		writeJSON(w, http.StatusOK, []slotItem{})
		return
	}

	minStart, maxEnd := minMaxWindows(windows)
	booked, err := h.reservations.ListBookedIntervals(ctx, event.ExpertID, minStart, maxEnd)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		busy = append(busy, availability.Interval{Start: b.StartTime, End: b.EndTime})
	}

	duration := time.Duration(event.DurationMinutes) * time.Minute
	items := []slotItem{}
	for _, win := range windows {
		for _, s := range availability.AvailableSlots(win.Start, win.End, duration, h.slotStep, busy, time.Now().UTC()) {
			items = append(items, slotItem{
				StartTime: s.UTC().Format(time.RFC3339),
				EndTime:   s.Add(duration).UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expertID := strings.TrimSpace(r.URL.Query().Get("expert_id"))
	if expertID == "" {
		http.Error(w, "expert_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	reservations, err := h.reservations.ListByExpert(r.Context(), expertID, limit)
	if err != nil {
		http.Error(w, "failed to list reservations", http.StatusInternalServerError)
		return
	}

	items := make([]listReservationItem, 0, len(reservations))
	for _, res := range reservations {
		item := listReservationItem{
			ReservationID: res.ID,
			EventID:       res.EventID,
			GuestEmail:    res.GuestEmail,
			StartTime:     res.StartTime.UTC().Format(time.RFC3339),
			EndTime:       res.EndTime.UTC().Format(time.RFC3339),
			Status:        res.Status,
			PaymentStatus: res.PaymentStatus,
			CreatedAt:     res.CreatedAt.UTC().Format(time.RFC3339),
		}
		if res.CancelledAt != nil {
			item.CancelledAt = res.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) withinSchedule(ctx context.Context, expertID string, start, end time.Time) (bool, error) {
	windows, err := h.dayWindows(ctx, expertID, start.UTC())
	if err != nil {
		return false, err
	}
	if availability.Contains(windows, start.UTC(), end.UTC()) {
		return true, nil
	}
	// A window defined in the expert's timezone can spill onto the adjacent
	// UTC date; check both neighbors before rejecting.
	for _, delta := range []time.Duration{-24 * time.Hour, 24 * time.Hour} {
		windows, err = h.dayWindows(ctx, expertID, start.UTC().Add(delta))
		if err != nil {
			return false, err
		}
		if availability.Contains(windows, start.UTC(), end.UTC()) {
			return true, nil
		}
	}
	return false, nil
}

func (h *BookingHandler) dayWindows(ctx context.Context, expertID string, date time.Time) ([]availability.Interval, error) {
	schedule, err := h.events.ListScheduleWindows(ctx, expertID)
	if err != nil {
		return nil, err
	}
	return availability.DayWindows(date, schedule), nil
}

func (h *BookingHandler) insertCreatedEvent(ctx context.Context, tx pgx.Tx, res *model.Reservation, event model.Event) error {
	payload, err := json.Marshal(map[string]any{
		"reservation_id": res.ID,
		"event_id":       res.EventID,
		"event_name":     event.Name,
		"expert_id":      res.ExpertID,
		"expert_name":    event.ExpertName,
		"expert_email":   event.ExpertEmail,
		"guest_name":     res.GuestName,
		"guest_email":    res.GuestEmail,
		"guest_timezone": res.GuestTimezone,
		"start_time":     res.StartTime.UTC().Format(time.RFC3339),
		"end_time":       res.EndTime.UTC().Format(time.RFC3339),
		"meeting_url":    res.MeetingURL,
		"status":         res.Status,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "reservation",
		AggregateID:   res.ID,
		EventType:     "booking.reservation.created.v1",
		Payload:       payload,
	})
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, reservationID string, cancelledAt time.Time) {
	writeJSON(w, http.StatusOK, cancelReservationResponse{
		ReservationID: reservationID,
		Status:        model.StatusCancelled,
		CancelledAt:   cancelledAt.Format(time.RFC3339),
	})
}

func minMaxWindows(windows []availability.Interval) (time.Time, time.Time) {
	var min time.Time
	var max time.Time
	for _, w := range windows {
		if min.IsZero() || w.Start.Before(min) {
			min = w.Start
		}
		if max.IsZero() || w.End.After(max) {
			max = w.End
		}
	}
	return min, max
}

func newCancelToken() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
