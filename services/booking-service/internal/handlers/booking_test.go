package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleva-care/eleva-backend/services/booking-service/internal/availability"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/model"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type fakeEventSource struct {
	events  []model.Event
	windows []model.ScheduleWindow
}

func (f *fakeEventSource) GetByID(ctx context.Context, eventID string) (model.Event, error) {
	for _, e := range f.events {
		if e.ID == eventID {
			return e, nil
		}
	}
	return model.Event{}, pgx.ErrNoRows
}

func (f *fakeEventSource) GetBySlug(ctx context.Context, slug string) (model.Event, error) {
	for _, e := range f.events {
		if e.Slug == slug {
			return e, nil
		}
	}
	return model.Event{}, pgx.ErrNoRows
}

func (f *fakeEventSource) ListScheduleWindows(ctx context.Context, expertID string) ([]model.ScheduleWindow, error) {
	return f.windows, nil
}

// fakeReservationStore serves the read paths; the write paths are not
// exercised by the slots tests.
type fakeReservationStore struct {
	booked []model.Reservation
}

func (f *fakeReservationStore) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }

func (f *fakeReservationStore) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (storage.IdempotencyRecord, bool, error) {
	return storage.IdempotencyRecord{}, false, nil
}

func (f *fakeReservationStore) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, reservationID string, statusCode int, response []byte) error {
	return nil
}

func (f *fakeReservationStore) Create(ctx context.Context, tx pgx.Tx, res *model.Reservation, cancelTokenHash []byte) (string, error) {
	return res.ID, nil
}

func (f *fakeReservationStore) GetForUpdate(ctx context.Context, tx pgx.Tx, reservationID string) (model.Reservation, []byte, error) {
	return model.Reservation{}, nil, pgx.ErrNoRows
}

func (f *fakeReservationStore) Cancel(ctx context.Context, tx pgx.Tx, reservationID, reason string) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeReservationStore) ListBookedIntervals(ctx context.Context, expertID string, start, end time.Time) ([]model.Reservation, error) {
	return f.booked, nil
}

func (f *fakeReservationStore) ListByExpert(ctx context.Context, expertID string, limit int) ([]model.Reservation, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func slotsMux(h *BookingHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events/{slug}/slots", h.Slots)
	return mux
}

func TestSlotsResolvesEventBySlugPath(t *testing.T) {
	events := &fakeEventSource{
		events: []model.Event{{
			ID:              "evt_1",
			ExpertID:        "usr_1",
			Slug:            "deep-consult",
			Name:            "Deep Consultation",
			DurationMinutes: 60,
			Active:          true,
		}},
		// 2027-03-01 is a Monday.
		windows: []model.ScheduleWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 11 * 60, Timezone: "UTC"},
		},
	}
	h := NewBookingHandler(&fakeReservationStore{}, events, nil, testLogger(), "https://meet.eleva.care", 30*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/events/deep-consult/slots?date=2027-03-01", nil)
	rr := httptest.NewRecorder()
	slotsMux(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body)
	}
	var items []slotItem
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	// 60-minute bookings on a 30-minute grid inside 09:00-11:00.
	if len(items) != 3 {
		t.Fatalf("expected 3 slots, got %d: %+v", len(items), items)
	}
	if items[0].StartTime != "2027-03-01T09:00:00Z" || items[0].EndTime != "2027-03-01T10:00:00Z" {
		t.Fatalf("unexpected first slot: %+v", items[0])
	}
}

func TestSlotsUnknownSlugNotFound(t *testing.T) {
	h := NewBookingHandler(&fakeReservationStore{}, &fakeEventSource{}, nil, testLogger(), "https://meet.eleva.care", 30*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/events/no-such-event/slots?date=2027-03-01", nil)
	rr := httptest.NewRecorder()
	slotsMux(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSlotsExcludesBookedIntervals(t *testing.T) {
	events := &fakeEventSource{
		events: []model.Event{{
			ID:              "evt_1",
			ExpertID:        "usr_1",
			Slug:            "deep-consult",
			DurationMinutes: 60,
			Active:          true,
		}},
		windows: []model.ScheduleWindow{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 11 * 60, Timezone: "UTC"},
		},
	}
	store := &fakeReservationStore{booked: []model.Reservation{{
		StartTime: time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2027, 3, 1, 10, 0, 0, 0, time.UTC),
	}}}
	h := NewBookingHandler(store, events, nil, testLogger(), "https://meet.eleva.care", 30*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/events/deep-consult/slots?date=2027-03-01", nil)
	rr := httptest.NewRecorder()
	slotsMux(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body)
	}
	var items []slotItem
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	// Only 10:00 survives: 09:00 and 09:30 overlap the booked hour.
	if len(items) != 1 || items[0].StartTime != "2027-03-01T10:00:00Z" {
		t.Fatalf("unexpected slots: %+v", items)
	}
}

func TestMinMaxWindows(t *testing.T) {
	base := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	windows := []availability.Interval{
		{Start: base.Add(4 * time.Hour), End: base.Add(8 * time.Hour)},
		{Start: base, End: base.Add(3 * time.Hour)},
	}
	min, max := minMaxWindows(windows)
	if !min.Equal(base) {
		t.Fatalf("expected min %s, got %s", base, min)
	}
	if !max.Equal(base.Add(8 * time.Hour)) {
		t.Fatalf("expected max %s, got %s", base.Add(8*time.Hour), max)
	}
}

func TestNewCancelToken(t *testing.T) {
	a := newCancelToken()
	b := newCancelToken()
	if a == b {
		t.Fatal("tokens must be unique")
	}
	if len(a) < 30 {
		t.Fatalf("token too short: %d chars", len(a))
	}
}
