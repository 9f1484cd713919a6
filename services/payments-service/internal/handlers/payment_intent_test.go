package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eleva-care/eleva-backend/libs/cache"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/bookingapi"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/checkout"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/intents"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type fakeEvents struct {
	event storage.Event
	err   error
}

func (f *fakeEvents) GetEvent(ctx context.Context, eventID string) (storage.Event, error) {
	if f.err != nil {
		return storage.Event{}, f.err
	}
	return f.event, nil
}

func (f *fakeEvents) GetEventBySlug(ctx context.Context, username, slug string) (storage.Event, error) {
	if f.err != nil {
		return storage.Event{}, f.err
	}
	if username != f.event.ExpertUsername || slug != f.event.Slug {
		return storage.Event{}, pgx.ErrNoRows
	}
	return f.event, nil
}

type fakeSessions struct {
	recorded []storage.CheckoutSession
}

func (f *fakeSessions) RecordCheckoutSession(ctx context.Context, s storage.CheckoutSession) error {
	f.recorded = append(f.recorded, s)
	return nil
}

type fakeCreator struct {
	calls int
	url   string
	err   error
}

func (f *fakeCreator) Create(ctx context.Context, p checkout.Params) (checkout.Session, error) {
	f.calls++
	if f.err != nil {
		return checkout.Session{}, f.err
	}
	return checkout.Session{ID: fmt.Sprintf("cs_%03d", f.calls), URL: f.url}, nil
}

type fakeBooking struct {
	calls         int
	reservationID string
}

func (f *fakeBooking) CreateReservation(ctx context.Context, idempotencyKey string, req bookingapi.ReservationRequest) (bookingapi.ReservationResponse, error) {
	f.calls++
	return bookingapi.ReservationResponse{ReservationID: f.reservationID, Status: "confirmed"}, nil
}

func paidEvent() storage.Event {
	return storage.Event{
		ID:              "evt_1",
		ExpertID:        "usr_1",
		ExpertUsername:  "dr-silva",
		Slug:            "consultation",
		Name:            "Consultation",
		DurationMinutes: 30,
		PriceCents:      5000,
		Currency:        "eur",
		Active:          true,
	}
}

func newTestHandler(events EventSource, creator checkout.Creator, booking ReservationCreator) (*PaymentIntentHandler, *intents.Store, *fakeSessions) {
	store := intents.NewStore(cache.NewMemory(), nil)
	sessions := &fakeSessions{}
	h := NewPaymentIntentHandler(events, sessions, creator, store, booking,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		PaymentIntentConfig{
			SuccessURL: "https://eleva.care/booking/success",
			CancelURL:  "https://eleva.care/booking/cancelled",
		})
	return h, store, sessions
}

func intentBody() string {
	return `{"event_id":"evt_1","guest_name":"Ana","guest_email":"ana@example.com","guest_timezone":"Europe/Lisbon","start_time":"2026-03-02T10:00:00Z"}`
}

func postIntent(t *testing.T, h *PaymentIntentHandler, body string, idemKey string) (*httptest.ResponseRecorder, paymentIntentResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/create-payment-intent", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rr := httptest.NewRecorder()
	h.Create(rr, req)
	var resp paymentIntentResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr, resp
}

func TestCreateReplaysSameURLForSameKey(t *testing.T) {
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	h, _, sessions := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	rr1, resp1 := postIntent(t, h, intentBody(), "key-1")
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d (%s)", rr1.Code, rr1.Body)
	}
	rr2, resp2 := postIntent(t, h, intentBody(), "key-1")
	if rr2.Code != http.StatusOK {
		t.Fatalf("second request: expected 200, got %d (%s)", rr2.Code, rr2.Body)
	}

	if resp1.URL == "" || resp1.URL != resp2.URL {
		t.Fatalf("expected both requests to return the same url, got %q and %q", resp1.URL, resp2.URL)
	}
	if creator.calls != 1 {
		t.Fatalf("expected exactly one checkout session, creator was called %d times", creator.calls)
	}
	if len(sessions.recorded) != 1 {
		t.Fatalf("expected one recorded session, got %d", len(sessions.recorded))
	}
}

func TestCreateDerivedKeyDedupesWithoutHeader(t *testing.T) {
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	h, _, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	postIntent(t, h, intentBody(), "")
	postIntent(t, h, intentBody(), "")

	if creator.calls != 1 {
		t.Fatalf("expected duplicate submissions to share one session, creator was called %d times", creator.calls)
	}
}

func TestCreateResolvesEventBySlug(t *testing.T) {
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	h, _, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	body := `{"username":"dr-silva","event_slug":"consultation","guest_name":"Ana","guest_email":"ana@example.com","guest_timezone":"Europe/Lisbon","start_time":"2026-03-02T10:00:00Z"}`
	rr, resp := postIntent(t, h, body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body)
	}
	if resp.URL == "" {
		t.Fatal("expected a checkout url")
	}

	// The derived key dedupes the slug-addressed form too.
	postIntent(t, h, body, "")
	if creator.calls != 1 {
		t.Fatalf("expected one checkout session, creator was called %d times", creator.calls)
	}
}

func TestCreateRequiresEventIdentifier(t *testing.T) {
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	h, _, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	// username without event_slug does not identify an event.
	body := `{"username":"dr-silva","guest_name":"Ana","guest_email":"ana@example.com","start_time":"2026-03-02T10:00:00Z"}`
	rr, _ := postIntent(t, h, body, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without an event identifier, got %d", rr.Code)
	}
	if creator.calls != 0 {
		t.Fatal("no session must be created for an unidentifiable event")
	}
}

func TestCreateInFlightSubmissionConflicts(t *testing.T) {
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	h, store, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	store.MarkProcessing(context.Background(), "key-1")
	rr, resp := postIntent(t, h, intentBody(), "key-1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight submission, got %d", rr.Code)
	}
	if resp.Status != "processing" {
		t.Fatalf("expected processing status, got %q", resp.Status)
	}
	if creator.calls != 0 {
		t.Fatal("no session must be created while the original submission is in flight")
	}
}

func TestCreateRejectsUnexpectedCheckoutHost(t *testing.T) {
	creator := &fakeCreator{url: "https://evil.example.com/pay/cs_abc"}
	h, store, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	rr, _ := postIntent(t, h, intentBody(), "key-1")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for checkout url outside the allowlist, got %d", rr.Code)
	}
	rec, ok := store.Get(context.Background(), "key-1")
	if !ok || rec.Status != intents.StatusFailed {
		t.Fatalf("expected failed record after invalid url, got ok=%v rec=%+v", ok, rec)
	}
}

func TestCreateProviderFailureRecordedAsFailed(t *testing.T) {
	creator := &fakeCreator{err: fmt.Errorf("stripe down")}
	h, store, _ := newTestHandler(&fakeEvents{event: paidEvent()}, creator, &fakeBooking{})

	rr, resp := postIntent(t, h, intentBody(), "key-1")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the provider fails, got %d", rr.Code)
	}
	if resp.Status != "failed" {
		t.Fatalf("expected failed status, got %q", resp.Status)
	}
	rec, ok := store.Get(context.Background(), "key-1")
	if !ok || rec.Status != intents.StatusFailed {
		t.Fatalf("expected failed record, got ok=%v rec=%+v", ok, rec)
	}
}

func TestCreateFreeEventBypassesCheckout(t *testing.T) {
	event := paidEvent()
	event.PriceCents = 0
	creator := &fakeCreator{url: "https://checkout.stripe.com/c/pay/cs_abc"}
	booking := &fakeBooking{reservationID: "res_42"}
	h, _, _ := newTestHandler(&fakeEvents{event: event}, creator, booking)

	rr, resp := postIntent(t, h, intentBody(), "key-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body)
	}
	if creator.calls != 0 {
		t.Fatal("free events must not open a checkout session")
	}
	if booking.calls != 1 {
		t.Fatalf("expected one direct reservation call, got %d", booking.calls)
	}
	if resp.ReservationID != "res_42" || !strings.Contains(resp.URL, "reservation=res_42") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
