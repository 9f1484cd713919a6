package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/idempotency"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/bookingapi"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/checkout"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/intents"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/storage"
)

// EventSource loads the bookable event a payment is for, by id or by the
// public (username, slug) pair.
type EventSource interface {
	GetEvent(ctx context.Context, eventID string) (storage.Event, error)
	GetEventBySlug(ctx context.Context, username, slug string) (storage.Event, error)
}

// SessionRecorder persists created checkout sessions for observability and
// the webhook's status updates.
type SessionRecorder interface {
	RecordCheckoutSession(ctx context.Context, s storage.CheckoutSession) error
}

// ReservationCreator books free events directly, skipping checkout.
type ReservationCreator interface {
	CreateReservation(ctx context.Context, idempotencyKey string, req bookingapi.ReservationRequest) (bookingapi.ReservationResponse, error)
}

type PaymentIntentHandler struct {
	events   EventSource
	sessions SessionRecorder
	creator  checkout.Creator
	intents  *intents.Store
	booking  ReservationCreator
	logger   *slog.Logger

	successURL   string
	cancelURL    string
	allowedHosts map[string]bool
}

type PaymentIntentConfig struct {
	SuccessURL string
	CancelURL  string
	// Extra hosts accepted in provider checkout URLs, beyond the Stripe
	// default. A URL outside the allowlist is treated as a hard failure.
	ExtraCheckoutHosts []string
}

func NewPaymentIntentHandler(
	events EventSource,
	sessions SessionRecorder,
	creator checkout.Creator,
	store *intents.Store,
	booking ReservationCreator,
	logger *slog.Logger,
	cfg PaymentIntentConfig,
) *PaymentIntentHandler {
	allowed := map[string]bool{"checkout.stripe.com": true}
	for _, h := range cfg.ExtraCheckoutHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = true
		}
	}
	return &PaymentIntentHandler{
		events:       events,
		sessions:     sessions,
		creator:      creator,
		intents:      store,
		booking:      booking,
		logger:       logger,
		successURL:   strings.TrimSpace(cfg.SuccessURL),
		cancelURL:    strings.TrimSpace(cfg.CancelURL),
		allowedHosts: allowed,
	}
}

// The event is addressed either by id or by the (username, event_slug) pair
// the public booking page knows.
type paymentIntentRequest struct {
	EventID       string `json:"event_id"`
	EventSlug     string `json:"event_slug"`
	Username      string `json:"username"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestTimezone string `json:"guest_timezone"`
	StartTime     string `json:"start_time"`
}

type paymentIntentResponse struct {
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Create handles POST /api/create-payment-intent. The submission is tracked
// in the cache under an idempotency key so a double-submitted form gets the
// original checkout URL back instead of a second session.
func (h *PaymentIntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.EventSlug = strings.TrimSpace(req.EventSlug)
	req.Username = strings.TrimSpace(req.Username)
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.GuestEmail = strings.TrimSpace(strings.ToLower(req.GuestEmail))
	req.GuestTimezone = strings.TrimSpace(req.GuestTimezone)
	if req.GuestName == "" || req.GuestEmail == "" || req.StartTime == "" {
		http.Error(w, "guest_name, guest_email and start_time are required", http.StatusBadRequest)
		return
	}
	if req.EventID == "" && (req.Username == "" || req.EventSlug == "") {
		http.Error(w, "event_id or username and event_slug are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	eventRef := req.EventID
	if eventRef == "" {
		eventRef = req.Username + "-" + req.EventSlug
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		// Deterministic fallback prevents accidental duplicates when
		// clients don't send Idempotency-Key.
		key = idempotency.SubmissionKey(eventRef, req.GuestEmail, start)
	}

	if rec, ok := h.intents.Get(r.Context(), key); ok {
		switch rec.Status {
		case intents.StatusProcessing:
			writeJSON(w, http.StatusConflict, paymentIntentResponse{Status: "processing"})
			return
		case intents.StatusCompleted:
			writeJSON(w, http.StatusOK, paymentIntentResponse{Status: "completed", URL: rec.URL})
			return
		case intents.StatusFailed:
			writeJSON(w, http.StatusBadGateway, paymentIntentResponse{Status: "failed", Reason: rec.Reason})
			return
		}
	}

	h.intents.MarkProcessing(r.Context(), key)

	var event storage.Event
	if req.EventID != "" {
		event, err = h.events.GetEvent(r.Context(), req.EventID)
	} else {
		event, err = h.events.GetEventBySlug(r.Context(), req.Username, req.EventSlug)
	}
	if err != nil {
		// Clear the marker so a corrected retry is not stuck behind it.
		h.intents.Delete(r.Context(), key)
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if !event.Active {
		h.intents.Delete(r.Context(), key)
		http.Error(w, "event is not bookable", http.StatusGone)
		return
	}
	req.EventID = event.ID

	if event.Free() {
		h.createFreeReservation(w, r, key, req)
		return
	}

	sess, err := h.creator.Create(r.Context(), checkout.Params{
		IdempotencyKey: key,
		EventID:        event.ID,
		EventName:      event.Name,
		ExpertUsername: event.ExpertUsername,
		GuestName:      req.GuestName,
		GuestEmail:     req.GuestEmail,
		GuestTimezone:  req.GuestTimezone,
		StartTime:      start,
		PriceCents:     event.PriceCents,
		Currency:       event.Currency,
		SuccessURL:     h.successURL,
		CancelURL:      h.cancelURL,
	})
	if err != nil {
		h.logger.Error("checkout session create failed", "err", err, "event_id", event.ID)
		h.intents.Fail(r.Context(), key, "payment provider unavailable")
		writeJSON(w, http.StatusBadGateway, paymentIntentResponse{Status: "failed", Reason: "payment provider unavailable"})
		return
	}

	if !h.validCheckoutURL(sess.URL) {
		// A session we cannot hand to the guest is unusable. Surface a hard
		// failure rather than redirecting to an unexpected host.
		h.logger.Error("checkout session returned invalid url", "session_id", sess.ID, "url", sess.URL)
		h.intents.Fail(r.Context(), key, "invalid checkout url")
		http.Error(w, "invalid checkout url", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.RecordCheckoutSession(r.Context(), storage.CheckoutSession{
		StripeSessionID: sess.ID,
		EventID:         event.ID,
		GuestEmail:      req.GuestEmail,
		StartTime:       start,
		Status:          "created",
		URL:             sess.URL,
	}); err != nil {
		// The webhook performs the durable write; losing this row costs
		// observability, not correctness.
		h.logger.Warn("failed to persist checkout session", "err", err, "session_id", sess.ID)
	}

	h.intents.Complete(r.Context(), key, sess.URL)
	writeJSON(w, http.StatusOK, paymentIntentResponse{Status: "completed", URL: sess.URL, SessionID: sess.ID})
}

func (h *PaymentIntentHandler) createFreeReservation(w http.ResponseWriter, r *http.Request, key string, req paymentIntentRequest) {
	resp, err := h.booking.CreateReservation(r.Context(), key, bookingapi.ReservationRequest{
		EventID:       req.EventID,
		GuestName:     req.GuestName,
		GuestEmail:    req.GuestEmail,
		GuestTimezone: req.GuestTimezone,
		StartTime:     req.StartTime,
	})
	if err != nil {
		h.logger.Error("free reservation create failed", "err", err, "event_id", req.EventID)
		h.intents.Fail(r.Context(), key, "booking service unavailable")
		writeJSON(w, http.StatusBadGateway, paymentIntentResponse{Status: "failed", Reason: "booking service unavailable"})
		return
	}

	confirmURL := withQueryParam(h.successURL, "reservation", resp.ReservationID)
	h.intents.Complete(r.Context(), key, confirmURL)
	writeJSON(w, http.StatusOK, paymentIntentResponse{
		Status:        "completed",
		URL:           confirmURL,
		ReservationID: resp.ReservationID,
	})
}

func (h *PaymentIntentHandler) validCheckoutURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	return h.allowedHosts[strings.ToLower(u.Hostname())]
}

func withQueryParam(rawURL string, key string, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
