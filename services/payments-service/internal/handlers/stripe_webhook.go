package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/outbox"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"golang.org/x/crypto/bcrypt"
)

type WebhookHandler struct {
	repo           *storage.Repository
	outboxRepo     *outbox.Repository
	logger         *slog.Logger
	secret         string
	tolerance      time.Duration
	meetingBaseURL string
}

type WebhookConfig struct {
	StripeWebhookSecret string
	ToleranceSeconds    int
	MeetingBaseURL      string
}

func NewWebhookHandler(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WebhookConfig) *WebhookHandler {
	tolSeconds := cfg.ToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &WebhookHandler{
		repo:           repo,
		outboxRepo:     outboxRepo,
		logger:         logger,
		secret:         strings.TrimSpace(cfg.StripeWebhookSecret),
		tolerance:      time.Duration(tolSeconds) * time.Second,
		meetingBaseURL: strings.TrimRight(cfg.MeetingBaseURL, "/"),
	}
}

// StripeWebhook handles Stripe webhooks (no other auth; signature
// verification is the auth). A completed checkout session materializes the
// confirmed reservation; replays are absorbed by the provider_events table.
func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		if err := h.applyCompleted(r, tx, session, occurredAt); err != nil {
			http.Error(w, "failed to apply payment", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		_ = h.repo.MarkCheckoutSessionExpired(r.Context(), tx, session.ID, occurredAt)
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *WebhookHandler) applyCompleted(r *http.Request, tx pgx.Tx, session stripe.CheckoutSession, occurredAt time.Time) error {
	md := session.Metadata
	eventID := strings.TrimSpace(md["event_id"])
	guestEmail := strings.TrimSpace(md["guest_email"])
	startRaw := strings.TrimSpace(md["start_time"])
	if eventID == "" || guestEmail == "" || startRaw == "" {
		h.logger.Warn("stripe: checkout session missing reservation metadata", "session_id", session.ID)
		return nil
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		h.logger.Warn("stripe: checkout session has invalid start_time metadata", "session_id", session.ID, "start_time", startRaw)
		return nil
	}

	event, err := h.repo.GetEvent(r.Context(), eventID)
	if err != nil {
		h.logger.Error("stripe: event lookup failed for paid session", "err", err, "event_id", eventID)
		return err
	}

	reservationID := uuid.NewString()
	cancelToken := newCancelToken()
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(cancelToken), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	id, created, err := h.repo.ConfirmReservation(r.Context(), tx, storage.Reservation{
		ID:            reservationID,
		EventID:       eventID,
		ExpertID:      event.ExpertID,
		GuestName:     md["guest_name"],
		GuestEmail:    guestEmail,
		GuestTimezone: md["guest_timezone"],
		StartTime:     start,
		EndTime:       start.Add(time.Duration(event.DurationMinutes) * time.Minute),
		MeetingURL:    h.meetingBaseURL + "/" + reservationID,
	}, tokenHash)
	if err != nil {
		return err
	}
	if !created {
		// Another delivery of the same payment already booked it.
		h.logger.Info("stripe: reservation already exists for paid session", "session_id", session.ID, "reservation_id", id)
		_ = h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt)
		return nil
	}

	if err := h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"reservation_id": id,
		"event_id":       eventID,
		"event_name":     event.Name,
		"expert_id":      event.ExpertID,
		"expert_email":   event.ExpertEmail,
		"guest_name":     md["guest_name"],
		"guest_email":    guestEmail,
		"guest_timezone": md["guest_timezone"],
		"start_time":     start.Format(time.RFC3339),
		"meeting_url":    h.meetingBaseURL + "/" + id,
		"cancel_token":   cancelToken,
		"amount_cents":   event.PriceCents,
		"currency":       event.Currency,
		"stripe_session": session.ID,
		"occurred_at":    occurredAt.Format(time.RFC3339),
	})
	return h.outboxRepo.Insert(r.Context(), tx, outbox.Event{
		AggregateType: "reservation",
		AggregateID:   id,
		EventType:     "payments.payment.succeeded.v1",
		Payload:       payload,
	})
}

func newCancelToken() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
