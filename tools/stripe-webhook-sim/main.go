// stripe-webhook-sim posts a signed, fake Stripe event to the payments
// service so the checkout completion path can be exercised without a real
// Stripe account.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL    = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "payments service base url")
		evtType    = flag.String("type", getenv("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		eventID    = flag.String("event-id", getenv("EVENT_ID", ""), "event_id metadata (the bookable event)")
		guestEmail = flag.String("guest-email", getenv("GUEST_EMAIL", "guest@example.com"), "guest_email metadata")
		guestName  = flag.String("guest-name", getenv("GUEST_NAME", "Test Guest"), "guest_name metadata")
		startTime  = flag.String("start-time", getenv("START_TIME", ""), "start_time metadata (RFC3339)")
		secret     = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*eventID) == "" {
		fatal("EVENT_ID is required")
	}
	start := strings.TrimSpace(*startTime)
	if start == "" {
		start = time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour).Format(time.RFC3339)
	}
	if _, err := time.Parse(time.RFC3339, start); err != nil {
		fatal("START_TIME must be RFC3339: " + err.Error())
	}

	now := time.Now().UTC()
	providerEventID := fmt.Sprintf("evt_test_%d", now.UnixNano())

	payload, err := buildEventJSON(providerEventID, *evtType, now, map[string]string{
		"event_id":       *eventID,
		"guest_name":     *guestName,
		"guest_email":    *guestEmail,
		"guest_timezone": getenv("GUEST_TIMEZONE", "Europe/Lisbon"),
		"start_time":     start,
	})
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/payments/stripe/webhook", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("status=%d\n", resp.StatusCode)
}

func buildEventJSON(providerEventID, eventType string, t time.Time, metadata map[string]string) ([]byte, error) {
	switch eventType {
	case "checkout.session.completed", "checkout.session.expired":
		return json.Marshal(map[string]any{
			"id":          providerEventID,
			"object":      "event",
			"created":     t.Unix(),
			"type":        eventType,
			"api_version": "2020-08-27",
			"data": map[string]any{
				"object": map[string]any{
					"id":       fmt.Sprintf("cs_test_%d", t.UnixNano()),
					"object":   "checkout.session",
					"metadata": metadata,
				},
			},
		})
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
