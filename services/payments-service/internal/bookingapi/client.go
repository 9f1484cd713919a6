// Package bookingapi is a thin HTTP client for the booking service, used to
// create reservations for free events directly (no checkout round trip).
package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Configured() bool { return c.baseURL != "" }

type ReservationRequest struct {
	EventID       string `json:"event_id"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestTimezone string `json:"guest_timezone"`
	StartTime     string `json:"start_time"`
}

type ReservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	MeetingURL    string `json:"meeting_url"`
	CancelToken   string `json:"cancel_token,omitempty"`
}

// CreateReservation posts to the booking service, passing the caller's
// idempotency key through so retries replay instead of double booking.
func (c *Client) CreateReservation(ctx context.Context, idempotencyKey string, req ReservationRequest) (ReservationResponse, error) {
	if !c.Configured() {
		return ReservationResponse{}, fmt.Errorf("booking service base url not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ReservationResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reservations", bytes.NewReader(body))
	if err != nil {
		return ReservationResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ReservationResponse{}, fmt.Errorf("booking service request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ReservationResponse{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return ReservationResponse{}, fmt.Errorf("booking service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out ReservationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ReservationResponse{}, fmt.Errorf("booking service response: %w", err)
	}
	return out, nil
}
