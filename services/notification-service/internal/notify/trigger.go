// Package notify delivers reminders and confirmations to guests and experts,
// either through a Novu-compatible workflow engine or plain SMTP.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Subscriber struct {
	SubscriberID string `json:"subscriberId"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
}

// Trigger fires one workflow for one recipient. The transactionID is the
// engine-side idempotency key: re-triggering with the same id must not
// deliver a second notification.
type Trigger interface {
	Trigger(ctx context.Context, workflow string, transactionID string, to Subscriber, payload map[string]any) error
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Configured() bool { return c.baseURL != "" && c.apiKey != "" }

type triggerRequest struct {
	Name          string         `json:"name"`
	To            Subscriber     `json:"to"`
	Payload       map[string]any `json:"payload,omitempty"`
	TransactionID string         `json:"transactionId"`
}

func (c *Client) Trigger(ctx context.Context, workflow string, transactionID string, to Subscriber, payload map[string]any) error {
	if !c.Configured() {
		return fmt.Errorf("notification engine not configured")
	}

	body, err := json.Marshal(triggerRequest{
		Name:          workflow,
		To:            to,
		Payload:       payload,
		TransactionID: transactionID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/events/trigger", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "ApiKey "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", workflow, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("trigger %s: engine returned %d: %s", workflow, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// Noop logs instead of delivering. Used in development and as the fallback
// when no engine is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Trigger(ctx context.Context, workflow string, transactionID string, to Subscriber, payload map[string]any) error {
	if n.Logger != nil {
		n.Logger.Info("notification skipped (noop trigger)",
			"workflow", workflow,
			"transaction_id", transactionID,
			"subscriber", to.SubscriberID,
		)
	}
	return nil
}
