// Package checkout creates hosted payment sessions for reservation bookings.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

// Params describes one checkout session for a paid booking. IdempotencyKey is
// forwarded to the provider so a retried request reuses the original session.
type Params struct {
	IdempotencyKey string
	EventID        string
	EventName      string
	ExpertUsername string
	GuestName      string
	GuestEmail     string
	GuestTimezone  string
	StartTime      time.Time
	PriceCents     int64
	Currency       string
	SuccessURL     string
	CancelURL      string
}

type Session struct {
	ID  string
	URL string
}

// Creator is the provider boundary. The Stripe implementation is the only
// production one; tests substitute their own.
type Creator interface {
	Create(ctx context.Context, p Params) (Session, error)
}

type StripeCreator struct {
	secretKey string
}

func NewStripeCreator(secretKey string) *StripeCreator {
	return &StripeCreator{secretKey: strings.TrimSpace(secretKey)}
}

func (c *StripeCreator) Create(ctx context.Context, p Params) (Session, error) {
	if c.secretKey == "" {
		return Session{}, fmt.Errorf("stripe secret key not configured")
	}

	// Stripe uses a global API key. Keep usage limited to this call.
	stripe.Key = c.secretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.EventID),
		CustomerEmail:     stripe.String(p.GuestEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(p.Currency)),
					UnitAmount: stripe.Int64(p.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.EventName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"event_id":        p.EventID,
			"expert_username": p.ExpertUsername,
			"guest_name":      p.GuestName,
			"guest_email":     p.GuestEmail,
			"guest_timezone":  p.GuestTimezone,
			"start_time":      p.StartTime.UTC().Format(time.RFC3339),
		},
	}
	params.AddExpand("url")
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}
