// Package idempotency builds the deterministic keys used to deduplicate
// booking submissions, payment-intent requests, and reminder sends.
package idempotency

import (
	"strings"
	"time"
)

// Key normalizes and joins the given parts into a deterministic token.
// Each part is trimmed, lowercased, and filtered to [a-z0-9-_]; parts are
// joined with "-". Empty parts are dropped.
func Key(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = sanitize(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "-")
}

// SubmissionKey identifies one booking attempt: same event, same guest,
// same slot. The timestamp is canonicalized to RFC 3339 UTC before
// filtering so equivalent instants in different zones collide.
func SubmissionKey(eventID string, guestEmail string, startTime time.Time) string {
	return Key("booking", eventID, guestEmail, startTime.UTC().Format(time.RFC3339))
}

// ReminderKey identifies one reminder send per window, role, and
// reservation. Reused across cron runs so the provider can deduplicate.
func ReminderKey(window string, role string, reservationID string) string {
	return Key("reminder", window, role, reservationID)
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
