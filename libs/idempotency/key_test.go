package idempotency

import (
	"testing"
	"time"
)

func TestSubmissionKeyDeterministic(t *testing.T) {
	start := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
	a := SubmissionKey("evt_123", "Guest@Example.COM", start)
	b := SubmissionKey("evt_123", "guest@example.com", start)
	if a != b {
		t.Fatalf("expected identical keys, got %q vs %q", a, b)
	}

	// Same instant expressed in another zone must collide.
	lisbon, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c := SubmissionKey("evt_123", "guest@example.com", start.In(lisbon))
	if a != c {
		t.Fatalf("expected zone-independent key, got %q vs %q", a, c)
	}

	d := SubmissionKey("evt_123", "guest@example.com", start.Add(time.Minute))
	if a == d {
		t.Fatal("different start times must not collide")
	}
}

func TestKeyCharset(t *testing.T) {
	inputs := [][]string{
		{"evt 123", "guest+tag@example.com", "2026-04-02T15:30:00Z"},
		{"  spaced  ", "UPPER", "sym!@#$%^&*()"},
		{"", "only"},
		{"emojiéü", "a/b\\c"},
	}
	for _, parts := range inputs {
		key := Key(parts...)
		for _, r := range key {
			valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
			if !valid {
				t.Fatalf("key %q contains invalid rune %q", key, r)
			}
		}
	}
}

func TestKeyDropsEmptyParts(t *testing.T) {
	if got := Key("a", "", "   ", "b"); got != "a-b" {
		t.Fatalf("expected a-b, got %q", got)
	}
}

func TestReminderKey(t *testing.T) {
	got := ReminderKey("24h", "guest", "res_ABC")
	want := "reminder-24h-guest-res_abc"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got != ReminderKey("24h", "guest", "res_ABC") {
		t.Fatal("reminder key must be stable across runs")
	}
}
