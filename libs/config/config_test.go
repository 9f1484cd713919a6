package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8080")
	if p, err := Port("TEST_PORT", "9090"); err != nil || p != "8080" {
		t.Fatalf("expected 8080, got %q (err=%v)", p, err)
	}

	t.Setenv("TEST_PORT", "not-a-port")
	if _, err := Port("TEST_PORT", "9090"); err == nil {
		t.Fatal("expected error for invalid port")
	}

	t.Setenv("TEST_PORT", "")
	if p, err := Port("TEST_PORT", "9090"); err != nil || p != "9090" {
		t.Fatalf("expected fallback 9090, got %q (err=%v)", p, err)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if d := Duration("TEST_DUR", time.Minute); d != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	t.Setenv("TEST_DUR", "bogus")
	if d := Duration("TEST_DUR", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", d)
	}
}

func TestStringList(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b ,,c")
	got := StringList("TEST_LIST")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list: %v", got)
	}
}
