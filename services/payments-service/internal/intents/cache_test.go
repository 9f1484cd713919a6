package intents

import (
	"context"
	"testing"
	"time"

	"github.com/eleva-care/eleva-backend/libs/cache"
)

func TestStoreStateTransitions(t *testing.T) {
	s := NewStore(cache.NewMemory(), nil)
	ctx := context.Background()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected miss before first submission")
	}

	s.MarkProcessing(ctx, "k")
	rec, ok := s.Get(ctx, "k")
	if !ok || rec.Status != StatusProcessing {
		t.Fatalf("expected processing, got ok=%v rec=%+v", ok, rec)
	}

	s.Complete(ctx, "k", "https://checkout.stripe.com/c/pay/cs_123")
	rec, ok = s.Get(ctx, "k")
	if !ok || rec.Status != StatusCompleted || rec.URL == "" {
		t.Fatalf("expected completed with url, got ok=%v rec=%+v", ok, rec)
	}

	s.Fail(ctx, "other", "stripe unavailable")
	rec, ok = s.Get(ctx, "other")
	if !ok || rec.Status != StatusFailed || rec.Reason == "" {
		t.Fatalf("expected failed with reason, got ok=%v rec=%+v", ok, rec)
	}
}

func TestStoreCorruptEntryTreatedAsMiss(t *testing.T) {
	mem := cache.NewMemory()
	s := NewStore(mem, nil)
	ctx := context.Background()

	// Something wrote garbage under our key.
	_ = mem.Set(ctx, "intent:k", []byte("{not json"), time.Minute)

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected corrupt entry to read as miss")
	}
	// The offending entry must be gone so the next write starts clean.
	if ok, _ := mem.Exists(ctx, "intent:k"); ok {
		t.Fatal("expected corrupt entry to be deleted")
	}
}
