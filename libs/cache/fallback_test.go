package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingCache simulates an unreachable Redis: every operation errors.
type failingCache struct {
	calls int
}

func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, errors.New("connection refused")
}

func (f *failingCache) Del(context.Context, string) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingCache) Exists(context.Context, string) (bool, error) {
	f.calls++
	return false, errors.New("connection refused")
}

func TestFallbackSurvivesRemoteOutage(t *testing.T) {
	remote := &failingCache{}
	f := NewFallback(remote, NewMemory(), nil)
	ctx := context.Background()

	if err := f.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set must not surface remote errors, got %v", err)
	}
	val, ok, err := f.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("expected local hit, got ok=%v val=%q err=%v", ok, val, err)
	}
	exists, err := f.Exists(ctx, "k")
	if err != nil || !exists {
		t.Fatalf("expected exists=true, got %v err=%v", exists, err)
	}
	if err := f.Del(ctx, "k"); err != nil {
		t.Fatalf("del must not surface remote errors, got %v", err)
	}
	if _, ok, _ := f.Get(ctx, "k"); ok {
		t.Fatal("expected key gone after del")
	}
	if remote.calls == 0 {
		t.Fatal("remote tier was never attempted")
	}
}

func TestFallbackPrefersRemoteResult(t *testing.T) {
	remote := NewMemory()
	local := NewMemory()
	f := NewFallback(remote, local, nil)
	ctx := context.Background()

	// A remote miss is a miss, even when a stale local entry lingers.
	_ = local.Set(ctx, "stale", []byte("old"), time.Minute)
	if _, ok, _ := f.Get(ctx, "stale"); ok {
		t.Fatal("remote miss must not be masked by the local tier")
	}

	_ = f.Set(ctx, "k", []byte("v"), time.Minute)
	val, ok, _ := remote.Get(ctx, "k")
	if !ok || string(val) != "v" {
		t.Fatal("write-through to remote tier did not happen")
	}
}

func TestFallbackWithoutRemote(t *testing.T) {
	f := NewFallback(nil, nil, nil)
	ctx := context.Background()
	if err := f.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := f.Get(ctx, "k"); !ok {
		t.Fatal("expected hit from default local tier")
	}
}
