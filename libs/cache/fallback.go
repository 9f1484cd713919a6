package cache

import (
	"context"
	"log/slog"
	"time"
)

// Fallback composes a remote cache with an in-process one. Remote failures
// are logged and absorbed, never returned to the caller: when Redis is down
// the caller keeps working against the local tier (fail-open). The local tier
// is not shared across instances, so cross-instance guarantees degrade to
// best-effort until the remote tier recovers.
type Fallback struct {
	remote Cache
	local  Cache
	logger *slog.Logger
}

func NewFallback(remote Cache, local Cache, logger *slog.Logger) *Fallback {
	if local == nil {
		local = NewMemory()
	}
	return &Fallback{remote: remote, local: local, logger: logger}
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// Write-through to the local tier first so it is warm if the remote
	// tier drops out mid-flight.
	_ = f.local.Set(ctx, key, value, ttl)
	if f.remote == nil {
		return nil
	}
	if err := f.remote.Set(ctx, key, value, ttl); err != nil {
		f.warn("set", key, err)
	}
	return nil
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.remote != nil {
		val, ok, err := f.remote.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		f.warn("get", key, err)
	}
	return f.local.Get(ctx, key)
}

func (f *Fallback) Del(ctx context.Context, key string) error {
	_ = f.local.Del(ctx, key)
	if f.remote == nil {
		return nil
	}
	if err := f.remote.Del(ctx, key); err != nil {
		f.warn("del", key, err)
	}
	return nil
}

func (f *Fallback) Exists(ctx context.Context, key string) (bool, error) {
	if f.remote != nil {
		ok, err := f.remote.Exists(ctx, key)
		if err == nil {
			return ok, nil
		}
		f.warn("exists", key, err)
	}
	return f.local.Exists(ctx, key)
}

func (f *Fallback) warn(op string, key string, err error) {
	if f.logger != nil {
		f.logger.Warn("remote cache unavailable, using in-process fallback", "op", op, "key", key, "err", err)
	}
}
