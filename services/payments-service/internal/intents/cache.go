// Package intents tracks payment-intent submissions in the cache facade so a
// retried request returns the already-created checkout URL instead of opening
// a second session.
package intents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eleva-care/eleva-backend/libs/cache"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is the cached state of one submission. Completed records carry the
// checkout URL; failed records carry the reason so operators can see why.
type Record struct {
	Status    Status    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	cache  cache.Cache
	logger *slog.Logger

	// processing entries expire on their own; a stuck submission becomes
	// retryable once the TTL lapses.
	ProcessingTTL time.Duration
	CompletedTTL  time.Duration
	FailedTTL     time.Duration
}

func NewStore(c cache.Cache, logger *slog.Logger) *Store {
	return &Store{
		cache:         c,
		logger:        logger,
		ProcessingTTL: 5 * time.Minute,
		CompletedTTL:  10 * time.Minute,
		FailedTTL:     time.Minute,
	}
}

// Get returns the record for key, treating a corrupt payload as a miss after
// deleting the offending entry. Cache errors are absorbed: the caller sees a
// miss and proceeds, which at worst re-creates an idempotent session.
func (s *Store) Get(ctx context.Context, key string) (Record, bool) {
	raw, ok, err := s.cache.Get(ctx, s.key(key))
	if err != nil {
		s.warn("get", key, err)
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.warn("decode", key, err)
		_ = s.cache.Del(ctx, s.key(key))
		return Record{}, false
	}
	return rec, true
}

func (s *Store) MarkProcessing(ctx context.Context, key string) {
	s.put(ctx, key, Record{Status: StatusProcessing, CreatedAt: time.Now().UTC()}, s.ProcessingTTL)
}

func (s *Store) Complete(ctx context.Context, key string, url string) {
	s.put(ctx, key, Record{Status: StatusCompleted, URL: url, CreatedAt: time.Now().UTC()}, s.CompletedTTL)
}

func (s *Store) Fail(ctx context.Context, key string, reason string) {
	s.put(ctx, key, Record{Status: StatusFailed, Reason: reason, CreatedAt: time.Now().UTC()}, s.FailedTTL)
}

func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.cache.Del(ctx, s.key(key)); err != nil {
		s.warn("del", key, err)
	}
}

func (s *Store) put(ctx context.Context, key string, rec Record, ttl time.Duration) {
	raw, err := json.Marshal(rec)
	if err != nil {
		s.warn("encode", key, err)
		return
	}
	if err := s.cache.Set(ctx, s.key(key), raw, ttl); err != nil {
		s.warn("set", key, err)
	}
}

func (s *Store) key(key string) string {
	return "intent:" + key
}

func (s *Store) warn(op string, key string, err error) {
	if s.logger != nil {
		s.logger.Warn("intent cache degraded", "op", op, "key", key, "err", err)
	}
}
