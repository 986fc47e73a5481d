package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long a provider message id is remembered for
// at-least-once webhook replay suppression.
const DefaultDedupTTL = 24 * time.Hour

// Deduper suppresses repeated ingestion of the same provider message using a
// Redis SetNX lock. A nil Deduper is valid and never suppresses anything;
// the database unique index remains the backstop either way.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{rdb: rdb, ttl: ttl}
}

// FirstSeen reports whether this is the first time the account's message id
// is being processed. When Redis is unavailable it returns true rather than
// blocking ingestion.
func (d *Deduper) FirstSeen(ctx context.Context, accountID, providerMessageID string) bool {
	if d == nil || d.rdb == nil || providerMessageID == "" {
		return true
	}

	ok, err := d.rdb.SetNX(ctx, dedupKey(accountID, providerMessageID), 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Forget releases a claim taken by FirstSeen, so a message whose pipeline
// failed after the dedup check can be redelivered.
func (d *Deduper) Forget(ctx context.Context, accountID, providerMessageID string) {
	if d == nil || d.rdb == nil || providerMessageID == "" {
		return
	}
	d.rdb.Del(ctx, dedupKey(accountID, providerMessageID))
}

func dedupKey(accountID, providerMessageID string) string {
	return fmt.Sprintf("ingest:dedup:%s:%s", accountID, providerMessageID)
}
