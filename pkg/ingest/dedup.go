package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupTTL bounds the redis footprint; entries only need to outlive the
// provider's redelivery window.
const dedupTTL = 24 * time.Hour

// Deduper is a best-effort duplicate detector. It exists purely to shed
// database load on duplicate deliveries; the unique event insert stays
// authoritative, so losing dedup state is harmless. An event may only be
// marked once it is durably recorded, otherwise a failed insert followed
// by a redelivery would be short-circuited and the event lost.
type Deduper interface {
	// Seen reports whether the (provider, eventID) pair was marked.
	Seen(ctx context.Context, providerName, eventID string) (bool, error)

	// Mark records the pair after its durable insert succeeded.
	Mark(ctx context.Context, providerName, eventID string) error
}

// RedisDeduper implements Deduper on redis.
type RedisDeduper struct {
	client *redis.Client
	prefix string
}

// NewDeduper creates a redis-backed deduper. Panics if client is nil.
func NewDeduper(client *redis.Client) *RedisDeduper {
	if client == nil {
		panic("ingest: redis client is required")
	}
	return &RedisDeduper{client: client, prefix: "billing:webhook:"}
}

func (d *RedisDeduper) Seen(ctx context.Context, providerName, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+providerName+":"+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, providerName, eventID string) error {
	return d.client.SetNX(ctx, d.prefix+providerName+":"+eventID, 1, dedupTTL).Err()
}
