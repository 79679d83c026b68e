package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared, server-side last-known-good cache. Records are
// stored as JSON strings under one key per (bus, driver) with a TTL so a
// bus that stops reporting eventually ages out.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client. A zero ttl keeps records
// until overwritten.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, busID, driverID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.key(busID, driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fallback redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("fallback redis decode: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Cache(ctx context.Context, rec Record) error {
	// read-compare-write; last-writer-wins races are acceptable here because
	// the single-writer invariant serializes producers per bus
	old, err := s.Get(ctx, rec.BusID, rec.DriverID)
	if err != nil {
		return err
	}
	if old != nil && old.Timestamp.After(rec.Timestamp) {
		return nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("fallback redis encode: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(rec.BusID, rec.DriverID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("fallback redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) key(busID, driverID string) string {
	return "fallback:bus:" + busID + ":driver:" + driverID
}
