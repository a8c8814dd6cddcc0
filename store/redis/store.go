// Package redis implements the herald store on Redis. Entities are JSON
// values read through grove KV; claims, attempt saves and batch inserts run
// as Lua scripts so each is atomic on the server.
//
// Scripts derive per-record keys from prefixes, so all herald keys must live
// on one node (no cluster slot spreading).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	heraldstore "github.com/xraph/herald/store"
)

// compile-time interface check
var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store using Redis via Grove KV.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a new Redis store backed by Grove KV.
func New(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// NewClient creates a store directly on a go-redis client, for callers that
// do not run a grove KV store.
func NewClient(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the KV store.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// scoreFromTime converts a time.Time to a sorted set score (unix milliseconds).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// isNotFound checks if an error is a KV not-found sentinel.
func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound)
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity. A missing key reports
// kv.ErrNotFound on both paths.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	var (
		raw []byte
		err error
	)
	if s.kv != nil {
		raw, err = s.kv.GetRaw(ctx, key)
	} else {
		raw, err = s.rdb.Get(ctx, key).Bytes()
		if isRedisNil(err) {
			err = kv.ErrNotFound
		}
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// setEntity encodes and stores a JSON entity under a key.
func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal entity: %w", err)
	}
	if s.kv != nil {
		return s.kv.SetRaw(ctx, key, raw)
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

// deleteEntity removes a key.
func (s *Store) deleteEntity(ctx context.Context, key string) error {
	if s.kv != nil {
		return s.kv.Delete(ctx, key)
	}
	return s.rdb.Del(ctx, key).Err()
}

// applyPagination applies offset and limit to a slice.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return []*T{}
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func topEventTypes(counts map[string]int64, limit int) []delivery.EventTypeCount {
	out := make([]delivery.EventTypeCount, 0, len(counts))
	for et, n := range counts {
		out = append(out, delivery.EventTypeCount{EventType: et, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EventType < out[j].EventType
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isDeliveryNotFound(err error) bool {
	return errors.Is(err, herald.ErrDeliveryNotFound)
}
