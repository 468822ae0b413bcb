package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed MetadataStore backend. Lists are Redis
// lists; hash records are Redis hashes with TTL; the atomic move primitive
// is Redis's BLMOVE, which moves one element from the tail of src to the
// head of dst in a single server-side step — the key reliability primitive
// the task queue's dequeue depends on (spec §4.5).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SupportsAtomicMove() bool { return true }

func (s *RedisStore) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	vals := make(map[string]any, len(fields))
	for k, v := range fields {
		vals[k] = v
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, vals)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: set hash %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetHash(ctx context.Context, key string) (map[string]string, bool, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("store: get hash %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return fields, true, nil
}

func (s *RedisStore) UpdateHash(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("store: update hash %s: exists check: %w", key, err)
	}
	if exists == 0 {
		return nil
	}
	vals := make(map[string]any, len(fields))
	for k, v := range fields {
		vals[k] = v
	}
	if err := s.client.HSet(ctx, key, vals).Err(); err != nil {
		return fmt.Errorf("store: update hash %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) DeleteHash(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: delete hash %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ListPushHead(ctx context.Context, list, value string) error {
	if err := s.client.LPush(ctx, list, value).Err(); err != nil {
		return fmt.Errorf("store: lpush %s: %w", list, err)
	}
	return nil
}

func (s *RedisStore) ListPushTail(ctx context.Context, list, value string) error {
	if err := s.client.RPush(ctx, list, value).Err(); err != nil {
		return fmt.Errorf("store: rpush %s: %w", list, err)
	}
	return nil
}

func (s *RedisStore) ListLen(ctx context.Context, list string) (int64, error) {
	n, err := s.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("store: llen %s: %w", list, err)
	}
	return n, nil
}

func (s *RedisStore) ListRange(ctx context.Context, list string, limit int64) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	vals, err := s.client.LRange(ctx, list, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("store: lrange %s: %w", list, err)
	}
	return vals, nil
}

func (s *RedisStore) ListRemove(ctx context.Context, list, value string) error {
	if err := s.client.LRem(ctx, list, 1, value).Err(); err != nil {
		return fmt.Errorf("store: lrem %s: %w", list, err)
	}
	return nil
}

// ListPosition tries LPOS first (Redis >= 6.0.6) for a native lookup;
// when LPOS fails (older Redis without the command, or any other error)
// it falls back to a linear scan via LRange, matching spec §4.5's
// documented fallback.
func (s *RedisStore) ListPosition(ctx context.Context, list, value string) (int64, error) {
	idx, err := s.client.LPos(ctx, list, value, redis.LPosArgs{}).Result()
	if err == nil {
		// LPos is 0-based from the head; the spec counts 1-based from the
		// tail (next-to-dequeue = 1), so convert using list length.
		length, lerr := s.ListLen(ctx, list)
		if lerr != nil {
			return 0, lerr
		}
		return length - idx, nil
	}
	if !errors.Is(err, redis.Nil) {
		// LPOS unsupported (e.g. older Redis) or other error: fall back to
		// a linear scan.
		return s.listPositionScan(ctx, list, value)
	}
	return 0, nil // not found
}

func (s *RedisStore) listPositionScan(ctx context.Context, list, value string) (int64, error) {
	vals, err := s.ListRange(ctx, list, 0)
	if err != nil {
		return 0, err
	}
	for i, v := range vals {
		if v == value {
			return int64(len(vals) - i), nil
		}
	}
	return 0, nil
}

func (s *RedisStore) AtomicMove(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	val, err := s.client.BLMove(ctx, src, dst, "right", "left", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil // timed out, nothing available
	}
	if err != nil {
		return "", false, fmt.Errorf("store: atomic move %s->%s: %w", src, dst, err)
	}
	return val, true, nil
}

func (s *RedisStore) NextSeq(ctx context.Context, counter string) (int64, error) {
	n, err := s.client.Incr(ctx, counter).Result()
	if err != nil {
		return 0, fmt.Errorf("store: incr %s: %w", counter, err)
	}
	return n, nil
}

func (s *RedisStore) IncrFieldAndListRemove(ctx context.Context, hashKey, field string, delta int64, list, value string) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, hashKey, field, delta)
		pipe.LRem(ctx, list, 1, value)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: incr field %s/%s and remove from %s: %w", hashKey, field, list, err)
	}
	return incr.Val(), nil
}
