// Package dedupe claims queued events so that a redelivered copy is skipped.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a claim outlives the event it guards.
const DefaultTTL = 24 * time.Hour

// Store holds event claims in Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New creates a Store. An empty prefix defaults to "dedupe".
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("dedupe: redis client must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "dedupe"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

// Open connects to the Redis server described by a redis:// or rediss:// URL.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dedupe: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dedupe: ping redis: %w", err)
	}
	return rdb, nil
}

// EventKey identifies one chat message.
func EventKey(chatID, messageID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

func (s *Store) redisKey(key string) string {
	return s.prefix + ":" + key
}

// Claim marks key as being processed. It returns false when key was already
// claimed and the claim has not expired.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.redisKey(key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the claim on key so that a redelivery is processed again.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("dedupe: release %s: %w", key, err)
	}
	return nil
}
