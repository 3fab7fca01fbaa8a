package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 7 * 24 * time.Hour

// RedisStore is a Redis-backed Store. Each chat's history is an RPUSH list of
// JSON-encoded turns, trimmed to an optional cap and expired by TTL so stale
// chats clean themselves up. Suitable for multi-node deployments where the
// bridge process is not the only reader.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	maxTurns int
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the idle expiry for a chat's history list. The TTL is
// refreshed on every append. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default is "agentrelay".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTrim caps retained turns per chat via LTRIM on append. Zero means
// unbounded.
func WithTrim(n int) RedisOption {
	return func(s *RedisStore) { s.maxTurns = n }
}

// NewRedisStore constructs a Redis-backed history store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(72*time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    defaultRedisTTL,
		prefix: "agentrelay",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Store. RPUSH, optional LTRIM, and EXPIRE are pipelined
// into a single round-trip.
func (s *RedisStore) Append(ctx context.Context, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.historyKey(turn.ChatID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.maxTurns > 0 {
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Recent implements Store using LRANGE with negative indices.
func (s *RedisStore) Recent(ctx context.Context, chatID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	vals, err := s.client.LRange(ctx, s.historyKey(chatID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var turn Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, chatID string) (int, error) {
	n, err := s.client.LLen(ctx, s.historyKey(chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return int(n), nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, chatID string) error {
	if err := s.client.Del(ctx, s.historyKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) historyKey(chatID string) string {
	return fmt.Sprintf("%s:history:%s", s.prefix, chatID)
}
