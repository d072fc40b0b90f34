package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the record under a single key, for kiosks that share one
// Redis instead of a local disk.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore wraps client. A zero ttl keeps the record until it is cleared.
func NewRedisStore(client *redis.Client, slot string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    "survey:progress:" + normalizeSlot(slot),
		ttl:    ttl,
	}
}

func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	b, err := encode(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
