package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists epoch records in Redis so committed prices survive
// process restarts. Keys are "<prefix>:epoch:<end timestamp>".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Get returns the record for the epoch, zero if unset.
func (s *RedisStore) Get(ctx context.Context, epoch uint64) (Record, error) {
	data, err := s.client.Get(ctx, s.key(epoch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read epoch %d: %w", epoch, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode epoch %d: %w", epoch, err)
	}
	return rec, nil
}

// Put writes the record for the epoch. Records never expire.
func (s *RedisStore) Put(ctx context.Context, epoch uint64, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode epoch %d: %w", epoch, err)
	}
	if err := s.client.Set(ctx, s.key(epoch), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write epoch %d: %w", epoch, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(epoch uint64) string {
	return s.prefix + ":epoch:" + strconv.FormatUint(epoch, 10)
}
