package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores values in Redis under Prefix+key without expiry.
type RedisKV struct {
	Client *redis.Client
	Prefix string
}

func (r RedisKV) key(key string) string {
	return r.Prefix + key
}

func (r RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	if r.Client == nil {
		return nil, errors.New("storage: redis client not configured")
	}
	data, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get: %w", err)
	}
	return data, nil
}

func (r RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if r.Client == nil {
		return errors.New("storage: redis client not configured")
	}
	if err := r.Client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

func (r RedisKV) Delete(ctx context.Context, key string) error {
	if r.Client == nil {
		return errors.New("storage: redis client not configured")
	}
	if err := r.Client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("storage: redis delete: %w", err)
	}
	return nil
}

func (r RedisKV) Ping(ctx context.Context) error {
	if r.Client == nil {
		return errors.New("storage: redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// LockKey returns the key used to serialise writers of the given slot.
func (r RedisKV) LockKey(key string) string {
	return r.key(key) + ":lock"
}
