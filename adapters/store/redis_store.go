package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "walletkit:"
	maxUpdateRetries   = 16
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
}

var _ ports.Store = (*RedisStore)(nil)

// updateAbort carries an error returned by an UpdateFunc through a
// WATCH transaction so it reaches the caller unwrapped.
type updateAbort struct {
	err error
}

func (e *updateAbort) Error() string { return e.err.Error() }

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", core.ErrStoreOperationFailed, op, err)
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrKeyNotFound
		}
		return "", storeErr("get", err)
	}
	return value, nil
}

// Set stores a key with a value and expiration time
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return storeErr("del", err)
	}
	return nil
}

// List scans for keys under prefix
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.prefix+prefix) + "*"
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, storeErr("scan", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Update performs an optimistic read-modify-write guarded by WATCH
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn ports.UpdateFunc) error {
	k := s.prefix + key
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			current, exists = "", false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return &updateAbort{err: err}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		var abort *updateAbort
		if errors.As(err, &abort) {
			return abort.err
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return storeErr("update", err)
	}
	return storeErr("update", fmt.Errorf("key %s: too much contention", key))
}

// Take atomically reads and deletes a key
func (s *RedisStore) Take(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrKeyNotFound
		}
		return "", storeErr("getdel", err)
	}
	return value, nil
}

// Client returns the Redis client
// This is used by the main application to share the Redis client with the Watermill publisher
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
