package session

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "juror:session"

var errMissingRedisClient = errors.New("session: redis client is required")

// RedisKeyValue stores fields in a single redis hash so every write is one atomic HSET.
type RedisKeyValue struct {
	client *redis.Client
	key    string
}

// NewRedisKeyValue wraps client; an empty key uses "juror:session".
func NewRedisKeyValue(client *redis.Client, key string) (*RedisKeyValue, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisKeyValue{client: client, key: key}, nil
}

// NewRedisStore returns a Store persisting into a redis hash.
func NewRedisStore(client *redis.Client, key string) (*FieldStore, error) {
	kv, err := NewRedisKeyValue(client, key)
	if err != nil {
		return nil, err
	}
	return NewFieldStore(kv)
}

func (r *RedisKeyValue) Get(ctx context.Context, keys []string) (map[string]string, error) {
	values, err := r.client.HMGet(ctx, r.key, keys...).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	for index, raw := range values {
		if value, ok := raw.(string); ok {
			result[keys[index]] = value
		}
	}
	return result, nil
}

func (r *RedisKeyValue) Put(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return r.client.HSet(ctx, r.key, values).Err()
}

func (r *RedisKeyValue) PutIf(ctx context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	return r.guarded(ctx, guardKey, guardValue, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.key, values)
	})
}

func (r *RedisKeyValue) DeleteAll(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisKeyValue) DeleteAllIf(ctx context.Context, guardKey, guardValue string) (bool, error) {
	return r.guarded(ctx, guardKey, guardValue, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, r.key)
	})
}

// guarded watches the hash, compares the guard field and queues apply in one MULTI block.
// A concurrent writer aborts the transaction, which reads as a mismatch.
func (r *RedisKeyValue) guarded(ctx context.Context, guardKey, guardValue string, apply func(pipe redis.Pipeliner)) (bool, error) {
	applied := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, r.key, guardKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != guardValue {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			apply(pipe)
			return nil
		}); err != nil {
			return err
		}
		applied = true
		return nil
	}, r.key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}
