package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// RedisStore は試行回数を Redis に保存します。複数インスタンスで共有する場合に使います。
type RedisStore struct {
	rdb    *redis.Client
	policy Policy
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, policy Policy) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		policy: policy,
	}
}

func (s *RedisStore) LockedFor(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read login lock: %w", err)
	}
	// キーが無い場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string) (int, error) {
	failKey := failKeyPrefix + key

	count, err := s.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	if count == 1 {
		if err := s.rdb.PExpire(ctx, failKey, s.policy.Window).Err(); err != nil {
			return 0, fmt.Errorf("set login window: %w", err)
		}
	}

	if count >= int64(s.policy.MaxAttempts) {
		tx := s.rdb.TxPipeline()
		tx.Set(ctx, lockKeyPrefix+key, "1", s.policy.Lock)
		tx.Del(ctx, failKey)
		if _, err := tx.Exec(ctx); err != nil {
			return 0, fmt.Errorf("lock login: %w", err)
		}
		return 0, nil
	}

	return s.policy.MaxAttempts - int(count), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err()
}
