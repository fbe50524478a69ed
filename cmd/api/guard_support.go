package main

import (
	"context"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/sap-bridge/internal/auth"
	"github.com/yourusername/sap-bridge/internal/config"
)

// setupGuard はログイン試行制限を構築します。
// LOGIN_GUARD_REDIS_URL が無い場合はメモリ上で管理します。
func setupGuard(cfg *config.Config, logger *log.Logger) (*auth.Guard, func(), error) {
	policy := auth.Policy{
		MaxAttempts: cfg.LoginMaxAttempts,
		Window:      cfg.LoginWindow,
		Lock:        cfg.LoginLock,
	}
	noop := func() {}

	if !policy.Enabled() {
		logger.Printf("login guard disabled (LOGIN_MAX_ATTEMPTS=0)")
		return auth.NewGuard(auth.NewMemoryStore(policy), policy, logger), noop, nil
	}

	if cfg.LoginGuardRedisURL == "" {
		return auth.NewGuard(auth.NewMemoryStore(policy), policy, logger), noop, nil
	}

	opt, err := redis.ParseURL(cfg.LoginGuardRedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("parse LOGIN_GUARD_REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// 起動は止めない（ガードは障害時に通過させる）
		logger.Printf("login guard redis unreachable: %v", err)
	}

	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("failed to close redis client: %v", err)
		}
	}
	return auth.NewGuard(auth.NewRedisStore(redisClient, policy), policy, logger), closeFn, nil
}
