package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/artivio/platform/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyGenerationCreate = "generation:create:account:%s"

// GenerationCreateLimiter throttles generation creation per account. When
// rate limiting is disabled the constructor returns nil and the limiter is a
// pass-through, so handlers always call it unconditionally.
type GenerationCreateLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewGenerationCreateLimiter(cfg config.Config) (*GenerationCreateLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.GenerationCreateRate <= 0 || limitCfg.GenerationCreateBurst <= 0 {
		return nil, errors.New("generation create rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &GenerationCreateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.GenerationCreateRate,
		burst:   limitCfg.GenerationCreateBurst,
	}, nil
}

func (l *GenerationCreateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *GenerationCreateLimiter) AllowAccount(ctx context.Context, accountID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyGenerationCreate, strings.TrimSpace(accountID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
