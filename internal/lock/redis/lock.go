// Package redis provides a cross-process run lock backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// DefaultTTL bounds how long a crashed holder can keep the lock.
const DefaultTTL = 30 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config controls the lock key and expiry.
type Config struct {
	Key string
	TTL time.Duration
}

// Lock is a SETNX-based mutual exclusion lock shared by every process pointing at the same Redis.
type Lock struct {
	client goredis.UniversalClient
	ids    newsletter.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// New builds a Lock. ids supplies the per-acquisition ownership token.
func New(client goredis.UniversalClient, ids newsletter.IDGenerator, cfg Config, logger *zap.Logger) (*Lock, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if cfg.Key == "" {
		cfg.Key = "newsletter:ingest:lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lock{client: client, ids: ids, cfg: cfg, logger: logger.Named("redis_lock")}, nil
}

// TryAcquire claims the lock or returns newsletter.ErrRunInProgress when another holder has it.
func (l *Lock) TryAcquire(ctx context.Context) (func(), error) {
	token, err := l.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := l.client.SetNX(ctx, l.cfg.Key, token, l.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.cfg.Key, err)
	}
	if !ok {
		return nil, newsletter.ErrRunInProgress
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's ctx may already be done when the run ends.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.cfg.Key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", l.cfg.Key), zap.Error(err))
		}
	}, nil
}
