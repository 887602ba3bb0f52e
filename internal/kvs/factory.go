package kvs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Backend      string // "redis" or "memory"
	Prefix       string
	ProbeTimeout time.Duration
	// CleanupInterval is the memory janitor period.
	CleanupInterval time.Duration
}

// Open picks the store once at startup. With the redis backend it sends a
// PING bounded by ProbeTimeout; any failure falls back to a MemoryStore for
// the life of the process. Open never fails.
func Open(ctx context.Context, cfg Config, redisClient *redis.Client, logger *zap.Logger) (Store, Backend) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Backend == string(BackendRedis) && redisClient != nil {
		rs := NewRedisStore(redisClient, RedisConfig{Prefix: cfg.Prefix})

		timeout := cfg.ProbeTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := rs.Ping(probeCtx)
		cancel()

		if err == nil {
			logger.Info("job store selected",
				zap.String("backend", string(BackendRedis)),
				zap.String("prefix", cfg.Prefix),
			)
			return rs, BackendRedis
		}

		logger.Warn("redis unavailable, falling back to in-memory job store",
			zap.Error(err),
			zap.Duration("probe_timeout", timeout),
		)
	}

	logger.Info("job store selected",
		zap.String("backend", string(BackendMemory)),
	)
	return NewMemoryStore(cfg.CleanupInterval), BackendMemory
}
