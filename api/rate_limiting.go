package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"superservice/config"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitKeyPrefix = "superservice:ratelimit:"

// ClientRateLimiter keeps one token bucket per client key. The least recently
// seen clients are evicted once MaxClients is reached, so memory stays bounded
// without a cleanup goroutine.
//
// With a Redis address the budget is shared across replicas: requests are
// counted in fixed one-second windows and each client may make
// requests_per_second (rounded up) per window. Redis errors fall back to the
// in-memory buckets.
type ClientRateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]

	redis     *redis.Client
	perWindow int64
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewClientRateLimiter creates a limiter from the rate_limit section
func NewClientRateLimiter(cfg config.RateLimitConfig, logger *zap.SugaredLogger) (*ClientRateLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter cache: %w", err)
	}

	rl := &ClientRateLimiter{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.Burst,
		limiters:  cache,
		perWindow: int64(math.Ceil(cfg.RequestsPerSecond)),
		now:       time.Now,
		logger:    logger,
	}

	if cfg.RedisAddr != "" {
		rl.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  250 * time.Millisecond,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 100 * time.Millisecond,
			MaxRetries:   -1,
		})
	}
	return rl, nil
}

// Allow reports whether a request from key fits in its budget
func (rl *ClientRateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.redis != nil {
		allowed, err := rl.allowRedis(ctx, key)
		if err == nil {
			return allowed
		}
		if errors.Is(err, redis.ErrClosed) {
			return rl.limiter(key).Allow()
		}
		rl.logger.Warnw("Redis rate limit check failed, falling back to memory", "error", err)
	}
	return rl.limiter(key).Allow()
}

// Clients returns how many in-memory client buckets are tracked
func (rl *ClientRateLimiter) Clients() int {
	return rl.limiters.Len()
}

// Close releases the Redis connection pool, if any
func (rl *ClientRateLimiter) Close() error {
	if rl.redis == nil {
		return nil
	}
	return rl.redis.Close()
}

func (rl *ClientRateLimiter) allowRedis(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, key, rl.now().Unix())

	pipe := rl.redis.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() <= rl.perWindow, nil
}

func (rl *ClientRateLimiter) limiter(key string) *rate.Limiter {
	// one lock around Get and Add so a new client gets exactly one bucket
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Add(key, l)
	return l
}
