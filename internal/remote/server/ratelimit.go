package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RateLimiter decides whether a caller identified by key may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Stop()
}

// memoryLimiter is a per-process fixed window limiter.
type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	done    chan struct{}
	once    sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter allows limit requests per key per minute within this process.
func NewMemoryLimiter(limit int) RateLimiter {
	return newMemoryLimiter(limit, time.Minute)
}

func newMemoryLimiter(limit int, period time.Duration) *memoryLimiter {
	rl := &memoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *memoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for k, w := range rl.windows {
				if now.After(w.resetAt) {
					delete(rl.windows, k)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *memoryLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if rl.limit <= 0 {
		return true, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	win, ok := rl.windows[key]
	if !ok || now.After(win.resetAt) {
		win = &window{resetAt: now.Add(rl.period)}
		rl.windows[key] = win
	}
	win.count++
	return win.count <= rl.limit, nil
}

// redisLimiter is a sliding window limiter shared by every server using the same Redis.
// Each request is a member of a sorted set scored by its arrival time.
type redisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key per minute across all servers sharing client.
func NewRedisLimiter(client *redis.Client, limit int) RateLimiter {
	return &redisLimiter{client: client, limit: limit, window: time.Minute, prefix: "depot:ratelimit:"}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	k := l.prefix + key
	now := time.Now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window: %w", err)
	}
	if count.Val() >= int64(l.limit) {
		return false, nil
	}

	pipe = l.client.Pipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now), Member: uuid.NewString()})
	pipe.Expire(ctx, k, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record: %w", err)
	}
	return true, nil
}

// Stop is a no-op; the Redis client is owned by the caller.
func (l *redisLimiter) Stop() {}

// rateLimitMiddleware rejects requests over the limit with 429. Limiter errors fail open.
func rateLimitMiddleware(rl RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if info := tokenFrom(r.Context()); info != nil {
				key = "token:" + info.ID
			} else {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				key = "ip:" + host
			}

			ok, err := rl.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable", "error", err)
				ok = true
			}
			if !ok {
				metrics.RateLimitedTotal.Inc()
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":   "rate_limited",
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
