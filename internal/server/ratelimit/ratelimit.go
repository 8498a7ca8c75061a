// Package ratelimit is a Redis-backed token bucket shared by all server
// replicas. When Redis is unavailable requests pass through unthrottled.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nexuschat/nexus/internal/logging"
	"github.com/redis/go-redis/v9"
)

// The bucket lives in one hash per key. Refill happens in whole intervals so
// concurrent callers on different replicas agree on the count.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 then
  local elapsed = math.max(0, now_ms - last_refill)
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + (intervals * interval_ms)
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	rdb            redis.Scripter
	capacity       int
	refillInterval time.Duration
	ttl            time.Duration
	prefix         string
	now            func() time.Time
	log            logging.Logger
}

// New builds a limiter that admits burst requests at once and refills at
// rps per second. A nil rdb yields a limiter whose middleware is a no-op.
func New(rdb redis.Scripter, rps float64, burst int, log logging.Logger) *Limiter {
	if burst < 1 {
		burst = 1
	}
	interval := time.Second
	if rps > 0 {
		interval = time.Duration(float64(time.Second) / rps)
	}
	ttl := max(5*interval*time.Duration(burst), time.Minute)

	return &Limiter{
		rdb:            rdb,
		capacity:       burst,
		refillInterval: interval,
		ttl:            ttl,
		prefix:         "rl",
		now:            time.Now,
		log:            log,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	args := []any{
		l.now().UnixMilli(),
		l.capacity,
		l.refillInterval.Milliseconds(),
		int64(math.Ceil(l.ttl.Seconds())),
	}

	vals, err := tokenBucket.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected limiter result: %v", vals)
	}

	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Middleware throttles per client IP and route.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if l == nil || l.rdb == nil {
			return next
		}
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			key := strings.Join([]string{"ip", ip, "route", c.Request().Method + " " + c.Path()}, ":")

			ctx := c.Request().Context()
			d, err := l.Allow(ctx, key)
			if err != nil {
				l.log.Warn(ctx, "rate limiter unavailable, allowing request", "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"detail":      "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// NewRedisClient connects and pings with a short timeout. On failure it
// returns the error and no client; callers run without rate limiting.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
