package middleware

import (
	"context"
	"fmt"
	"time"

	"redlight/internal/common/cache"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// KEYS[1] counter; ARGV[1] window in ms. Returns the count inside the current window.
var fixedWindowScript = cache.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimitPolicy bounds requests per caller and per route inside one window.
type RateLimitPolicy struct {
	Window    time.Duration `yaml:"window"`
	CallerMax int           `yaml:"callerMax"`
	IPMax     int           `yaml:"ipMax"`
	RouteMax  int           `yaml:"routeMax"`
}

// RateLimiter enforces fixed-window limits using Redis.
type RateLimiter struct {
	cache        cache.ScriptOps
	prefix       string
	redisTimeout time.Duration
}

func NewRateLimiter(scripts cache.ScriptOps, prefix string, redisTimeout time.Duration) *RateLimiter {
	if prefix == "" {
		prefix = "rate"
	}
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &RateLimiter{cache: scripts, prefix: prefix, redisTimeout: redisTimeout}
}

// Allow counts one hit against key and fails with TooManyRequests once max is exceeded.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if window <= 0 {
		window = time.Minute
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	res, err := l.cache.Eval(ctxCache, fixedWindowScript, []string{l.prefix + ":" + key}, window.Milliseconds())
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count, ok := res.(int64)
	if !ok {
		return pkgerrors.Newf(pkgerrors.CacheError, "unexpected rate limit reply %T", res)
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimit applies policy to a route. caller names the authenticated caller
// and may return "" when none is known.
func RateLimit(limiter *RateLimiter, routeKey string, policy RateLimitPolicy, caller func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.CallerMax > 0 && caller != nil {
			if id := caller(c); id != "" {
				key := fmt.Sprintf("caller:%s:%s", id, routeKey)
				if err := limiter.Allow(ctx, key, policy.CallerMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		if policy.RouteMax > 0 {
			key := fmt.Sprintf("route:%s", routeKey)
			if err := limiter.Allow(ctx, key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
