package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"playforge/internal/models"
	"playforge/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when the counter store
// cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503. Used for routes that spend money upstream.
	FailClosed
)

const codeRateLimitUnavailable = "RATE_LIMIT_UNAVAILABLE"

var errNoRedis = errors.New("redis client is nil")

// Window is the state of one fixed-window counter after a hit.
type Window struct {
	Limit    int
	Count    int64
	ResetsIn time.Duration
}

// Allowed reports whether the hit that produced w fits the limit.
func (w Window) Allowed() bool { return w.Count <= int64(w.Limit) }

// Remaining is how many hits are left in the current window.
func (w Window) Remaining() int64 {
	if left := int64(w.Limit) - w.Count; left > 0 {
		return left
	}
	return 0
}

func rateLimitBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "test", "development", "stress":
		return true
	}
	return false
}

func rateLimitKey(resource, id string) string {
	return fmt.Sprintf("rl:%s:%s", resource, id)
}

// Hit counts one request by id against resource. The increment and the
// expiry are sent in one MULTI so a counter never outlives its window.
func Hit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (Window, error) {
	if rdb == nil {
		return Window{}, errNoRedis
	}
	key := rateLimitKey(resource, id)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, window)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("ratelimit").Inc()
		return Window{}, err
	}

	resets := ttl.Val()
	if resets <= 0 {
		resets = window
	}
	return Window{Limit: limit, Count: incr.Val(), ResetsIn: resets}, nil
}

// CheckRateLimit reports whether id may perform resource again within window.
// Limits are not enforced when APP_ENV is test, development or stress.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rateLimitBypassed() {
		return true, nil
	}
	w, err := Hit(ctx, rdb, resource, id, limit, window)
	if err != nil {
		return false, err
	}
	return w.Allowed(), nil
}

// RateLimit allows limit requests per window, keyed by the signed-in user
// or else the remote IP, and fails open.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit failure policy. The
// resource defaults to the request path.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rateLimitBypassed() {
			return c.Next()
		}

		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok && uid != 0 {
			id = "user:" + strconv.FormatUint(uint64(uid), 10)
		}
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		w, err := Hit(c.UserContext(), rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailOpen {
				return c.Next()
			}
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable, failing closed",
				slog.String("resource", resource),
				slog.String("error", err.Error()),
			)
			return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
				Error: "rate limit unavailable",
				Code:  codeRateLimitUnavailable,
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(w.Remaining(), 10))
		if !w.Allowed() {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(w.ResetsIn.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  models.CodeRateLimited,
			})
		}
		return c.Next()
	}
}
