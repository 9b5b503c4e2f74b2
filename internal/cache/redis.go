// Package cache wraps the shared Redis client: cache-aside reads, key
// layout, one-shot markers and short-lived locks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/redis/go-redis/v9"
)

// slowCommand is the latency above which a command is logged.
const slowCommand = 250 * time.Millisecond

var client *redis.Client

// instrument counts failed commands and logs slow ones. redis.Nil is a
// cache miss, not an error.
type instrument struct{}

func (instrument) DialHook(next redis.DialHook) redis.DialHook { return next }

func (instrument) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(ctx, cmd.Name(), start, err)
		return err
	}
}

func (instrument) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe(ctx, "pipeline", start, err)
		return err
	}
}

func observe(ctx context.Context, op string, start time.Time, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues(op).Inc()
	}
	if took := time.Since(start); took > slowCommand {
		middleware.Logger.WarnContext(ctx, "slow redis command",
			slog.String("op", op), slog.Int64("duration_ms", took.Milliseconds()))
	}
}

// parseAddr accepts a redis:// or rediss:// URL, or a bare host:port.
func parseAddr(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if !strings.Contains(addr, "://") {
		return &redis.Options{Addr: addr}, nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return opts, nil
}

// Connect dials addr and pings it within ctx.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	c.AddHook(instrument{})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// InitRedis sets the package client from addr. Playforge runs without a
// cache when Redis is unreachable, so failures only leave the client nil.
func InitRedis(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Connect(ctx, addr)
	if err != nil {
		middleware.Logger.Warn("redis unavailable, continuing without cache", slog.String("error", err.Error()))
		client = nil
		return
	}
	middleware.Logger.Info("redis connected", slog.String("addr", c.Options().Addr))
	client = c
}

// GetClient returns the shared client, or nil.
func GetClient() *redis.Client {
	return client
}

// SetClient replaces the shared client and clears the local fallback marks.
// Tests point it at miniredis.
func SetClient(c *redis.Client) {
	if c != nil {
		c.AddHook(instrument{})
	}
	client = c
	fallbackMarks.reset()
}
