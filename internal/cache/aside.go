package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"playforge/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// Aside loads key into dest, calling fetch to fill dest on a miss and storing
// the result for ttl. Redis failures degrade to calling fetch directly.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if client == nil {
		return fetch()
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
			return nil
		}
		client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		middleware.Logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	if err := fetch(); err != nil {
		return err
	}

	encoded, err := json.Marshal(dest)
	if err != nil {
		return nil
	}
	if err := client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// SetOnce sets key only if it does not exist and reports whether it did.
// When Redis is missing or failing, marks fall back to a bounded in-process
// set.
func SetOnce(ctx context.Context, key string, ttl time.Duration) bool {
	if client == nil {
		return fallbackMarks.setOnce(key, ttl, time.Now())
	}
	ok, err := client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		middleware.Logger.WarnContext(ctx, "set once fell back to local marks", slog.String("key", key), slog.String("error", err.Error()))
		return fallbackMarks.setOnce(key, ttl, time.Now())
	}
	return ok
}

const maxLocalMarks = 50_000

var fallbackMarks = newLocalMarks(maxLocalMarks)

// localMarks is a bounded in-memory SETNX with per-key expiry.
type localMarks struct {
	mu    sync.Mutex
	max   int
	until map[string]time.Time
}

func newLocalMarks(max int) *localMarks {
	return &localMarks{max: max, until: make(map[string]time.Time)}
}

func (l *localMarks) setOnce(key string, ttl time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.until[key]; ok && now.Before(exp) {
		return false
	}
	if len(l.until) >= l.max {
		for k, exp := range l.until {
			if !now.Before(exp) {
				delete(l.until, k)
			}
		}
		// Full of live marks: refuse rather than grow or double count.
		if len(l.until) >= l.max {
			return false
		}
	}
	l.until[key] = now.Add(ttl)
	return true
}

func (l *localMarks) reset() {
	l.mu.Lock()
	l.until = make(map[string]time.Time)
	l.mu.Unlock()
}
