// Package service holds the business rules that sit between HTTP handlers
// and repositories.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/models"
)

// AdminCheck reports whether userID has admin rights.
type AdminCheck func(ctx context.Context, userID uint) (bool, error)

// RealtimePublisher delivers a serialized event to every socket of a user.
type RealtimePublisher interface {
	PublishUser(ctx context.Context, userID uint, payload string) error
}

// NotifyInput describes one in-app notification.
type NotifyInput struct {
	UserID   uint
	ActorID  uint
	Type     string
	EntityID uint
	Body     string
	// Data is forwarded to push providers as string pairs.
	Data map[string]string
}

// Notifier persists and fans out notifications.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) error
}

// Evaluator awards achievements after a counter moved.
type Evaluator interface {
	Evaluate(ctx context.Context, userID uint, metric string) ([]models.Achievement, error)
}

// RealtimeEvent is the envelope written to user sockets.
type RealtimeEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func encodeEvent(eventType string, payload interface{}) (string, error) {
	b, err := json.Marshal(RealtimeEvent{Type: eventType, Payload: payload})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// notify sends a notification and only logs failures; side effects never
// fail the user's request.
func notify(ctx context.Context, n Notifier, in NotifyInput) {
	if n == nil || in.UserID == 0 {
		return
	}
	if err := n.Notify(ctx, in); err != nil {
		middleware.Logger.WarnContext(ctx, "notification failed",
			slog.String("type", in.Type),
			slog.Uint64("user_id", uint64(in.UserID)),
			slog.String("error", err.Error()),
		)
	}
}

func evaluate(ctx context.Context, e Evaluator, userID uint, metric string) {
	if e == nil || userID == 0 {
		return
	}
	if _, err := e.Evaluate(ctx, userID, metric); err != nil {
		middleware.Logger.WarnContext(ctx, "achievement evaluation failed",
			slog.String("metric", metric),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}

func checkAdmin(ctx context.Context, isAdmin AdminCheck, userID uint) (bool, error) {
	if isAdmin == nil || userID == 0 {
		return false, nil
	}
	return isAdmin(ctx, userID)
}

// publishEvent writes one realtime event to each user's channel.
func publishEvent(ctx context.Context, rt RealtimePublisher, eventType string, payload interface{}, userIDs ...uint) {
	if rt == nil {
		return
	}
	msg, err := encodeEvent(eventType, payload)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to encode realtime event",
			slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	for _, id := range userIDs {
		if err := rt.PublishUser(ctx, id, msg); err != nil {
			middleware.Logger.WarnContext(ctx, "realtime publish failed",
				slog.String("type", eventType),
				slog.Uint64("user_id", uint64(id)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
