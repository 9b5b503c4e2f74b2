package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/service"
)

// Event type constants prevent typos in event names.
const (
	EventCommentCreated          = "comment_created"
	EventCommentUpdated          = "comment_updated"
	EventCommentDeleted          = "comment_deleted"
	EventFollowerPresenceChanged = "follower_presence_changed"
	EventAccountBanned           = "account_banned"
)

// maxPresenceFanout caps how many followers hear about one presence change.
const maxPresenceFanout = 500

func encodeServerEvent(eventType string, payload map[string]interface{}) (string, bool) {
	eventJSON, err := json.Marshal(service.RealtimeEvent{Type: eventType, Payload: payload})
	if err != nil {
		middleware.Logger.Error("failed to marshal event",
			slog.String("type", eventType), slog.String("error", err.Error()))
		return "", false
	}
	return string(eventJSON), true
}

func (s *Server) publishUserEvent(userID uint, eventType string, payload map[string]interface{}) {
	message, ok := encodeServerEvent(eventType, payload)
	if !ok || s.notifier == nil {
		return
	}
	if err := s.notifier.PublishUser(context.Background(), userID, message); err != nil {
		middleware.Logger.Warn("failed to publish user event",
			slog.String("type", eventType),
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()))
	}
}

func (s *Server) publishBroadcastEvent(eventType string, payload map[string]interface{}) {
	message, ok := encodeServerEvent(eventType, payload)
	if !ok || s.notifier == nil {
		return
	}
	if err := s.notifier.PublishBroadcast(context.Background(), message); err != nil {
		middleware.Logger.Warn("failed to publish broadcast event",
			slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// onPresenceChanged tells a user's followers that they came online or went
// offline.
func (s *Server) onPresenceChanged(userID uint, online bool) {
	if s.followService == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	followers, err := s.followService.Followers(ctx, userID, maxPresenceFanout, 0)
	if err != nil {
		middleware.Logger.Warn("presence fanout failed",
			slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		return
	}

	status := "offline"
	if online {
		status = "online"
	}
	payload := map[string]interface{}{
		"user_id": userID,
		"status":  status,
	}
	for _, f := range followers {
		s.publishUserEvent(f.ID, EventFollowerPresenceChanged, payload)
	}
}
