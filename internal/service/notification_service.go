package service

import (
	"context"
	"log/slog"
	"strconv"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/push"
	"playforge/internal/repository"
)

// EventNotification is the realtime event type for new in-app notifications.
const EventNotification = "notification"

// UserPusher sends a push message to every enabled device of a user.
type UserPusher interface {
	SendToUser(ctx context.Context, userID uint, msg push.Message) (*PushResult, error)
}

type NotificationService struct {
	notificationRepo repository.NotificationRepository
	realtime         RealtimePublisher
	pusher           UserPusher
}

func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	realtime RealtimePublisher,
	pusher UserPusher,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		realtime:         realtime,
		pusher:           pusher,
	}
}

var notificationTitles = map[string]string{
	models.NotificationLike:        "New like",
	models.NotificationComment:     "New comment",
	models.NotificationFollow:      "New follower",
	models.NotificationMessage:     "New message",
	models.NotificationMatchFound:  "Match found",
	models.NotificationGameReady:   "Your game is ready",
	models.NotificationGameFailed:  "Game generation failed",
	models.NotificationNewGame:     "New game",
	models.NotificationAchievement: "Achievement unlocked",
}

// Notify stores the notification, publishes it on the user's realtime
// channel and pushes it to their devices. Self-notifications are dropped.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) error {
	if in.UserID == 0 || in.Type == "" {
		return models.NewValidationError("notification needs a user and a type")
	}
	if in.ActorID != 0 && in.ActorID == in.UserID {
		return nil
	}

	n := &models.Notification{
		UserID:   in.UserID,
		Type:     in.Type,
		EntityID: in.EntityID,
		Body:     truncate(in.Body, 500),
	}
	if in.ActorID != 0 {
		actor := in.ActorID
		n.ActorID = &actor
	}
	if err := s.notificationRepo.Create(ctx, n); err != nil {
		return err
	}

	if s.realtime != nil {
		payload, err := encodeEvent(EventNotification, n)
		if err == nil {
			err = s.realtime.PublishUser(ctx, in.UserID, payload)
		}
		if err != nil {
			middleware.Logger.WarnContext(ctx, "realtime publish failed",
				slog.Uint64("user_id", uint64(in.UserID)), slog.String("error", err.Error()))
		}
	}

	if s.pusher != nil {
		data := map[string]string{
			"type":            in.Type,
			"entity_id":       strconv.FormatUint(uint64(in.EntityID), 10),
			"notification_id": strconv.FormatUint(uint64(n.ID), 10),
		}
		for k, v := range in.Data {
			data[k] = v
		}
		title := notificationTitles[in.Type]
		if title == "" {
			title = "Playforge"
		}
		if _, err := s.pusher.SendToUser(ctx, in.UserID, push.Message{Title: title, Body: n.Body, Data: data}); err != nil {
			middleware.Logger.WarnContext(ctx, "push delivery failed",
				slog.Uint64("user_id", uint64(in.UserID)), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	return s.notificationRepo.List(ctx, userID, unreadOnly, limit, offset)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	return s.notificationRepo.MarkRead(ctx, userID, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.notificationRepo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.notificationRepo.UnreadCount(ctx, userID)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
