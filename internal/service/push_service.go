package service

import (
	"context"
	"log/slog"
	"strings"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/observability"
	"playforge/internal/push"
	"playforge/internal/repository"
	"playforge/internal/validation"
)

type PushService struct {
	pushRepo repository.PushRepository
	sender   push.Sender
}

type RegisterPushInput struct {
	UserID    uint   `json:"-"`
	Token     string `json:"token" validate:"required,max=512"`
	Platform  string `json:"platform" validate:"required,oneof=web android ios"`
	UserAgent string `json:"user_agent" validate:"max=255"`
}

// PushResult summarizes a fan-out to one user's devices.
type PushResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Disabled int `json:"disabled"`
}

func NewPushService(pushRepo repository.PushRepository, sender push.Sender) *PushService {
	return &PushService{pushRepo: pushRepo, sender: sender}
}

// Register stores or re-enables a device token for the user.
func (s *PushService) Register(ctx context.Context, in RegisterPushInput) (*models.PushSubscription, error) {
	in.Token = strings.TrimSpace(in.Token)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if in.Platform == "" {
		in.Platform = models.PlatformWeb
	}
	if len(in.UserAgent) > 255 {
		in.UserAgent = in.UserAgent[:255]
	}
	if err := validation.Struct(in); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	sub := &models.PushSubscription{
		UserID:    in.UserID,
		Token:     in.Token,
		Platform:  in.Platform,
		UserAgent: in.UserAgent,
	}
	if err := s.pushRepo.Upsert(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *PushService) Unregister(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.NewValidationError("token is required")
	}
	return s.pushRepo.Delete(ctx, userID, token)
}

// SendToUser delivers msg to every enabled subscription in provider sized
// batches and disables tokens the provider rejects.
func (s *PushService) SendToUser(ctx context.Context, userID uint, msg push.Message) (*PushResult, error) {
	subs, err := s.pushRepo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &PushResult{}
	if len(subs) == 0 || s.sender == nil {
		return result, nil
	}

	tokens := make([]string, len(subs))
	for i, sub := range subs {
		tokens[i] = sub.Token
	}

	for start := 0; start < len(tokens); start += push.MaxBatch {
		end := start + push.MaxBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		res, err := s.sender.SendBatch(ctx, batch, msg)
		if err != nil {
			observability.PushSendsTotal.WithLabelValues("error").Add(float64(len(batch)))
			result.Failed += len(batch)
			middleware.Logger.WarnContext(ctx, "push batch failed",
				slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
			continue
		}

		result.Sent += res.SuccessCount
		result.Failed += res.FailureCount
		observability.PushSendsTotal.WithLabelValues("sent").Add(float64(res.SuccessCount))
		observability.PushSendsTotal.WithLabelValues("failed").Add(float64(res.FailureCount))

		if len(res.InvalidTokens) > 0 {
			n, err := s.pushRepo.Disable(ctx, res.InvalidTokens)
			if err != nil {
				return result, err
			}
			result.Disabled += int(n)
			observability.PushSendsTotal.WithLabelValues("invalid").Add(float64(len(res.InvalidTokens)))
		}
		if res.SuccessCount > 0 {
			_ = s.pushRepo.MarkUsed(ctx, delivered(batch, res.InvalidTokens))
		}
	}
	return result, nil
}

// SendTest pushes a fixed message so users can check their device setup.
func (s *PushService) SendTest(ctx context.Context, userID uint) (*PushResult, error) {
	return s.SendToUser(ctx, userID, push.Message{
		Title: "Playforge",
		Body:  "Push notifications are working.",
		Data:  map[string]string{"type": "test"},
	})
}

func delivered(batch, invalid []string) []string {
	if len(invalid) == 0 {
		return batch
	}
	skip := make(map[string]struct{}, len(invalid))
	for _, t := range invalid {
		skip[t] = struct{}{}
	}
	out := make([]string, 0, len(batch))
	for _, t := range batch {
		if _, ok := skip[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
