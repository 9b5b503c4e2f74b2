// Package push delivers device and browser push notifications.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"playforge/internal/middleware"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// MaxBatch is the largest token list a provider accepts in one request.
const MaxBatch = 500

// Message is a provider independent notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// BatchResult summarizes one multicast send.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	// InvalidTokens were rejected as unregistered or malformed and should
	// not be used again.
	InvalidTokens []string
}

// Sender delivers a message to at most MaxBatch tokens.
type Sender interface {
	SendBatch(ctx context.Context, tokens []string, msg Message) (*BatchResult, error)
}

// FCMSender sends through Firebase Cloud Messaging, which covers web push
// as well as Android and iOS tokens.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initializes a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsPath string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) SendBatch(ctx context.Context, tokens []string, msg Message) (*BatchResult, error) {
	if len(tokens) == 0 {
		return &BatchResult{}, nil
	}
	if len(tokens) > MaxBatch {
		return nil, fmt.Errorf("token count exceeds limit: %d (max %d)", len(tokens), MaxBatch)
	}

	resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send multicast notification: %w", err)
	}

	result := &BatchResult{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
	}
	for idx, r := range resp.Responses {
		if r.Error == nil {
			continue
		}
		if messaging.IsInvalidArgument(r.Error) || messaging.IsUnregistered(r.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[idx])
		}
	}
	return result, nil
}

// LogSender is used when no provider is configured. It reports every token
// as delivered.
type LogSender struct{}

func (LogSender) SendBatch(ctx context.Context, tokens []string, msg Message) (*BatchResult, error) {
	middleware.Logger.DebugContext(ctx, "push provider not configured, dropping message",
		slog.Int("tokens", len(tokens)), slog.String("title", msg.Title))
	return &BatchResult{SuccessCount: len(tokens)}, nil
}

// NewSender returns an FCM sender when credentials are configured and a
// LogSender otherwise.
func NewSender(ctx context.Context, credentialsPath string) (Sender, error) {
	if credentialsPath == "" {
		return LogSender{}, nil
	}
	return NewFCMSender(ctx, credentialsPath)
}
