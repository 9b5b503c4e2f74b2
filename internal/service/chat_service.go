package service

import (
	"context"
	"fmt"
	"strings"

	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/validation"
)

// Realtime chat events.
const (
	EventMessageReceived  = "message_received"
	EventConversationRead = "conversation_read"
	EventTyping           = "typing"
)

const maxMessageLen = 2000

// ChatService handles direct conversations between two users.
type ChatService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	realtime RealtimePublisher
	notifier Notifier
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	UserID         uint
	ConversationID uint
	Content        string
	GifURL         string
}

func NewChatService(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	realtime RealtimePublisher,
	notifier Notifier,
) *ChatService {
	return &ChatService{
		chatRepo: chatRepo,
		userRepo: userRepo,
		realtime: realtime,
		notifier: notifier,
	}
}

// OpenConversation returns the conversation between userID and otherID,
// creating it on first use.
func (s *ChatService) OpenConversation(ctx context.Context, userID, otherID uint) (*models.Conversation, error) {
	if otherID == 0 {
		return nil, models.NewValidationError("user_id is required")
	}
	if userID == otherID {
		return nil, models.NewValidationError("You cannot message yourself")
	}
	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if other.IsBanned {
		return nil, models.NewNotFoundError("User", otherID)
	}

	conv, err := s.chatRepo.GetOrCreateConversation(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	pub := other.PublicView()
	conv.OtherUser = &pub
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	return s.chatRepo.ListConversations(ctx, userID, limit, offset)
}

// participantConversation loads a conversation userID belongs to. Outsiders
// get NOT_FOUND so conversation ids do not leak.
func (s *ChatService) participantConversation(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.chatRepo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.NewNotFoundError("Conversation", convID)
	}
	return conv, nil
}

func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	gif := strings.TrimSpace(in.GifURL)
	if content == "" && gif == "" {
		return nil, models.NewValidationError("A message needs content or a GIF")
	}
	if len([]rune(content)) > maxMessageLen {
		return nil, models.NewValidationError(fmt.Sprintf("Message too long (max %d characters)", maxMessageLen))
	}
	if gif != "" && !validation.IsHTTPSURL(gif) {
		return nil, models.NewValidationError("gif_url must be an https URL")
	}

	conv, err := s.participantConversation(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       in.UserID,
		Content:        content,
		GifURL:         gif,
	}
	if err := s.chatRepo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	recipient := conv.OtherParticipant(in.UserID)
	publishEvent(ctx, s.realtime, EventMessageReceived, msg, in.UserID, recipient)

	body := content
	if body == "" {
		body = "sent a GIF"
	}
	if sender, err := s.userRepo.GetByID(ctx, in.UserID); err == nil {
		body = sender.Username + ": " + body
	}
	notify(ctx, s.notifier, NotifyInput{
		UserID:   recipient,
		ActorID:  in.UserID,
		Type:     models.NotificationMessage,
		EntityID: conv.ID,
		Body:     truncate(body, 200),
		Data:     map[string]string{"conversation_id": fmt.Sprint(conv.ID)},
	})
	return msg, nil
}

// ListMessages pages a conversation newest first, starting before beforeID.
func (s *ChatService) ListMessages(ctx context.Context, userID, convID, beforeID uint, limit int) ([]*models.Message, error) {
	if _, err := s.participantConversation(ctx, convID, userID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, convID, beforeID, limit)
}

// MarkRead marks the other participant's messages as read and tells them.
func (s *ChatService) MarkRead(ctx context.Context, userID, convID uint) (int64, error) {
	conv, err := s.participantConversation(ctx, convID, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.chatRepo.MarkRead(ctx, convID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		publishEvent(ctx, s.realtime, EventConversationRead, map[string]uint{
			"conversation_id": convID,
			"reader_id":       userID,
		}, conv.OtherParticipant(userID))
	}
	return n, nil
}

func (s *ChatService) UnreadTotal(ctx context.Context, userID uint) (int64, error) {
	return s.chatRepo.UnreadTotal(ctx, userID)
}

// Typing relays a typing indicator to the other participant.
func (s *ChatService) Typing(ctx context.Context, userID, convID uint, isTyping bool) error {
	conv, err := s.participantConversation(ctx, convID, userID)
	if err != nil {
		return err
	}
	publishEvent(ctx, s.realtime, EventTyping, map[string]interface{}{
		"conversation_id": convID,
		"user_id":         userID,
		"is_typing":       isTyping,
	}, conv.OtherParticipant(userID))
	return nil
}
