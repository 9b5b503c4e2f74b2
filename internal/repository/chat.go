package repository

import (
	"context"
	"time"

	"playforge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository defines the interface for direct message persistence.
type ChatRepository interface {
	// GetOrCreateConversation returns the single conversation between a and b.
	GetOrCreateConversation(ctx context.Context, a, b uint) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	// ListConversations returns userID's conversations with the other
	// participant, last message and unread count filled in.
	ListConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error)
	// CreateMessage stores msg and bumps the conversation's last_message_at.
	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages pages newest first. beforeID of 0 starts at the newest.
	ListMessages(ctx context.Context, convID uint, beforeID uint, limit int) ([]*models.Message, error)
	// MarkRead marks every message not sent by readerID as read.
	MarkRead(ctx context.Context, convID, readerID uint) (int64, error)
	UnreadTotal(ctx context.Context, userID uint) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) GetOrCreateConversation(ctx context.Context, a, b uint) (*models.Conversation, error) {
	low, high := models.OrderedPair(a, b)
	conv := models.Conversation{UserLowID: low, UserHighID: high}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
			return err
		}
		return tx.Where("user_low_id = ? AND user_high_id = ?", low, high).First(&conv).Error
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, notFoundOr(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) ListConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	limit, offset = clampPage(limit, offset)
	db := readDB(r.db).WithContext(ctx)

	var convs []*models.Conversation
	err := db.
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(convs) == 0 {
		return convs, nil
	}

	convIDs := make([]uint, 0, len(convs))
	otherIDs := make([]uint, 0, len(convs))
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		otherIDs = append(otherIDs, c.OtherParticipant(userID))
	}

	var users []models.User
	if err := db.Where("id IN ?", otherIDs).Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	byID := make(map[uint]*models.User, len(users))
	for i := range users {
		pub := users[i].PublicView()
		byID[users[i].ID] = &pub
	}

	var last []models.Message
	if err := db.
		Where("id IN (?)", db.Model(&models.Message{}).
			Select("MAX(id)").
			Where("conversation_id IN ?", convIDs).
			Group("conversation_id")).
		Find(&last).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	lastByConv := make(map[uint]*models.Message, len(last))
	for i := range last {
		lastByConv[last[i].ConversationID] = &last[i]
	}

	type unreadRow struct {
		ConversationID uint
		N              int64
	}
	var unread []unreadRow
	if err := db.Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS n").
		Where("conversation_id IN ? AND sender_id <> ? AND read_at IS NULL", convIDs, userID).
		Group("conversation_id").
		Scan(&unread).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	unreadByConv := make(map[uint]int64, len(unread))
	for _, u := range unread {
		unreadByConv[u.ConversationID] = u.N
	}

	for _, c := range convs {
		c.OtherUser = byID[c.OtherParticipant(userID)]
		c.LastMessage = lastByConv[c.ID]
		c.UnreadCount = unreadByConv[c.ID]
	}
	return convs, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sender").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{"last_message_at": msg.CreatedAt, "updated_at": time.Now().UTC()}).Error
	})
	return internal(err)
}

func (r *chatRepository) ListMessages(ctx context.Context, convID uint, beforeID uint, limit int) ([]*models.Message, error) {
	limit, _ = clampPage(limit, 0)
	q := readDB(r.db).WithContext(ctx).
		Preload("Sender").
		Where("conversation_id = ?", convID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []*models.Message
	err := q.Order("id DESC").Limit(limit).Find(&msgs).Error
	return msgs, internal(err)
}

func (r *chatRepository) MarkRead(ctx context.Context, convID, readerID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", convID, readerID).
		Update("read_at", time.Now().UTC())
	return res.RowsAffected, internal(res.Error)
}

func (r *chatRepository) UnreadTotal(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.user_low_id = ? OR conversations.user_high_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", userID).
		Count(&n).Error
	return n, internal(err)
}
