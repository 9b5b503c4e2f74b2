package models

import "time"

// Conversation is a direct thread between two users. The pair is stored
// ordered so (a,b) and (b,a) resolve to the same row.
type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserLowID     uint       `gorm:"not null;uniqueIndex:idx_conversations_pair" json:"user_low_id"`
	UserHighID    uint       `gorm:"not null;uniqueIndex:idx_conversations_pair;index" json:"user_high_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	OtherUser   *User    `gorm:"-" json:"other_user,omitempty"`
	LastMessage *Message `gorm:"-" json:"last_message,omitempty"`
	UnreadCount int64    `gorm:"-" json:"unread_count"`
}

// HasParticipant reports whether userID is one side of the conversation.
func (c *Conversation) HasParticipant(userID uint) bool {
	return c.UserLowID == userID || c.UserHighID == userID
}

// OtherParticipant returns the id of the side that is not userID.
func (c *Conversation) OtherParticipant(userID uint) uint {
	if c.UserLowID == userID {
		return c.UserHighID
	}
	return c.UserLowID
}

// OrderedPair returns a and b sorted ascending.
func OrderedPair(a, b uint) (uint, uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// Message is a single chat message.
type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"not null;index:idx_messages_conversation_created" json:"conversation_id"`
	SenderID       uint       `gorm:"not null;index" json:"sender_id"`
	Sender         *User      `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content        string     `gorm:"size:2000" json:"content"`
	GifURL         string     `json:"gif_url,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index:idx_messages_conversation_created" json:"created_at"`
}
