package models

import "time"

// Notification types stored and pushed to clients.
const (
	NotificationLike        = "like"
	NotificationComment     = "comment"
	NotificationFollow      = "follow"
	NotificationMessage     = "message"
	NotificationMatchFound  = "match_found"
	NotificationGameReady   = "game_ready"
	NotificationGameFailed  = "game_failed"
	NotificationNewGame     = "new_game"
	NotificationAchievement = "achievement"
)

// Notification is an in-app notification row.
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index:idx_notifications_user_read" json:"user_id"`
	ActorID   *uint      `json:"actor_id,omitempty"`
	Actor     *User      `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Type      string     `gorm:"size:32;not null" json:"type"`
	EntityID  uint       `json:"entity_id"`
	Body      string     `gorm:"size:500" json:"body"`
	ReadAt    *time.Time `gorm:"index:idx_notifications_user_read" json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Push platforms.
const (
	PlatformWeb     = "web"
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

// PushSubscription is a device or browser registration token.
type PushSubscription struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	Token      string     `gorm:"size:512;not null;uniqueIndex" json:"-"`
	Platform   string     `gorm:"size:16;not null" json:"platform"`
	UserAgent  string     `gorm:"size:255" json:"user_agent"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
