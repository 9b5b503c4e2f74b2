package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a player profile.
type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Username    string         `gorm:"size:30;uniqueIndex;not null" json:"username"`
	Email       string         `gorm:"size:255;uniqueIndex;not null" json:"email,omitempty"`
	Password    string         `gorm:"not null" json:"-"`
	DisplayName string         `gorm:"size:60" json:"display_name"`
	Bio         string         `gorm:"size:500" json:"bio"`
	AvatarURL   string         `json:"avatar_url"`
	Coins       int64          `gorm:"not null;default:0" json:"coins"`
	IsAdmin     bool           `gorm:"not null;default:false" json:"is_admin"`
	IsBanned    bool           `gorm:"not null;default:false" json:"is_banned"`
	LastSeenAt  *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Computed at query time.
	FollowersCount int64 `gorm:"-" json:"followers_count"`
	FollowingCount int64 `gorm:"-" json:"following_count"`
	GamesCount     int64 `gorm:"-" json:"games_count"`
	IsFollowing    bool  `gorm:"-" json:"is_following"`
	IsOnline       bool  `gorm:"-" json:"is_online"`
}

// PublicView strips private fields before a profile is shown to someone else.
func (u User) PublicView() User {
	u.Email = ""
	u.Coins = 0
	return u
}
