package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// GameStatus is the publication state of a generated game.
type GameStatus string

const (
	GameStatusDraft     GameStatus = "draft"
	GameStatusPublished GameStatus = "published"
	GameStatusArchived  GameStatus = "archived"
)

// Game is a playable self-contained HTML document produced from a prompt.
type Game struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"not null;index" json:"user_id"`
	User          User           `gorm:"foreignKey:UserID" json:"user"`
	Title         string         `gorm:"size:120;not null" json:"title"`
	Description   string         `gorm:"type:text" json:"description"`
	Prompt        string         `gorm:"type:text" json:"prompt"`
	Code          string         `gorm:"type:text" json:"code,omitempty"`
	ThumbnailURL  string         `json:"thumbnail_url"`
	ThumbnailHash string         `gorm:"size:64" json:"thumbnail_hash,omitempty"`
	Status        GameStatus     `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	RemixOfID     *uint          `gorm:"index" json:"remix_of_id,omitempty"`
	PlayCount     int64          `gorm:"not null;default:0" json:"play_count"`
	Tags          string         `gorm:"size:400" json:"-"`
	PublishedAt   *time.Time     `gorm:"index" json:"published_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// LikesCount is not persisted; computed at query time
	LikesCount int64 `gorm:"->;-:migration" json:"likes_count"`
	// CommentsCount is not persisted; computed at query time
	CommentsCount int64 `gorm:"->;-:migration" json:"comments_count"`
	// Liked indicates whether the requesting user liked this game (computed)
	Liked bool `gorm:"->;-:migration" json:"liked"`
	// TagList is the decoded form of Tags for responses.
	TagList []string `gorm:"-" json:"tags"`
}

// IsPublished reports whether the game is visible to everyone.
func (g *Game) IsPublished() bool {
	return g.Status == GameStatusPublished
}

// AfterFind fills TagList from the stored comma list.
func (g *Game) AfterFind(_ *gorm.DB) error {
	g.TagList = SplitTags(g.Tags)
	return nil
}

// SplitTags decodes a stored comma separated tag list.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinTags normalizes tags to lowercase and drops blanks and duplicates.
func JoinTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

// GameLike records one user liking one game.
type GameLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_game_likes_user_game" json:"user_id"`
	GameID    uint      `gorm:"not null;uniqueIndex:idx_game_likes_user_game;index" json:"game_id"`
	CreatedAt time.Time `json:"created_at"`
}
