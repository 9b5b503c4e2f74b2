package models

import "time"

// QueueStatus tracks a matchmaking ticket.
type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueMatched   QueueStatus = "matched"
	QueueCancelled QueueStatus = "cancelled"
	QueueExpired   QueueStatus = "expired"
)

// MatchQueueEntry is a user's request to be paired for a game.
type MatchQueueEntry struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	UserID         uint        `gorm:"not null;index" json:"user_id"`
	GameID         uint        `gorm:"not null;index:idx_match_queue_game_status" json:"game_id"`
	Status         QueueStatus `gorm:"type:varchar(20);not null;default:'waiting';index:idx_match_queue_game_status" json:"status"`
	MatchSessionID *uint       `json:"match_session_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Session *MatchSession `gorm:"foreignKey:MatchSessionID" json:"session,omitempty"`
}

// MatchStatus tracks a paired session.
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchFinished  MatchStatus = "finished"
	MatchAbandoned MatchStatus = "abandoned"
)

// MatchSession is two players paired on a game with a shared voice room.
type MatchSession struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	GameID      uint        `gorm:"not null;index" json:"game_id"`
	PlayerOneID uint        `gorm:"not null;index" json:"player_one_id"`
	PlayerTwoID uint        `gorm:"not null;index" json:"player_two_id"`
	RoomID      string      `gorm:"size:36;not null;uniqueIndex" json:"room_id"`
	Status      MatchStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	WinnerID    *uint       `json:"winner_id,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`

	PlayerOne *User `gorm:"foreignKey:PlayerOneID" json:"player_one,omitempty"`
	PlayerTwo *User `gorm:"foreignKey:PlayerTwoID" json:"player_two,omitempty"`
}

// HasPlayer reports whether userID is one of the two players.
func (m *MatchSession) HasPlayer(userID uint) bool {
	return m.PlayerOneID == userID || m.PlayerTwoID == userID
}

// Opponent returns the other player's id.
func (m *MatchSession) Opponent(userID uint) uint {
	if m.PlayerOneID == userID {
		return m.PlayerTwoID
	}
	return m.PlayerOneID
}
