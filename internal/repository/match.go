package repository

import (
	"context"
	"errors"
	"time"

	"playforge/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotActive is returned when finishing a session that already ended.
var ErrSessionNotActive = errors.New("match session is not active")

// MatchRepository persists the matchmaking queue and match sessions.
type MatchRepository interface {
	// Pair enqueues userID for gameID, pairing with the oldest waiting
	// entry from another user when one exists. A user already waiting or in
	// an active session gets that entry back unchanged.
	Pair(ctx context.Context, userID, gameID uint) (*models.MatchQueueEntry, error)
	CurrentTicket(ctx context.Context, userID uint) (*models.MatchQueueEntry, error)
	Cancel(ctx context.Context, userID uint) (int64, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
	GetSession(ctx context.Context, id uint) (*models.MatchSession, error)
	GetSessionByRoom(ctx context.Context, roomID string) (*models.MatchSession, error)
	EndSession(ctx context.Context, id uint, status models.MatchStatus, winnerID *uint) (*models.MatchSession, error)
	CountWins(ctx context.Context, userID uint) (int64, error)
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository returns a MatchRepository backed by db.
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

// lockSkipLocked adds FOR UPDATE SKIP LOCKED on Postgres. SQLite serializes
// writers so the clause is unnecessary there.
func (r *matchRepository) lockSkipLocked(tx *gorm.DB) *gorm.DB {
	if r.db.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	return tx
}

func (r *matchRepository) current(tx *gorm.DB, userID uint) (*models.MatchQueueEntry, error) {
	var entry models.MatchQueueEntry
	err := tx.Preload("Session").
		Where("user_id = ? AND status = ?", userID, models.QueueWaiting).
		Order("id DESC").
		First(&entry).Error
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = tx.Preload("Session").
		Joins("JOIN match_sessions ON match_sessions.id = match_queue_entries.match_session_id").
		Where("match_queue_entries.user_id = ? AND match_queue_entries.status = ?", userID, models.QueueMatched).
		Where("match_sessions.status = ?", models.MatchActive).
		Order("match_queue_entries.id DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *matchRepository) Pair(ctx context.Context, userID, gameID uint) (*models.MatchQueueEntry, error) {
	var result *models.MatchQueueEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.current(tx, userID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var opponent models.MatchQueueEntry
		err = r.lockSkipLocked(tx).
			Where("game_id = ? AND status = ? AND user_id <> ?", gameID, models.QueueWaiting, userID).
			Order("created_at ASC, id ASC").
			First(&opponent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry := models.MatchQueueEntry{UserID: userID, GameID: gameID, Status: models.QueueWaiting}
			if err := tx.Omit("Session").Create(&entry).Error; err != nil {
				return err
			}
			result = &entry
			return nil
		}
		if err != nil {
			return err
		}

		session := models.MatchSession{
			GameID:      gameID,
			PlayerOneID: opponent.UserID,
			PlayerTwoID: userID,
			RoomID:      uuid.NewString(),
			Status:      models.MatchActive,
			StartedAt:   time.Now().UTC(),
		}
		if err := tx.Omit("PlayerOne", "PlayerTwo").Create(&session).Error; err != nil {
			return err
		}

		res := tx.Model(&models.MatchQueueEntry{}).
			Where("id = ? AND status = ?", opponent.ID, models.QueueWaiting).
			Updates(map[string]interface{}{"status": models.QueueMatched, "match_session_id": session.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errors.New("opponent ticket changed during pairing")
		}

		entry := models.MatchQueueEntry{
			UserID:         userID,
			GameID:         gameID,
			Status:         models.QueueMatched,
			MatchSessionID: &session.ID,
		}
		if err := tx.Omit("Session").Create(&entry).Error; err != nil {
			return err
		}
		entry.Session = &session
		result = &entry
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race against our own concurrent enqueue.
			return r.CurrentTicket(ctx, userID)
		}
		return nil, models.NewInternalError(err)
	}
	return result, nil
}

func (r *matchRepository) CurrentTicket(ctx context.Context, userID uint) (*models.MatchQueueEntry, error) {
	entry, err := r.current(r.db.WithContext(ctx), userID)
	if err != nil {
		return nil, notFoundOr(err, "Ticket for user", userID)
	}
	return entry, nil
}

func (r *matchRepository) Cancel(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.MatchQueueEntry{}).
		Where("user_id = ? AND status = ?", userID, models.QueueWaiting).
		Update("status", models.QueueCancelled)
	return res.RowsAffected, internal(res.Error)
}

func (r *matchRepository) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&models.MatchQueueEntry{}).
		Where("status = ? AND created_at < ?", models.QueueWaiting, cutoff).
		Update("status", models.QueueExpired)
	return res.RowsAffected, internal(res.Error)
}

func (r *matchRepository) GetSession(ctx context.Context, id uint) (*models.MatchSession, error) {
	var s models.MatchSession
	err := r.db.WithContext(ctx).Preload("PlayerOne").Preload("PlayerTwo").First(&s, id).Error
	if err != nil {
		return nil, notFoundOr(err, "Match session", id)
	}
	return &s, nil
}

func (r *matchRepository) GetSessionByRoom(ctx context.Context, roomID string) (*models.MatchSession, error) {
	var s models.MatchSession
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&s).Error; err != nil {
		return nil, notFoundOr(err, "Match room", roomID)
	}
	return &s, nil
}

func (r *matchRepository) EndSession(ctx context.Context, id uint, status models.MatchStatus, winnerID *uint) (*models.MatchSession, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.MatchSession{}).
		Where("id = ? AND status = ?", id, models.MatchActive).
		Updates(map[string]interface{}{"status": status, "winner_id": winnerID, "ended_at": now})
	if res.Error != nil {
		return nil, models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, &models.AppError{Code: models.CodeConflict, Message: "Match already ended", Err: ErrSessionNotActive}
	}
	return r.GetSession(ctx, id)
}

func (r *matchRepository) CountWins(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MatchSession{}).
		Where("winner_id = ? AND status = ?", userID, models.MatchFinished).
		Count(&n).Error
	return n, internal(err)
}
