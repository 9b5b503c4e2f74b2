package repository

import (
	"context"
	"time"

	"playforge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PushRepository stores device and browser push registrations.
type PushRepository interface {
	// Upsert registers token for the subscription's user, re-enabling it and
	// moving it from any previous owner.
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	Delete(ctx context.Context, userID uint, token string) error
	ListActive(ctx context.Context, userID uint) ([]models.PushSubscription, error)
	Disable(ctx context.Context, tokens []string) (int64, error)
	MarkUsed(ctx context.Context, tokens []string) error
}

type pushRepository struct {
	db *gorm.DB
}

// NewPushRepository returns a PushRepository backed by db.
func NewPushRepository(db *gorm.DB) PushRepository {
	return &pushRepository{db: db}
}

func (r *pushRepository) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"user_id":     sub.UserID,
			"platform":    sub.Platform,
			"user_agent":  sub.UserAgent,
			"disabled_at": nil,
			"updated_at":  time.Now().UTC(),
		}),
	}).Create(sub).Error
	return internal(err)
}

func (r *pushRepository) Delete(ctx context.Context, userID uint, token string) error {
	return internal(r.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&models.PushSubscription{}).Error)
}

func (r *pushRepository) ListActive(ctx context.Context, userID uint) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND disabled_at IS NULL", userID).
		Order("id ASC").
		Find(&subs).Error
	return subs, internal(err)
}

func (r *pushRepository) Disable(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.PushSubscription{}).
		Where("token IN ? AND disabled_at IS NULL", tokens).
		Update("disabled_at", time.Now().UTC())
	return res.RowsAffected, internal(res.Error)
}

func (r *pushRepository) MarkUsed(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return internal(r.db.WithContext(ctx).Model(&models.PushSubscription{}).
		Where("token IN ?", tokens).
		Update("last_used_at", time.Now().UTC()).Error)
}
