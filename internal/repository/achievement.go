package repository

import (
	"context"
	"time"

	"playforge/internal/cache"
	"playforge/internal/models"
	"playforge/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementRepository records earned achievements.
type AchievementRepository interface {
	ListForUser(ctx context.Context, userID uint) ([]models.UserAchievement, error)
	// Award marks code earned and credits reward coins in the same
	// transaction. It returns false when the achievement was already earned.
	Award(ctx context.Context, userID uint, code string, reward int64) (bool, error)
}

type achievementRepository struct {
	db *gorm.DB
}

// NewAchievementRepository returns an AchievementRepository backed by db.
func NewAchievementRepository(db *gorm.DB) AchievementRepository {
	return &achievementRepository{db: db}
}

func (r *achievementRepository) ListForUser(ctx context.Context, userID uint) ([]models.UserAchievement, error) {
	var rows []models.UserAchievement
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("awarded_at ASC").Find(&rows).Error
	return rows, internal(err)
}

func (r *achievementRepository) Award(ctx context.Context, userID uint, code string, reward int64) (bool, error) {
	awarded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.UserAchievement{UserID: userID, Code: code, AwardedAt: time.Now().UTC()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		awarded = true
		if reward > 0 {
			if _, err := ApplyCoinDelta(tx, userID, reward, models.LedgerAchievement, code); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, internal(err)
	}
	if awarded && reward > 0 {
		cache.InvalidateUser(ctx, userID)
		observability.RecordLedger(models.LedgerAchievement, reward)
	}
	return awarded, nil
}
