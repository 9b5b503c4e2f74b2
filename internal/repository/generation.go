package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"playforge/internal/cache"
	"playforge/internal/models"
	"playforge/internal/observability"

	"gorm.io/gorm"
)

// GenerationRepository persists AI generation jobs.
type GenerationRepository interface {
	// Enqueue debits job.CostCoins and stores the job atomically. A job with
	// the same (user, idempotency key) is returned instead with created=false.
	Enqueue(ctx context.Context, job *models.GenerationJob) (stored *models.GenerationJob, created bool, err error)
	GetByID(ctx context.Context, id uint) (*models.GenerationJob, error)
	ClaimNextQueued(ctx context.Context) (*models.GenerationJob, error)
	// RequeueStaleProcessing hands back stuck jobs with attempts left.
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
	// StaleExhausted lists stuck jobs that used every attempt.
	StaleExhausted(ctx context.Context, olderThan time.Duration, maxAttempts int) ([]uint, error)
	MarkSucceeded(ctx context.Context, id uint, gameID uint) error
	// Retry puts a processing job back on the queue.
	Retry(ctx context.Context, id uint, errMsg string) error
	// Fail marks the job failed and refunds its cost. The refund happens
	// at most once per job.
	Fail(ctx context.Context, id uint, errMsg string) (refunded bool, err error)
}

type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository returns a GenerationRepository backed by db.
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

func (r *generationRepository) findByKey(tx *gorm.DB, userID uint, key string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := tx.Where("user_id = ? AND idempotency_key = ?", userID, key).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationRepository) Enqueue(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, bool, error) {
	created := false
	var stored *models.GenerationJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.findByKey(tx, job.UserID, job.IdempotencyKey)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job.Status = models.JobQueued
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if job.CostCoins > 0 {
			ref := "job:" + strconv.FormatUint(uint64(job.ID), 10)
			if _, err := ApplyCoinDelta(tx, job.UserID, -job.CostCoins, models.LedgerGeneration, ref); err != nil {
				return err
			}
		}
		stored = job
		created = true
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, findErr := r.findByKey(r.db.WithContext(ctx), job.UserID, job.IdempotencyKey)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, internal(err)
	}
	if created && job.CostCoins > 0 {
		cache.InvalidateUser(ctx, job.UserID)
		observability.RecordLedger(models.LedgerGeneration, job.CostCoins)
	}
	return stored, created, nil
}

func (r *generationRepository) GetByID(ctx context.Context, id uint) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, notFoundOr(err, "Generation job", id)
	}
	return &job, nil
}

func (r *generationRepository) ClaimNextQueued(ctx context.Context) (*models.GenerationJob, error) {
	return claimNext[models.GenerationJob](ctx, r.db, generationQueue)
}

func (r *generationRepository) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	return requeueStale(ctx, r.db, generationQueue, olderThan, maxAttempts)
}

func (r *generationRepository) StaleExhausted(ctx context.Context, olderThan time.Duration, maxAttempts int) ([]uint, error) {
	return staleExhausted(ctx, r.db, generationQueue, olderThan, maxAttempts)
}

func (r *generationRepository) MarkSucceeded(ctx context.Context, id uint, gameID uint) error {
	return internal(r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.JobSucceeded,
			"result_game_id": gameID,
			"error":          "",
			"finished_at":    time.Now().UTC(),
		}).Error)
}

func truncateError(msg string) string {
	if len(msg) > 4000 {
		return msg[:4000]
	}
	return msg
}

func (r *generationRepository) Retry(ctx context.Context, id uint, errMsg string) error {
	return internal(r.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", id, models.JobProcessing).
		Updates(map[string]interface{}{
			"status":     models.JobQueued,
			"error":      truncateError(errMsg),
			"started_at": nil,
		}).Error)
}

func (r *generationRepository) Fail(ctx context.Context, id uint, errMsg string) (bool, error) {
	var job models.GenerationJob
	refunded := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GenerationJob{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":      models.JobFailed,
				"error":       truncateError(errMsg),
				"finished_at": time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		if job.CostCoins <= 0 {
			return nil
		}
		res := tx.Model(&models.GenerationJob{}).
			Where("id = ? AND refunded = ?", id, false).
			Update("refunded", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ref := fmt.Sprintf("job:%d", id)
		if _, err := ApplyCoinDelta(tx, job.UserID, job.CostCoins, models.LedgerRefund, ref); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, notFoundOr(err, "Generation job", id)
	}
	if refunded {
		cache.InvalidateUser(ctx, job.UserID)
		observability.RecordLedger(models.LedgerRefund, job.CostCoins)
	}
	return refunded, nil
}
