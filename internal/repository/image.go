package repository

import (
	"context"
	"errors"
	"time"

	"playforge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImageRepository defines storage operations for media bucket images.
type ImageRepository interface {
	// Create stores img unless an image with the same hash exists, in which
	// case the existing row is returned with created=false.
	Create(ctx context.Context, img *models.Image) (stored *models.Image, created bool, err error)
	GetByHash(ctx context.Context, hash string) (*models.Image, error)
	GetByHashWithVariants(ctx context.Context, hash string) (*models.Image, error)
	UpdateLastAccessed(ctx context.Context, id uint) error
	UpsertVariant(ctx context.Context, v *models.ImageVariant) error
	ClaimNextQueued(ctx context.Context) (*models.Image, error)
	MarkReady(ctx context.Context, imageID uint) error
	// MarkFailed records errMsg and either requeues the image or parks it as failed.
	MarkFailed(ctx context.Context, imageID uint, errMsg string, requeue bool) error
	// RequeueStaleProcessing hands back stuck images with attempts left and
	// parks the rest as failed. It returns how many were requeued.
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
}

type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository returns a repository implementation for image metadata.
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) Create(ctx context.Context, img *models.Image) (*models.Image, bool, error) {
	res := r.db.WithContext(ctx).Omit("Variants").Clauses(clause.OnConflict{DoNothing: true}).Create(img)
	if res.Error != nil {
		return nil, false, models.NewInternalError(res.Error)
	}
	if res.RowsAffected > 0 {
		return img, true, nil
	}
	existing, err := r.GetByHash(ctx, img.Hash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *imageRepository) GetByHash(ctx context.Context, hash string) (*models.Image, error) {
	var img models.Image
	if err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&img).Error; err != nil {
		return nil, notFoundOr(err, "Image", hash)
	}
	return &img, nil
}

func (r *imageRepository) GetByHashWithVariants(ctx context.Context, hash string) (*models.Image, error) {
	var img models.Image
	err := readDB(r.db).WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB {
			return db.Order("size_px ASC, format ASC")
		}).
		Where("hash = ?", hash).
		First(&img).Error
	if err != nil {
		return nil, notFoundOr(err, "Image", hash)
	}
	return &img, nil
}

func (r *imageRepository) UpdateLastAccessed(ctx context.Context, id uint) error {
	return internal(r.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ?", id).
		UpdateColumn("last_accessed_at", time.Now().UTC()).Error)
}

func (r *imageRepository) UpsertVariant(ctx context.Context, v *models.ImageVariant) error {
	if v == nil {
		return errors.New("variant is nil")
	}
	return internal(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}, {Name: "size_px"}, {Name: "format"}},
		DoUpdates: clause.AssignmentColumns([]string{"size_name", "key", "width", "height", "bytes"}),
	}).Create(v).Error)
}

func (r *imageRepository) ClaimNextQueued(ctx context.Context) (*models.Image, error) {
	return claimNext[models.Image](ctx, r.db, imageQueue)
}

func (r *imageRepository) MarkReady(ctx context.Context, imageID uint) error {
	return internal(r.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ?", imageID).
		Updates(map[string]interface{}{
			"status":                models.ImageStatusReady,
			"error":                 "",
			"processing_started_at": nil,
		}).Error)
}

func (r *imageRepository) MarkFailed(ctx context.Context, imageID uint, errMsg string, requeue bool) error {
	status := models.ImageStatusFailed
	if requeue {
		status = models.ImageStatusQueued
	}
	return internal(r.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ?", imageID).
		Updates(map[string]interface{}{
			"status":                status,
			"error":                 truncateError(errMsg),
			"processing_started_at": nil,
		}).Error)
}

func (r *imageRepository) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	n, err := requeueStale(ctx, r.db, imageQueue, olderThan, maxAttempts)
	if err != nil {
		return 0, internal(err)
	}
	ids, err := staleExhausted(ctx, r.db, imageQueue, olderThan, maxAttempts)
	if err != nil {
		return n, internal(err)
	}
	for _, id := range ids {
		if err := r.MarkFailed(ctx, id, "processing timed out", false); err != nil {
			return n, err
		}
	}
	return n, nil
}
