package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playforge/internal/models"

	"gorm.io/gorm"
)

// workQueue describes a table whose rows are claimed one at a time by
// background workers: queued -> processing, with an attempt counter and a
// claim timestamp that lets stuck rows be handed back.
type workQueue struct {
	table      string
	started    string
	attempts   string
	queued     any
	processing any
	touch      bool // also bump updated_at on claim
}

var (
	imageQueue = workQueue{
		table:      "images",
		started:    "processing_started_at",
		attempts:   "processing_attempts",
		queued:     models.ImageStatusQueued,
		processing: models.ImageStatusProcessing,
	}
	generationQueue = workQueue{
		table:      "generation_jobs",
		started:    "started_at",
		attempts:   "attempts",
		queued:     models.JobQueued,
		processing: models.JobProcessing,
		touch:      true,
	}
)

func (q workQueue) claimSQL() string {
	touch := ""
	if q.touch {
		touch = ",\n    updated_at = NOW()"
	}
	return fmt.Sprintf(`
WITH picked AS (
	SELECT id FROM %[1]s
	WHERE status = ?
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE %[1]s q
SET status = ?,
    %[2]s = NOW(),
    %[3]s = q.%[3]s + 1%[4]s
FROM picked
WHERE q.id = picked.id
RETURNING q.*`, q.table, q.started, q.attempts, touch)
}

// claimNext moves the oldest queued row to processing and loads it into
// dst. It returns gorm.ErrRecordNotFound when nothing is queued. Postgres
// uses SKIP LOCKED so concurrent workers never pick the same row; other
// dialects fall back to a compare-and-set inside a transaction.
func claimNext[T any](ctx context.Context, db *gorm.DB, q workQueue) (*T, error) {
	var claimed T
	if db.Name() == "postgres" {
		res := db.WithContext(ctx).Raw(q.claimSQL(), q.queued, q.processing).Scan(&claimed)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
		return &claimed, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var id uint
		if err := tx.Table(q.table).Select("id").
			Where("status = ?", q.queued).Order("id ASC").Limit(1).
			Scan(&id).Error; err != nil {
			return err
		}
		if id == 0 {
			return gorm.ErrRecordNotFound
		}
		res := tx.Table(q.table).
			Where("id = ? AND status = ?", id, q.queued).
			Updates(map[string]any{
				"status":   q.processing,
				q.started:  time.Now().UTC(),
				q.attempts: gorm.Expr(q.attempts + " + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&claimed, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// stale matches processing rows whose claim is older than cutoff.
func (q workQueue) stale(db *gorm.DB, cutoff time.Time) *gorm.DB {
	return db.Table(q.table).
		Where(fmt.Sprintf("status = ? AND %[1]s IS NOT NULL AND %[1]s < ?", q.started), q.processing, cutoff)
}

func staleCutoff(olderThan time.Duration) (time.Time, error) {
	if olderThan <= 0 {
		return time.Time{}, errors.New("olderThan must be > 0")
	}
	return time.Now().UTC().Add(-olderThan), nil
}

// requeueStale hands back rows whose claim is older than olderThan and that
// still have attempts left. A worker that died mid-job leaves such rows
// behind.
func requeueStale(ctx context.Context, db *gorm.DB, q workQueue, olderThan time.Duration, maxAttempts int) (int64, error) {
	cutoff, err := staleCutoff(olderThan)
	if err != nil {
		return 0, err
	}
	res := q.stale(db.WithContext(ctx), cutoff).
		Where(q.attempts+" < ?", maxAttempts).
		Updates(map[string]any{
			"status":  q.queued,
			q.started: nil,
		})
	return res.RowsAffected, res.Error
}

// staleExhausted lists stale processing rows that used every attempt.
func staleExhausted(ctx context.Context, db *gorm.DB, q workQueue, olderThan time.Duration, maxAttempts int) ([]uint, error) {
	cutoff, err := staleCutoff(olderThan)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = q.stale(db.WithContext(ctx), cutoff).
		Where(q.attempts+" >= ?", maxAttempts).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
