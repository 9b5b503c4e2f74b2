package repository

import (
	"context"
	"errors"
	"time"

	"playforge/internal/cache"
	"playforge/internal/models"
	"playforge/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CoinRepository owns coin balances, the ledger and purchases.
type CoinRepository interface {
	Balance(ctx context.Context, userID uint) (int64, error)
	// Apply changes a balance by delta and records the ledger row in one
	// transaction. Debits that would go below zero fail with INSUFFICIENT_FUNDS.
	Apply(ctx context.Context, userID uint, delta int64, reason, refID string) (*models.CoinLedgerEntry, error)
	History(ctx context.Context, userID uint, limit, offset int) ([]models.CoinLedgerEntry, error)
	CreatePurchase(ctx context.Context, p *models.CoinPurchase) error
	GetPurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, error)
	// CompletePurchase credits a pending purchase. A purchase that is already
	// completed is returned unchanged with credited=false.
	CompletePurchase(ctx context.Context, providerRef string) (p *models.CoinPurchase, credited bool, err error)
	FailPurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, error)
}

type coinRepository struct {
	db *gorm.DB
}

// NewCoinRepository returns a CoinRepository backed by db.
func NewCoinRepository(db *gorm.DB) CoinRepository {
	return &coinRepository{db: db}
}

// ApplyCoinDelta adjusts userID's balance inside tx and appends the ledger
// row. Callers that combine a coin movement with another write run both in
// the same transaction through this function.
func ApplyCoinDelta(tx *gorm.DB, userID uint, delta int64, reason, refID string) (*models.CoinLedgerEntry, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND coins + ? >= 0", userID, delta).
		UpdateColumn("coins", gorm.Expr("coins + ?", delta))
	if res.Error != nil {
		return nil, res.Error
	}

	var user models.User
	if err := tx.Select("id", "coins").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", userID)
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, models.NewInsufficientFundsError(user.Coins, -delta)
	}

	entry := models.CoinLedgerEntry{
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: user.Coins,
		Reason:       reason,
		RefID:        refID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *coinRepository) Balance(ctx context.Context, userID uint) (int64, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("id", "coins").First(&user, userID).Error; err != nil {
		return 0, notFoundOr(err, "User", userID)
	}
	return user.Coins, nil
}

func (r *coinRepository) Apply(ctx context.Context, userID uint, delta int64, reason, refID string) (*models.CoinLedgerEntry, error) {
	var entry *models.CoinLedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = ApplyCoinDelta(tx, userID, delta, reason, refID)
		return err
	})
	if err != nil {
		return nil, internal(err)
	}
	cache.InvalidateUser(ctx, userID)
	observability.RecordLedger(reason, delta)
	return entry, nil
}

func (r *coinRepository) History(ctx context.Context, userID uint, limit, offset int) ([]models.CoinLedgerEntry, error) {
	limit, offset = clampPage(limit, offset)
	var entries []models.CoinLedgerEntry
	err := readDB(r.db).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, internal(err)
}

func (r *coinRepository) CreatePurchase(ctx context.Context, p *models.CoinPurchase) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Purchase reference already used")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *coinRepository) GetPurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, error) {
	var p models.CoinPurchase
	if err := r.db.WithContext(ctx).Where("provider_ref = ?", providerRef).First(&p).Error; err != nil {
		return nil, notFoundOr(err, "Purchase", providerRef)
	}
	return &p, nil
}

func (r *coinRepository) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if r.db.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (r *coinRepository) CompletePurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, bool, error) {
	var p models.CoinPurchase
	credited := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.lockForUpdate(tx).Where("provider_ref = ?", providerRef).First(&p).Error; err != nil {
			return err
		}
		switch p.Status {
		case models.PurchaseCompleted:
			return nil
		case models.PurchasePending:
		default:
			return models.NewConflictError("Purchase is " + string(p.Status))
		}

		now := time.Now().UTC()
		res := tx.Model(&models.CoinPurchase{}).
			Where("id = ? AND status = ?", p.ID, models.PurchasePending).
			Updates(map[string]interface{}{"status": models.PurchaseCompleted, "completed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Completed concurrently; the other transaction credited.
			return tx.First(&p, p.ID).Error
		}
		if _, err := ApplyCoinDelta(tx, p.UserID, p.Coins, models.LedgerPurchase, p.ProviderRef); err != nil {
			return err
		}
		p.Status = models.PurchaseCompleted
		p.CompletedAt = &now
		credited = true
		return nil
	})
	if err != nil {
		return nil, false, notFoundOr(err, "Purchase", providerRef)
	}
	if credited {
		cache.InvalidateUser(ctx, p.UserID)
		observability.RecordLedger(models.LedgerPurchase, p.Coins)
	}
	return &p, credited, nil
}

func (r *coinRepository) FailPurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, error) {
	res := r.db.WithContext(ctx).Model(&models.CoinPurchase{}).
		Where("provider_ref = ? AND status = ?", providerRef, models.PurchasePending).
		Update("status", models.PurchaseFailed)
	if res.Error != nil {
		return nil, models.NewInternalError(res.Error)
	}
	p, err := r.GetPurchase(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && p.Status != models.PurchaseFailed {
		return nil, models.NewConflictError("Purchase is " + string(p.Status))
	}
	return p, nil
}
