package models

import "time"

// PurchaseStatus is the lifecycle of a coin purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// CoinPurchase is a request to buy a coin package from a payment provider.
type CoinPurchase struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	PackageCode string         `gorm:"size:40;not null" json:"package_code"`
	Coins       int64          `gorm:"not null" json:"coins"`
	AmountCents int64          `gorm:"not null" json:"amount_cents"`
	Currency    string         `gorm:"size:3;not null" json:"currency"`
	Provider    string         `gorm:"size:40;not null" json:"provider"`
	ProviderRef string         `gorm:"size:64;not null;uniqueIndex" json:"provider_ref"`
	Status      PurchaseStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Ledger reasons.
const (
	LedgerSignupBonus = "signup_bonus"
	LedgerPurchase    = "purchase"
	LedgerAchievement = "achievement"
	LedgerGeneration  = "generation"
	LedgerRefund      = "refund"
	LedgerAdminGrant  = "admin_grant"
)

// CoinLedgerEntry records one balance change with the balance after it.
type CoinLedgerEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_coin_ledger_user_created" json:"user_id"`
	Delta        int64     `gorm:"not null" json:"delta"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	Reason       string    `gorm:"size:32;not null" json:"reason"`
	RefID        string    `gorm:"size:64" json:"ref_id,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_coin_ledger_user_created" json:"created_at"`
}

// CoinPackage is a purchasable bundle from the embedded catalogue.
type CoinPackage struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Coins       int64  `yaml:"coins" json:"coins"`
	AmountCents int64  `yaml:"amount_cents" json:"amount_cents"`
	Currency    string `yaml:"currency" json:"currency"`
}

// Achievement is a catalogue entry loaded from the embedded YAML.
type Achievement struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Metric      string `yaml:"metric" json:"metric"`
	Threshold   int64  `yaml:"threshold" json:"threshold"`
	RewardCoins int64  `yaml:"reward_coins" json:"reward_coins"`
	Icon        string `yaml:"icon" json:"icon"`

	Earned   bool       `yaml:"-" json:"earned"`
	EarnedAt *time.Time `yaml:"-" json:"earned_at,omitempty"`
}

// UserAchievement marks an achievement as earned.
type UserAchievement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_achievements_user_code" json:"user_id"`
	Code      string    `gorm:"size:64;not null;uniqueIndex:idx_user_achievements_user_code" json:"code"`
	AwardedAt time.Time `json:"awarded_at"`
}
