package service

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"playforge/internal/models"
	"playforge/internal/repository"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue/coin_packages.yaml
var coinPackagesYAML []byte

var (
	packagesOnce sync.Once
	packages     []models.CoinPackage
	packagesErr  error
)

// CoinPackages returns the embedded shop catalogue.
func CoinPackages() ([]models.CoinPackage, error) {
	packagesOnce.Do(func() {
		packagesErr = yaml.Unmarshal(coinPackagesYAML, &packages)
	})
	return packages, packagesErr
}

type CoinService struct {
	coinRepo    repository.CoinRepository
	signupBonus int64
}

type StartPurchaseInput struct {
	UserID      uint   `json:"-"`
	PackageCode string `json:"package_code" validate:"required"`
	Provider    string `json:"provider"`
}

func NewCoinService(coinRepo repository.CoinRepository, signupBonus int64) *CoinService {
	return &CoinService{coinRepo: coinRepo, signupBonus: signupBonus}
}

func (s *CoinService) Packages() ([]models.CoinPackage, error) {
	pkgs, err := CoinPackages()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return pkgs, nil
}

func (s *CoinService) Balance(ctx context.Context, userID uint) (int64, error) {
	return s.coinRepo.Balance(ctx, userID)
}

func (s *CoinService) History(ctx context.Context, userID uint, limit, offset int) ([]models.CoinLedgerEntry, error) {
	return s.coinRepo.History(ctx, userID, limit, offset)
}

// GrantSignupBonus credits the configured bonus and returns the new balance.
func (s *CoinService) GrantSignupBonus(ctx context.Context, userID uint) (int64, error) {
	if s.signupBonus <= 0 {
		return s.coinRepo.Balance(ctx, userID)
	}
	entry, err := s.coinRepo.Apply(ctx, userID, s.signupBonus, models.LedgerSignupBonus, "")
	if err != nil {
		return 0, err
	}
	return entry.BalanceAfter, nil
}

// Spend debits amount coins. It fails with INSUFFICIENT_FUNDS rather than
// letting the balance go negative.
func (s *CoinService) Spend(ctx context.Context, userID uint, amount int64, reason, refID string) (*models.CoinLedgerEntry, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("Amount must be positive")
	}
	return s.coinRepo.Apply(ctx, userID, -amount, reason, refID)
}

func (s *CoinService) Credit(ctx context.Context, userID uint, amount int64, reason, refID string) (*models.CoinLedgerEntry, error) {
	if amount <= 0 {
		return nil, models.NewValidationError("Amount must be positive")
	}
	return s.coinRepo.Apply(ctx, userID, amount, reason, refID)
}

// StartPurchase records a pending purchase for a catalogue package. The
// returned provider_ref is the idempotency key for completion.
func (s *CoinService) StartPurchase(ctx context.Context, in StartPurchaseInput) (*models.CoinPurchase, error) {
	pkgs, err := s.Packages()
	if err != nil {
		return nil, err
	}
	code := strings.ToLower(strings.TrimSpace(in.PackageCode))
	var pkg *models.CoinPackage
	for i := range pkgs {
		if pkgs[i].Code == code {
			pkg = &pkgs[i]
			break
		}
	}
	if pkg == nil {
		return nil, models.NewValidationError(fmt.Sprintf("Unknown package %q", in.PackageCode))
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = "manual"
	}

	p := &models.CoinPurchase{
		UserID:      in.UserID,
		PackageCode: pkg.Code,
		Coins:       pkg.Coins,
		AmountCents: pkg.AmountCents,
		Currency:    pkg.Currency,
		Provider:    provider,
		ProviderRef: "pf_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:      models.PurchasePending,
	}
	if err := s.coinRepo.CreatePurchase(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompletePurchase credits a pending purchase once. Replays return the
// completed purchase without crediting again.
func (s *CoinService) CompletePurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, bool, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, false, models.NewValidationError("provider_ref is required")
	}
	return s.coinRepo.CompletePurchase(ctx, providerRef)
}

func (s *CoinService) FailPurchase(ctx context.Context, providerRef string) (*models.CoinPurchase, error) {
	return s.coinRepo.FailPurchase(ctx, providerRef)
}

// GetPurchase returns a purchase owned by userID.
func (s *CoinService) GetPurchase(ctx context.Context, userID uint, providerRef string) (*models.CoinPurchase, error) {
	p, err := s.coinRepo.GetPurchase(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, models.NewNotFoundError("Purchase", providerRef)
	}
	return p, nil
}

// AdminGrant credits or debits coins on behalf of an operator.
func (s *CoinService) AdminGrant(ctx context.Context, userID uint, delta int64, note string) (*models.CoinLedgerEntry, error) {
	if delta == 0 {
		return nil, models.NewValidationError("Amount must not be zero")
	}
	if len(note) > 64 {
		note = note[:64]
	}
	return s.coinRepo.Apply(ctx, userID, delta, models.LedgerAdminGrant, note)
}
