package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// SellerRepository handles sellers, shops, balances and risk metrics
type SellerRepository struct {
	db *gorm.DB
}

// CreateSeller stores a seller
func (r *SellerRepository) CreateSeller(ctx context.Context, seller *models.Seller) error {
	return r.db.WithContext(ctx).Create(seller).Error
}

// GetSeller retrieves a seller
func (r *SellerRepository) GetSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	var seller models.Seller
	if err := r.db.WithContext(ctx).First(&seller, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &seller, nil
}

// ListSellerIDs returns every seller id
func (r *SellerRepository) ListSellerIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Seller{}).Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}

// CreateShop stores a shop
func (r *SellerRepository) CreateShop(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

// GetShop retrieves a shop
func (r *SellerRepository) GetShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &shop, nil
}

// SetShopVisibility updates the ranking multiplier of all of a seller's shops
func (r *SellerRepository) SetShopVisibility(ctx context.Context, sellerID uuid.UUID, multiplier float64) error {
	return r.db.WithContext(ctx).Model(&models.Shop{}).
		Where("seller_id = ?", sellerID).
		Update("visibility_multiplier", multiplier).Error
}

// EnsureBalance creates a NORMAL zero balance for the seller if none exists
func (r *SellerRepository) EnsureBalance(ctx context.Context, sellerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seller_id"}}, DoNothing: true}).
		Create(models.NewSellerBalance(sellerID)).Error
}

// GetBalance reads a seller balance without locking; a missing row reads as a fresh balance
func (r *SellerRepository) GetBalance(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error) {
	var balance models.SellerBalance
	err := r.db.WithContext(ctx).First(&balance, "seller_id = ?", sellerID).Error
	if err != nil {
		if translate(err) == ErrNotFound {
			return models.NewSellerBalance(sellerID), nil
		}
		return nil, err
	}
	return &balance, nil
}

// LockBalance creates the balance if needed and selects it FOR UPDATE
func (r *SellerRepository) LockBalance(ctx context.Context, sellerID uuid.UUID) (*models.SellerBalance, error) {
	if err := r.EnsureBalance(ctx, sellerID); err != nil {
		return nil, err
	}
	var balance models.SellerBalance
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&balance, "seller_id = ?", sellerID).Error; err != nil {
		return nil, translate(err)
	}
	return &balance, nil
}

// SaveBalance persists balance changes
func (r *SellerRepository) SaveBalance(ctx context.Context, balance *models.SellerBalance) error {
	return r.db.WithContext(ctx).Save(balance).Error
}

// AdjustPending adds delta to a seller's pending amount in place
func (r *SellerRepository) AdjustPending(ctx context.Context, sellerID uuid.UUID, delta decimal.Decimal) error {
	if err := r.EnsureBalance(ctx, sellerID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.SellerBalance{}).
		Where("seller_id = ?", sellerID).
		Update("pending_amount", gorm.Expr("pending_amount + ?", delta)).Error
}

// SumPendingBalances totals what the platform still owes sellers
func (r *SellerRepository) SumPendingBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.db.WithContext(ctx).Model(&models.SellerBalance{}).
		Select("COALESCE(SUM(pending_amount), 0)").
		Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return models.RoundMoney(total), nil
}

// ListRiskFlagged returns balances with the risk flag set
func (r *SellerRepository) ListRiskFlagged(ctx context.Context) ([]models.SellerBalance, error) {
	var balances []models.SellerBalance
	err := r.db.WithContext(ctx).Where("risk_flag = ?", true).Find(&balances).Error
	return balances, err
}

// CountNegativeBalances counts sellers owing the platform money
func (r *SellerRepository) CountNegativeBalances(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SellerBalance{}).
		Where("pending_amount < 0").Count(&count).Error
	return count, err
}

// ClearRiskFlagsForSolventSellers clears the flag on every flagged seller with a non-negative balance
func (r *SellerRepository) ClearRiskFlagsForSolventSellers(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.SellerBalance{}).
		Where("risk_flag = ? AND pending_amount >= 0", true).
		Updates(map[string]interface{}{"risk_flag": false, "risk_block_reason": ""})
	return result.RowsAffected, result.Error
}

// ListRisky returns the riskiest sellers first
func (r *SellerRepository) ListRisky(ctx context.Context, minScore float64, limit int) ([]models.SellerBalance, error) {
	var balances []models.SellerBalance
	err := r.db.WithContext(ctx).
		Where("risk_score >= ? OR risk_flag = ? OR seller_financial_mode <> ?", minScore, true, models.FinancialModeNormal).
		Order("risk_score DESC").
		Limit(limit).
		Find(&balances).Error
	return balances, err
}

// ListIsolatedBelowThresholdSince returns ISOLATED sellers whose score has been under
// the threshold since before the cutoff
func (r *SellerRepository) ListIsolatedBelowThresholdSince(ctx context.Context, cutoff time.Time) ([]models.SellerBalance, error) {
	var balances []models.SellerBalance
	err := r.db.WithContext(ctx).
		Where("seller_financial_mode = ? AND risk_below_threshold_since IS NOT NULL AND risk_below_threshold_since <= ?",
			models.FinancialModeIsolated, cutoff).
		Find(&balances).Error
	return balances, err
}

// GetRiskMetrics retrieves the last scoring output for a seller
func (r *SellerRepository) GetRiskMetrics(ctx context.Context, sellerID uuid.UUID) (*models.SellerRiskMetrics, error) {
	var metrics models.SellerRiskMetrics
	if err := r.db.WithContext(ctx).First(&metrics, "seller_id = ?", sellerID).Error; err != nil {
		return nil, translate(err)
	}
	return &metrics, nil
}

// UpsertRiskMetrics writes the one-per-seller metrics row
func (r *SellerRepository) UpsertRiskMetrics(ctx context.Context, metrics *models.SellerRiskMetrics) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seller_id"}},
			UpdateAll: true,
		}).
		Create(metrics).Error
}

// CreateComplaint stores a customer complaint
func (r *SellerRepository) CreateComplaint(ctx context.Context, complaint *models.SellerComplaint) error {
	return r.db.WithContext(ctx).Create(complaint).Error
}
