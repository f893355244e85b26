package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// LedgerRepository handles seller ledger entries, commissions and payouts
type LedgerRepository struct {
	db *gorm.DB
}

// InsertEntryIfAbsent inserts a ledger entry unless its (seller, order, type, reason)
// key already exists. It reports whether a row was written.
func (r *LedgerRepository) InsertEntryIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "seller_id"}, {Name: "order_id"}, {Name: "type"}, {Name: "reason"},
			},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListEntriesForOrder lists an order's ledger entries of one type
func (r *LedgerRepository) ListEntriesForOrder(ctx context.Context, orderID uuid.UUID, entryType models.LedgerEntryType) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, entryType).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// ListEntriesForSeller lists a seller's ledger, newest first
func (r *LedgerRepository) ListEntriesForSeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).
		Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// SumSellerEntries totals a seller's entries of one type
func (r *LedgerRepository) SumSellerEntries(ctx context.Context, sellerID uuid.UUID, entryType models.LedgerEntryType) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("seller_id = ? AND type = ?", sellerID, entryType))
}

// InsertCommissionIfAbsent records the platform cut of an order once
func (r *LedgerRepository) InsertCommissionIfAbsent(ctx context.Context, commission *models.PlatformCommission) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(commission)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SumEntries totals every entry of one type across sellers
func (r *LedgerRepository) SumEntries(ctx context.Context, entryType models.LedgerEntryType) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("type = ?", entryType))
}

// SumCommission totals platform commission
func (r *LedgerRepository) SumCommission(ctx context.Context) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.PlatformCommission{}))
}

// CreatePayout stores a payout
func (r *LedgerRepository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// LockPayout selects a payout FOR UPDATE
func (r *LedgerRepository) LockPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &payout, nil
}

// SavePayout persists payout changes
func (r *LedgerRepository) SavePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Save(payout).Error
}

// SumCompletedPayouts totals money paid out to sellers
func (r *LedgerRepository) SumCompletedPayouts(ctx context.Context) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("status = ?", models.PayoutStatusCompleted))
}

// SumInFlightPayouts totals a seller's payouts that are not yet settled
func (r *LedgerRepository) SumInFlightPayouts(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("seller_id = ? AND status = ?", sellerID, models.PayoutStatusPending))
}
