package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"marketplace-finance-service/internal/models"
)

// SignalRepository aggregates the trailing-window seller activity used for risk scoring
type SignalRepository struct {
	db *gorm.DB
}

// DispatchTiming pairs a paid order with its carrier handover
type DispatchTiming struct {
	PaidAt    *time.Time
	ShippedAt *time.Time
}

func (r *SignalRepository) sellerOrders(sellerID uuid.UUID) *gorm.DB {
	return r.db.Model(&models.OrderItem{}).Select("order_id").Where("seller_id = ?", sellerID)
}

// CountPaidOrders counts the seller's orders paid within [from, to)
func (r *SignalRepository) CountPaidOrders(ctx context.Context, sellerID uuid.UUID, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id IN (?)", r.sellerOrders(sellerID)).
		Where("paid_at >= ? AND paid_at < ?", from, to).
		Count(&count).Error
	return count, err
}

// CountOrdersCreatedSince counts every order placed with the seller since a time
func (r *SignalRepository) CountOrdersCreatedSince(ctx context.Context, sellerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id IN (?)", r.sellerOrders(sellerID)).
		Where("created_at >= ? AND status <> ?", since, models.OrderStatusCancelled).
		Count(&count).Error
	return count, err
}

// CountChargebacks counts chargeback ledger entries since a time
func (r *SignalRepository) CountChargebacks(ctx context.Context, sellerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("seller_id = ? AND type = ? AND created_at >= ?", sellerID, models.LedgerEntryChargeback, since).
		Count(&count).Error
	return count, err
}

// CountRefunds counts non-failed refunds on the seller's orders since a time
func (r *SignalRepository) CountRefunds(ctx context.Context, sellerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OrderRefund{}).
		Where("order_id IN (?)", r.sellerOrders(sellerID)).
		Where("created_at >= ? AND status <> ?", since, models.RefundStatusFailed).
		Count(&count).Error
	return count, err
}

// CountCancelledOrRTO counts paid orders that were cancelled or returned to origin
func (r *SignalRepository) CountCancelledOrRTO(ctx context.Context, sellerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id IN (?)", r.sellerOrders(sellerID)).
		Where("paid_at >= ?", since).
		Where("status = ? OR is_rto = ?", models.OrderStatusCancelled, true).
		Count(&count).Error
	return count, err
}

// ShipmentOutcomes returns total, delivered and failed-delivery shipment counts since a time
func (r *SignalRepository) ShipmentOutcomes(ctx context.Context, sellerID uuid.UUID, since time.Time) (total, delivered, failed int64, err error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Shipment{}).
			Where("seller_id = ? AND created_at >= ?", sellerID, since)
	}
	if err = base().Count(&total).Error; err != nil {
		return
	}
	if err = base().Where("status = ?", models.ShipmentStatusDelivered).Count(&delivered).Error; err != nil {
		return
	}
	err = base().Where("failed_attempts > 0 OR status = ?", models.ShipmentStatusFailedDelivery).Count(&failed).Error
	return
}

// ListDispatchTimings returns paid/shipped timestamps for the seller's recent shipments
func (r *SignalRepository) ListDispatchTimings(ctx context.Context, sellerID uuid.UUID, since time.Time) ([]DispatchTiming, error) {
	var timings []DispatchTiming
	err := r.db.WithContext(ctx).Table("shipments").
		Select("orders.paid_at AS paid_at, shipments.shipped_at AS shipped_at").
		Joins("JOIN orders ON orders.id = shipments.order_id").
		Where("shipments.seller_id = ? AND shipments.created_at >= ?", sellerID, since).
		Scan(&timings).Error
	return timings, err
}

// SumSellerGMV totals the seller's item value on orders paid since a time
func (r *SignalRepository) SumSellerGMV(ctx context.Context, sellerID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	paidOrders := r.db.Model(&models.Order{}).Select("id").Where("paid_at >= ?", since)
	var total decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.OrderItem{}).
		Select("COALESCE(SUM(total_price), 0)").
		Where("seller_id = ? AND order_id IN (?)", sellerID, paidOrders).
		Row().Scan(&total)
	return models.RoundMoney(total), err
}

// CountComplaints counts complaints since a time
func (r *SignalRepository) CountComplaints(ctx context.Context, sellerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SellerComplaint{}).
		Where("seller_id = ? AND created_at >= ?", sellerID, since).
		Count(&count).Error
	return count, err
}

// ListFraudFlags returns the distinct unresolved alert types raised against a seller
func (r *SignalRepository) ListFraudFlags(ctx context.Context, sellerID uuid.UUID) ([]string, error) {
	var flags []string
	err := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).
		Distinct("type").
		Where("seller_id = ? AND resolved = ?", sellerID, false).
		Where("type IN ?", []string{models.AlertTypeChargeback, models.AlertTypeAmountMismatch, models.AlertTypeLedgerInconsistency}).
		Pluck("type", &flags).Error
	return flags, err
}

// CountOpenPayoutFailures counts failed payouts nobody has resolved yet
func (r *SignalRepository) CountOpenPayoutFailures(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("seller_id = ? AND status = ? AND failure_resolved = ?", sellerID, models.PayoutStatusFailed, false).
		Count(&count).Error
	return count, err
}
