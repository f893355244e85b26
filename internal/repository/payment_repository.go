package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// PaymentRepository handles payment intents, webhook dedup rows and refunds
type PaymentRepository struct {
	db *gorm.DB
}

// CreateIntent stores a new payment intent
func (r *PaymentRepository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

// GetIntentByProviderOrderID looks up the intent a provider event refers to
func (r *PaymentRepository) GetIntentByProviderOrderID(ctx context.Context, providerOrderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).First(&intent, "provider_order_id = ?", providerOrderID).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// GetIntentByProviderPaymentID looks up an intent by the captured payment id
func (r *PaymentRepository) GetIntentByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).First(&intent, "provider_payment_id = ?", providerPaymentID).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// GetActiveIntentForOrder returns the newest non-failed intent of an order
func (r *PaymentRepository) GetActiveIntentForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status <> ?", orderID, models.PaymentIntentFailed).
		Order("created_at DESC").
		First(&intent).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// GetCapturedIntentForOrder returns the intent whose payment was captured, if any
func (r *PaymentRepository) GetCapturedIntentForOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, models.PaymentIntentCaptured).
		Order("captured_at DESC").
		First(&intent).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// SaveIntent persists intent changes
func (r *PaymentRepository) SaveIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Save(intent).Error
}

// InsertProcessedEvent records a webhook as processed. It returns false when the
// (provider, event_id) pair already exists.
func (r *PaymentRepository) InsertProcessedEvent(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetProcessedEventOutcome records how an accepted event was handled
func (r *PaymentRepository) SetProcessedEventOutcome(ctx context.Context, provider, eventID, outcome string) error {
	return r.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Update("outcome", outcome).Error
}

// CountProcessedEvents counts dedup rows for an event
func (r *PaymentRepository) CountProcessedEvents(ctx context.Context, provider, eventID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count, err
}

// CreateRefundIfAbsent inserts a refund unless the order already has one.
// It returns false when a refund row already exists.
func (r *PaymentRepository) CreateRefundIfAbsent(ctx context.Context, refund *models.OrderRefund) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(refund)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetRefundByOrderID retrieves the refund of an order
func (r *PaymentRepository) GetRefundByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderRefund, error) {
	var refund models.OrderRefund
	if err := r.db.WithContext(ctx).First(&refund, "order_id = ?", orderID).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

// GetRefundByID retrieves a refund
func (r *PaymentRepository) GetRefundByID(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error) {
	var refund models.OrderRefund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

// LockRefund selects a refund FOR UPDATE
func (r *PaymentRepository) LockRefund(ctx context.Context, id uuid.UUID) (*models.OrderRefund, error) {
	var refund models.OrderRefund
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&refund, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

// FindRefundForProviderEvent matches a provider refund event by refund id, then payment id
func (r *PaymentRepository) FindRefundForProviderEvent(ctx context.Context, providerRefundID, providerPaymentID string) (*models.OrderRefund, error) {
	var refund models.OrderRefund
	if providerRefundID != "" {
		err := r.db.WithContext(ctx).First(&refund, "provider_refund_id = ?", providerRefundID).Error
		if err == nil {
			return &refund, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if providerPaymentID == "" {
		return nil, ErrNotFound
	}
	if err := r.db.WithContext(ctx).
		Where("provider_payment_id = ?", providerPaymentID).
		Order("created_at DESC").
		First(&refund).Error; err != nil {
		return nil, translate(err)
	}
	return &refund, nil
}

// SaveRefund persists refund changes
func (r *PaymentRepository) SaveRefund(ctx context.Context, refund *models.OrderRefund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

// ListRefundsByStatus lists refunds in a given status
func (r *PaymentRepository) ListRefundsByStatus(ctx context.Context, status models.RefundStatus, limit int) ([]models.OrderRefund, error) {
	var refunds []models.OrderRefund
	err := r.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at ASC").Limit(limit).Find(&refunds).Error
	return refunds, err
}

// SumCapturedPayments totals every amount the provider has captured
func (r *PaymentRepository) SumCapturedPayments(ctx context.Context) (decimal.Decimal, error) {
	var minor int64
	err := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Select("COALESCE(SUM(captured_amount_minor), 0)").
		Where("status = ?", models.PaymentIntentCaptured).
		Row().Scan(&minor)
	if err != nil {
		return decimal.Zero, err
	}
	return models.FromMinorUnits(minor), nil
}

// SumCompletedRefunds totals refunds the provider has confirmed
func (r *PaymentRepository) SumCompletedRefunds(ctx context.Context) (decimal.Decimal, error) {
	return sumAmount(r.db.WithContext(ctx).Model(&models.OrderRefund{}).
		Where("status = ?", models.RefundStatusCompleted))
}

func sumAmount(query *gorm.DB) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := query.Select("COALESCE(SUM(amount), 0)").Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return models.RoundMoney(total), nil
}
