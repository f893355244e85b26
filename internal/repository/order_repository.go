package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// OrderRepository handles order persistence
type OrderRepository struct {
	db *gorm.DB
}

// Create inserts an order together with its items
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID retrieves an order with its items
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// LockByID selects the order FOR UPDATE; callers must be inside a transaction
func (r *OrderRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIdempotencyKey returns the order a user already placed with this key
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&order).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// Save persists the order row without touching its items
func (r *OrderRepository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

// AddStatusHistory appends a transition record
func (r *OrderRepository) AddStatusHistory(ctx context.Context, history *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

// GetStatusHistory lists transitions oldest first
func (r *OrderRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&history).Error
	return history, err
}

// AddDomainEvent writes an outbox row
func (r *OrderRepository) AddDomainEvent(ctx context.Context, event *models.DomainEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// GetDomainEvent retrieves an outbox row
func (r *OrderRepository) GetDomainEvent(ctx context.Context, id uuid.UUID) (*models.DomainEvent, error) {
	var event models.DomainEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

// ListUnpublishedEvents returns outbox rows not yet relayed, oldest first
func (r *OrderRepository) ListUnpublishedEvents(ctx context.Context, limit int) ([]models.DomainEvent, error) {
	var events []models.DomainEvent
	err := r.db.WithContext(ctx).Where("published_at IS NULL").
		Order("created_at ASC").Limit(limit).Find(&events).Error
	return events, err
}

// MarkEventPublished stamps an outbox row as relayed
func (r *OrderRepository) MarkEventPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.DomainEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at).Error
}

// ListStaleUnpaid returns CREATED orders placed before the cutoff
func (r *OrderRepository) ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusCreated, before).
		Order("created_at ASC").Limit(limit).Find(&orders).Error
	return orders, err
}

// ListDueForSettlement returns PENDING orders whose hold period has elapsed
func (r *OrderRepository) ListDueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("settlement_status = ? AND settlement_eligible_at <= ?", models.SettlementStatusPending, now).
		Order("settlement_eligible_at ASC").Limit(limit).Find(&orders).Error
	return orders, err
}

// ListSettledOrdersForSeller returns ELIGIBLE orders containing the seller's items
func (r *OrderRepository) ListSettledOrdersForSeller(ctx context.Context, sellerID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Preload("Items").
		Where("settlement_status = ?", models.SettlementStatusEligible).
		Where("id IN (?)", r.db.Model(&models.OrderItem{}).Select("order_id").Where("seller_id = ?", sellerID)).
		Find(&orders).Error
	return orders, err
}
