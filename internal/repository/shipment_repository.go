package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// ShipmentRepository handles shipment persistence
type ShipmentRepository struct {
	db *gorm.DB
}

// Create stores a shipment
func (r *ShipmentRepository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

// GetByOrderID retrieves the shipment of an order
func (r *ShipmentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).First(&shipment, "order_id = ?", orderID).Error; err != nil {
		return nil, translate(err)
	}
	return &shipment, nil
}

// LockByAWB selects a shipment by airway bill FOR UPDATE
func (r *ShipmentRepository) LockByAWB(ctx context.Context, awb string) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&shipment, "awb = ?", awb).Error; err != nil {
		return nil, translate(err)
	}
	return &shipment, nil
}

// Save persists shipment changes
func (r *ShipmentRepository) Save(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Save(shipment).Error
}
