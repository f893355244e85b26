package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

var (
	// ErrInsufficientStock is returned when a product cannot cover a reservation
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationExpired is returned when a hold lapsed before payment
	ErrReservationExpired = errors.New("stock reservation expired")
	// ErrReservationMissing is returned when an order has no active hold
	ErrReservationMissing = errors.New("stock reservation missing")
)

// ReservationLine is one product quantity to hold
type ReservationLine struct {
	ProductID uuid.UUID
	Quantity  int
}

// InventoryRepository handles products and stock reservations
type InventoryRepository struct {
	db *gorm.DB
}

// GetProducts loads products by id
func (r *InventoryRepository) GetProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error
	return products, err
}

// GetProduct loads one product
func (r *InventoryRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// SaveProduct persists product changes
func (r *InventoryRepository) SaveProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Save(product).Error
}

// DeactivateSellerProducts hides every active listing of a seller
func (r *InventoryRepository) DeactivateSellerProducts(ctx context.Context, sellerID uuid.UUID, reason string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("seller_id = ? AND is_active = ?", sellerID, true).
		Updates(map[string]interface{}{"is_active": false, "deactivated_reason": reason})
	return result.RowsAffected, result.Error
}

// Reserve holds stock for an order. Each product row is locked while availability
// (stock minus live holds) is checked.
func (r *InventoryRepository) Reserve(ctx context.Context, orderID uuid.UUID, lines []ReservationLine, now, expiresAt time.Time) error {
	for _, line := range lines {
		var product models.Product
		if err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&product, "id = ?", line.ProductID).Error; err != nil {
			return translate(err)
		}

		var held int64
		if err := r.db.WithContext(ctx).Model(&models.StockReservation{}).
			Select("COALESCE(SUM(quantity), 0)").
			Where("product_id = ? AND status = ? AND expires_at > ?", line.ProductID, models.ReservationActive, now).
			Row().Scan(&held); err != nil {
			return err
		}

		if int64(product.Stock)-held < int64(line.Quantity) {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, product.ID)
		}

		reservation := &models.StockReservation{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Status:    models.ReservationActive,
			ExpiresAt: expiresAt,
		}
		if err := r.db.WithContext(ctx).Create(reservation).Error; err != nil {
			return err
		}
	}
	return nil
}

// CommitReservations converts an order's holds into stock decrements
func (r *InventoryRepository) CommitReservations(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderID, models.ReservationActive).
		Find(&reservations).Error; err != nil {
		return err
	}
	if len(reservations) == 0 {
		return ErrReservationMissing
	}

	for _, reservation := range reservations {
		if !reservation.ExpiresAt.After(now) {
			return fmt.Errorf("%w: reservation %s", ErrReservationExpired, reservation.ID)
		}

		result := r.db.WithContext(ctx).Model(&models.Product{}).
			Where("id = ? AND stock >= ?", reservation.ProductID, reservation.Quantity).
			Update("stock", gorm.Expr("stock - ?", reservation.Quantity))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, reservation.ProductID)
		}
	}

	return r.db.WithContext(ctx).Model(&models.StockReservation{}).
		Where("order_id = ? AND status = ?", orderID, models.ReservationActive).
		Update("status", models.ReservationCommitted).Error
}

// ReleaseReservations drops an order's live holds
func (r *InventoryRepository) ReleaseReservations(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.StockReservation{}).
		Where("order_id = ? AND status = ?", orderID, models.ReservationActive).
		Update("status", models.ReservationReleased)
	return result.RowsAffected, result.Error
}

// RestockCommitted returns committed stock for a cancelled order
func (r *InventoryRepository) RestockCommitted(ctx context.Context, orderID uuid.UUID) error {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, models.ReservationCommitted).
		Find(&reservations).Error; err != nil {
		return err
	}
	for _, reservation := range reservations {
		if err := r.db.WithContext(ctx).Model(&models.Product{}).
			Where("id = ?", reservation.ProductID).
			Update("stock", gorm.Expr("stock + ?", reservation.Quantity)).Error; err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Model(&models.StockReservation{}).
		Where("order_id = ? AND status = ?", orderID, models.ReservationCommitted).
		Update("status", models.ReservationReleased).Error
}
