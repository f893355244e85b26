package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationStatus is the state of a stock hold placed at checkout
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// StockReservation holds product stock for an unpaid order until it expires
type StockReservation struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID         `gorm:"type:uuid;not null;index" json:"orderId"`
	ProductID uuid.UUID         `gorm:"type:uuid;not null;index" json:"productId"`
	Quantity  int               `gorm:"not null" json:"quantity"`
	Status    ReservationStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt time.Time         `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (r *StockReservation) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	if r.Status == "" {
		r.Status = ReservationActive
	}
	return nil
}

// ShipmentStatus is the carrier-side state of a shipment
type ShipmentStatus string

const (
	ShipmentStatusCreated         ShipmentStatus = "CREATED"
	ShipmentStatusPickupScheduled ShipmentStatus = "PICKUP_SCHEDULED"
	ShipmentStatusInTransit       ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered       ShipmentStatus = "DELIVERED"
	ShipmentStatusFailedDelivery  ShipmentStatus = "FAILED_DELIVERY"
	ShipmentStatusRTO             ShipmentStatus = "RTO"
)

// Shipment tracks the carrier booking for an order
type Shipment struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID            uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"orderId"`
	SellerID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"sellerId"`
	AWB                *string        `gorm:"column:awb;type:varchar(100);uniqueIndex" json:"awb,omitempty"`
	ProviderShipmentID string         `gorm:"type:varchar(100)" json:"providerShipmentId,omitempty"`
	CourierName        string         `gorm:"type:varchar(100)" json:"courierName,omitempty"`
	Status             ShipmentStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	IsRTO              bool           `gorm:"column:is_rto;not null;default:false" json:"isRto"`
	FailedAttempts     int            `gorm:"not null;default:0" json:"failedAttempts"`
	PickupScheduledAt  *time.Time     `json:"pickupScheduledAt,omitempty"`
	ShippedAt          *time.Time     `json:"shippedAt,omitempty"`
	DeliveredAt        *time.Time     `json:"deliveredAt,omitempty"`
	LastEventAt        *time.Time     `json:"lastEventAt,omitempty"`
	CreatedAt          time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func (s *Shipment) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	if s.Status == "" {
		s.Status = ShipmentStatusCreated
	}
	return nil
}

// AllModels returns every persisted model for schema migration
func AllModels() []interface{} {
	return []interface{}{
		&Seller{},
		&Shop{},
		&Product{},
		&Order{},
		&OrderItem{},
		&OrderStatusHistory{},
		&DomainEvent{},
		&PaymentIntent{},
		&ProcessedWebhookEvent{},
		&OrderRefund{},
		&StockReservation{},
		&Shipment{},
		&SellerBalance{},
		&SellerRiskMetrics{},
		&SellerComplaint{},
		&LedgerEntry{},
		&PlatformCommission{},
		&Payout{},
		&SystemState{},
		&FinanceAlert{},
		&AuditLog{},
		&JobFailure{},
	}
}
