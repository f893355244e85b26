package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus represents the overall lifecycle status of an order
type OrderStatus string

const (
	OrderStatusCreated            OrderStatus = "CREATED"              // Order placed, awaiting payment
	OrderStatusPaid               OrderStatus = "PAID"                 // Payment captured and stock committed
	OrderStatusPaymentStockFailed OrderStatus = "PAYMENT_STOCK_FAILED" // Paid but stock could not be committed, refunded
	OrderStatusConfirmed          OrderStatus = "CONFIRMED"            // Shipment booked with the carrier
	OrderStatusProcessing         OrderStatus = "PROCESSING"           // Being packed
	OrderStatusShipped            OrderStatus = "SHIPPED"              // Handed to carrier
	OrderStatusDelivered          OrderStatus = "DELIVERED"            // Delivered to customer
	OrderStatusCompleted          OrderStatus = "COMPLETED"            // Closed after delivery
	OrderStatusCancelled          OrderStatus = "CANCELLED"            // Cancelled before fulfillment
)

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// SettlementStatus tracks whether an order's seller share has been credited
type SettlementStatus string

const (
	SettlementStatusNone       SettlementStatus = "NONE"
	SettlementStatusPending    SettlementStatus = "PENDING"
	SettlementStatusEligible   SettlementStatus = "ELIGIBLE"
	SettlementStatusRTOBlocked SettlementStatus = "RTO_BLOCKED"
)

// Order represents a customer order placed against a single shop
type Order struct {
	ID                   uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_user_idempotency" json:"userId"`
	IdempotencyKey       string           `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_user_idempotency" json:"idempotencyKey"`
	ShopID               uuid.UUID        `gorm:"type:uuid;not null;index" json:"shopId"`
	Status               OrderStatus      `gorm:"type:varchar(30);not null;index" json:"status"`
	PaymentStatus        PaymentStatus    `gorm:"type:varchar(20);not null" json:"paymentStatus"`
	TotalAmount          decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"totalAmount"`
	Currency             string           `gorm:"type:varchar(3);not null" json:"currency"`
	SettlementStatus     SettlementStatus `gorm:"type:varchar(20);not null;index" json:"settlementStatus"`
	SettlementEligibleAt *time.Time       `json:"settlementEligibleAt,omitempty"`
	IsRTO                bool             `gorm:"default:false" json:"isRto"`
	CancelReason         string           `gorm:"type:text" json:"cancelReason,omitempty"`
	PaidAt               *time.Time       `json:"paidAt,omitempty"`
	DeliveredAt          *time.Time       `json:"deliveredAt,omitempty"`
	CancelledAt          *time.Time       `json:"cancelledAt,omitempty"`
	CreatedAt            time.Time        `gorm:"index" json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// BeforeCreate assigns an id and initial statuses
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	ensureID(&o.ID)
	if o.Status == "" {
		o.Status = OrderStatusCreated
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentStatusPending
	}
	if o.SettlementStatus == "" {
		o.SettlementStatus = SettlementStatusNone
	}
	return nil
}

// SellerIDs returns the distinct sellers whose items appear in the order
func (o *Order) SellerIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	var ids []uuid.UUID
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// OrderItem is a line of an order, owned by one seller
type OrderItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"orderId"`
	ProductID  uuid.UUID       `gorm:"type:uuid;not null" json:"productId"`
	SellerID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"sellerId"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// OrderStatusHistory records every status transition
type OrderStatusHistory struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"orderId"`
	FromStatus OrderStatus `gorm:"type:varchar(30)" json:"fromStatus"`
	ToStatus   OrderStatus `gorm:"type:varchar(30);not null" json:"toStatus"`
	Actor      string      `gorm:"type:varchar(255)" json:"actor"`
	Source     string      `gorm:"type:varchar(100)" json:"source"`
	Reason     string      `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (h *OrderStatusHistory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&h.ID)
	return nil
}

// TableName specifies the table name for OrderStatusHistory
func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}

// DomainEvent is an outbox row written in the same transaction as the state change
type DomainEvent struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateType string     `gorm:"type:varchar(50);not null" json:"aggregateType"`
	AggregateID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"aggregateId"`
	EventType     string     `gorm:"type:varchar(100);not null" json:"eventType"`
	Payload       JSONB      `gorm:"type:jsonb" json:"payload"`
	PublishedAt   *time.Time `gorm:"index" json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (e *DomainEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
