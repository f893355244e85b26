package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentIntentStatus is the provider-side state of a payment attempt
type PaymentIntentStatus string

const (
	PaymentIntentCreated    PaymentIntentStatus = "created"
	PaymentIntentAuthorized PaymentIntentStatus = "authorized"
	PaymentIntentCaptured   PaymentIntentStatus = "captured"
	PaymentIntentFailed     PaymentIntentStatus = "failed"
)

// PaymentIntent tracks one provider order for an order
type PaymentIntent struct {
	ID                  uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID             uuid.UUID           `gorm:"type:uuid;not null;index" json:"orderId"`
	Provider            string              `gorm:"type:varchar(30);not null" json:"provider"`
	ProviderOrderID     string              `gorm:"type:varchar(255);not null;uniqueIndex" json:"providerOrderId"`
	ProviderPaymentID   string              `gorm:"type:varchar(255);index" json:"providerPaymentId,omitempty"`
	Status              PaymentIntentStatus `gorm:"type:varchar(20);not null" json:"status"`
	Amount              decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency            string              `gorm:"type:varchar(3);not null" json:"currency"`
	IdempotencyKey      string              `gorm:"type:varchar(255);not null;uniqueIndex" json:"idempotencyKey"`
	CapturedAmountMinor int64               `json:"capturedAmountMinor,omitempty"`
	AmountMismatch      bool                `gorm:"default:false" json:"amountMismatch"`
	FailureReason       string              `gorm:"type:text" json:"failureReason,omitempty"`
	CapturedAt          *time.Time          `json:"capturedAt,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

func (p *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProcessedWebhookEvent is the dedup ledger for provider webhooks
type ProcessedWebhookEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_webhook_provider_event" json:"provider"`
	EventID     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_provider_event" json:"eventId"`
	EventType   string    `gorm:"type:varchar(100)" json:"eventType"`
	Outcome     string    `gorm:"type:varchar(30)" json:"outcome"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (e *ProcessedWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	return nil
}

// RefundStatus represents the gateway outcome of a refund
type RefundStatus string

const (
	RefundStatusInitiated  RefundStatus = "INITIATED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// OrderRefund is the single active refund record for an order
type OrderRefund struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"orderId"`
	ProviderPaymentID string          `gorm:"type:varchar(255)" json:"providerPaymentId"`
	ProviderRefundID  string          `gorm:"type:varchar(255);index" json:"providerRefundId,omitempty"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status            RefundStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	Reason            string          `gorm:"type:varchar(100)" json:"reason"`
	FailureReason     string          `gorm:"type:text" json:"failureReason,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (r *OrderRefund) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// IsActive reports whether a refund is still in flight or done
func (r *OrderRefund) IsActive() bool {
	return r.Status != RefundStatusFailed
}
