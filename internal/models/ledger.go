package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntryType classifies seller ledger movements
type LedgerEntryType string

const (
	LedgerEntryCredit     LedgerEntryType = "CREDIT"
	LedgerEntryRefund     LedgerEntryType = "REFUND"
	LedgerEntryChargeback LedgerEntryType = "CHARGEBACK"
)

// Ledger entry reasons
const (
	LedgerReasonOrderSettlement   = "order_settlement"
	LedgerReasonStockFailure      = "payment_stock_failed"
	LedgerReasonOrderCancelled    = "order_cancelled"
	LedgerReasonPaymentChargeback = "payment_dispute"
)

// LedgerEntry is one seller money movement; unique per (seller, order, type, reason)
type LedgerEntry struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_entry_unique" json:"sellerId"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_entry_unique" json:"orderId"`
	Type      LedgerEntryType `gorm:"type:varchar(20);not null;uniqueIndex:idx_ledger_entry_unique" json:"type"`
	Reason    string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_ledger_entry_unique" json:"reason"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"index" json:"createdAt"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// PlatformCommission is the marketplace's cut of a settled order
type PlatformCommission struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"orderId"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Rate      decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"rate"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (c *PlatformCommission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// PayoutStatus is the state of a seller payout
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "PENDING"
	PayoutStatusCompleted PayoutStatus = "COMPLETED"
	PayoutStatusFailed    PayoutStatus = "FAILED"
)

// Payout moves a seller's pending balance out of the platform
type Payout struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"sellerId"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status            PayoutStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	ProviderReference string          `gorm:"type:varchar(255)" json:"providerReference,omitempty"`
	FailureReason     string          `gorm:"type:text" json:"failureReason,omitempty"`
	FailureResolved   bool            `gorm:"not null;default:false" json:"failureResolved"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	if p.Status == "" {
		p.Status = PayoutStatusPending
	}
	return nil
}
