package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SystemStateID is the primary key of the singleton system state row
const SystemStateID = 1

// SystemState is the platform-wide finance circuit breaker
type SystemState struct {
	ID                       uint            `gorm:"primaryKey" json:"id"`
	FinanceFrozen            bool            `gorm:"not null;default:false" json:"financeFrozen"`
	PayoutsFrozen            bool            `gorm:"not null;default:false" json:"payoutsFrozen"`
	FreezeReason             string          `gorm:"type:text" json:"freezeReason,omitempty"`
	FrozenAt                 *time.Time      `json:"frozenAt,omitempty"`
	LastReconciliationAt     *time.Time      `json:"lastReconciliationAt,omitempty"`
	LastSafeRecoveryAt       *time.Time      `json:"lastSafeRecoveryAt,omitempty"`
	MismatchCountLastRun     int             `gorm:"not null;default:0" json:"mismatchCountLastRun"`
	LastMismatchAmount       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"lastMismatchAmount"`
	FailedReconciliationRuns int             `gorm:"not null;default:0" json:"failedReconciliationRuns"`
	UpdatedAt                time.Time       `json:"updatedAt"`
}

// TableName specifies the table name for SystemState
func (SystemState) TableName() string {
	return "system_state"
}

// AlertSeverity ranks finance alerts
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Finance alert types
const (
	AlertTypeMismatch            = "mismatch"
	AlertTypeLedgerInconsistency = "ledger_inconsistency"
	AlertTypeAmountMismatch      = "amount_mismatch"
	AlertTypeRefundFailed        = "refund_failed"
	AlertTypeChargeback          = "chargeback"
	AlertTypePayoutFailed        = "payout_failed"
)

// FinanceAlert is an operator-facing finance anomaly; critical ones block safe-recovery
type FinanceAlert struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string        `gorm:"type:varchar(50);not null;index" json:"type"`
	Severity   AlertSeverity `gorm:"type:varchar(20);not null;index" json:"severity"`
	SellerID   *uuid.UUID    `gorm:"type:uuid;index" json:"sellerId,omitempty"`
	OrderID    *uuid.UUID    `gorm:"type:uuid" json:"orderId,omitempty"`
	Message    string        `gorm:"type:text" json:"message"`
	Metadata   JSONB         `gorm:"type:jsonb" json:"metadata,omitempty"`
	Resolved   bool          `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedBy string        `gorm:"type:varchar(255)" json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

func (a *FinanceAlert) BeforeCreate(tx *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// JobFailure is the persisted dead-letter record of a task that exhausted its retries
type JobFailure struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID    string    `gorm:"type:varchar(255);index" json:"taskId"`
	TaskType  string    `gorm:"type:varchar(100);not null;index" json:"taskType"`
	Queue     string    `gorm:"type:varchar(50);not null" json:"queue"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Error     string    `gorm:"type:text" json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (f *JobFailure) BeforeCreate(tx *gorm.DB) error {
	ensureID(&f.ID)
	return nil
}
