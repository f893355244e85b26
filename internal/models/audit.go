package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActorType represents the type of actor performing an action
type ActorType string

const (
	ActorAdmin   ActorType = "ADMIN"
	ActorSystem  ActorType = "SYSTEM"
	ActorWebhook ActorType = "WEBHOOK"
)

// AuditAction represents audited finance actions
type AuditAction string

const (
	ActionSellerRiskScoreUpdated     AuditAction = "SELLER_RISK_SCORE_UPDATED"
	ActionSellerFinancialModeUpdated AuditAction = "SELLER_FINANCIAL_MODE_UPDATED"
	ActionSellerOperationalMode      AuditAction = "SELLER_OPERATIONAL_MODE_UPDATED"
	ActionSellerRiskRevalidated      AuditAction = "SELLER_RISK_REVALIDATED"
	ActionSellerRevalidationBlocked  AuditAction = "seller_revalidation_blocked"
	ActionReconciliationMismatch     AuditAction = "reconciliation_mismatch"
	ActionSafeRecoveryExecuted       AuditAction = "SAFE_RECOVERY_EXECUTED"
	ActionSafeRecoveryFailed         AuditAction = "safe_recovery_failed"
	ActionFinanceFreezeToggled       AuditAction = "FINANCE_FREEZE_TOGGLED"
	ActionJobsToggled                AuditAction = "JOBS_TOGGLED"
	ActionAlertResolved              AuditAction = "FINANCE_ALERT_RESOLVED"
)

// ResourceType represents the type of resource being audited
type ResourceType string

const (
	ResourceSeller   ResourceType = "SELLER"
	ResourceSystem   ResourceType = "SYSTEM"
	ResourceOrder    ResourceType = "ORDER"
	ResourceAlert    ResourceType = "ALERT"
	ResourcePlatform ResourceType = "PLATFORM"
)

// AuditLog represents an audit trail entry for finance operations
type AuditLog struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ActorType    ActorType    `gorm:"type:varchar(20);not null" json:"actorType"`
	ActorID      string       `gorm:"type:varchar(255);not null;index" json:"actorId"`
	Action       AuditAction  `gorm:"type:varchar(100);not null;index" json:"action"`
	ResourceType ResourceType `gorm:"type:varchar(50);not null" json:"resourceType"`
	ResourceID   *string      `gorm:"type:varchar(255);index" json:"resourceId,omitempty"`
	OldValue     JSONB        `gorm:"type:jsonb" json:"oldValue,omitempty"`
	NewValue     JSONB        `gorm:"type:jsonb" json:"newValue,omitempty"`
	Metadata     JSONB        `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time    `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "finance_audit_logs"
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// AuditLogBuilder helps construct audit log entries
type AuditLogBuilder struct {
	log *AuditLog
}

// NewAuditLog creates a new audit log builder attributed to the system
func NewAuditLog(action AuditAction, resourceType ResourceType) *AuditLogBuilder {
	return &AuditLogBuilder{
		log: &AuditLog{
			ActorType:    ActorSystem,
			ActorID:      "system",
			Action:       action,
			ResourceType: resourceType,
		},
	}
}

// WithActor sets the actor
func (b *AuditLogBuilder) WithActor(actorType ActorType, actorID string) *AuditLogBuilder {
	b.log.ActorType = actorType
	if actorID != "" {
		b.log.ActorID = actorID
	}
	return b
}

// WithResource sets the audited resource id
func (b *AuditLogBuilder) WithResource(resourceID string) *AuditLogBuilder {
	b.log.ResourceID = &resourceID
	return b
}

// WithChanges records the before/after values
func (b *AuditLogBuilder) WithChanges(oldValue, newValue JSONB) *AuditLogBuilder {
	b.log.OldValue = oldValue
	b.log.NewValue = newValue
	return b
}

// WithMetadata attaches free-form context
func (b *AuditLogBuilder) WithMetadata(metadata JSONB) *AuditLogBuilder {
	b.log.Metadata = metadata
	return b
}

// Build returns the audit log
func (b *AuditLogBuilder) Build() *AuditLog {
	return b.log
}
