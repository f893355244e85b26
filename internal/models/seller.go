package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinancialMode is the risk-driven money-movement posture of a seller
type FinancialMode string

const (
	FinancialModeNormal    FinancialMode = "NORMAL"
	FinancialModeMonitored FinancialMode = "MONITORED"
	FinancialModeIsolated  FinancialMode = "ISOLATED"
	FinancialModeBlocked   FinancialMode = "BLOCKED"
)

// Severity orders financial modes from least to most restrictive
func (m FinancialMode) Severity() int {
	switch m {
	case FinancialModeMonitored:
		return 1
	case FinancialModeIsolated:
		return 2
	case FinancialModeBlocked:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether the mode is a known financial mode
func (m FinancialMode) IsValid() bool {
	switch m {
	case FinancialModeNormal, FinancialModeMonitored, FinancialModeIsolated, FinancialModeBlocked:
		return true
	}
	return false
}

// OperationalMode is the marketplace-facing posture of a seller
type OperationalMode string

const (
	OperationalModeNormal           OperationalMode = "NORMAL"
	OperationalModeWatch            OperationalMode = "WATCH"
	OperationalModeStabilityLimited OperationalMode = "STABILITY_LIMITED"
	OperationalModeQualityIssue     OperationalMode = "QUALITY_ISSUE"
	OperationalModeFinancialRisk    OperationalMode = "FINANCIAL_RISK"
	OperationalModeIsolated         OperationalMode = "ISOLATED"
)

// Severity orders operational modes from least to most restrictive
func (m OperationalMode) Severity() int {
	switch m {
	case OperationalModeWatch:
		return 1
	case OperationalModeStabilityLimited:
		return 2
	case OperationalModeQualityIssue:
		return 3
	case OperationalModeFinancialRisk:
		return 4
	case OperationalModeIsolated:
		return 5
	default:
		return 0
	}
}

// RiskTrend describes the direction of a seller's score between passes
type RiskTrend string

const (
	RiskTrendWorsening RiskTrend = "worsening"
	RiskTrendImproving RiskTrend = "improving"
	RiskTrendStable    RiskTrend = "stable"
)

// Seller is a merchant account on the marketplace
type Seller struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Seller) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Shop is a seller storefront; its visibility multiplier scales search ranking
type Shop struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID             uuid.UUID `gorm:"type:uuid;not null;index" json:"sellerId"`
	Name                 string    `gorm:"type:varchar(255);not null" json:"name"`
	VisibilityMultiplier float64   `gorm:"not null;default:1" json:"visibilityMultiplier"`
	IsActive             bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (s *Shop) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Product is a seller listing with on-hand stock
type Product struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"sellerId"`
	ShopID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"shopId"`
	Name              string          `gorm:"type:varchar(255);not null" json:"name"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Stock             int             `gorm:"not null" json:"stock"`
	IsActive          bool            `gorm:"not null;default:true" json:"isActive"`
	DeactivatedReason string          `gorm:"type:varchar(100)" json:"deactivatedReason,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// SellerBalance holds a seller's money position and both mode state machines
type SellerBalance struct {
	SellerID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"sellerId"`
	PendingAmount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"pendingAmount"`
	ReserveAmount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"reserveAmount"`
	RiskFlag                 bool            `gorm:"not null;default:false;index" json:"riskFlag"`
	RiskBlockReason          string          `gorm:"type:varchar(50)" json:"riskBlockReason,omitempty"`
	RiskScore                float64         `gorm:"not null;default:0" json:"riskScore"`
	FinancialMode            FinancialMode   `gorm:"column:seller_financial_mode;type:varchar(20);not null" json:"financialMode"`
	OperationalMode          OperationalMode `gorm:"column:seller_operational_mode;type:varchar(30);not null" json:"operationalMode"`
	PayoutHold               bool            `gorm:"not null;default:false" json:"payoutHold"`
	RiskBelowThresholdSince  *time.Time      `json:"riskBelowThresholdSince,omitempty"`
	OperationalModeChangedAt *time.Time      `json:"operationalModeChangedAt,omitempty"`
	OperationalCooldownUntil *time.Time      `json:"operationalCooldownUntil,omitempty"`
	CreatedAt                time.Time       `json:"createdAt"`
	UpdatedAt                time.Time       `json:"updatedAt"`
}

func (b *SellerBalance) BeforeCreate(tx *gorm.DB) error {
	if b.FinancialMode == "" {
		b.FinancialMode = FinancialModeNormal
	}
	if b.OperationalMode == "" {
		b.OperationalMode = OperationalModeNormal
	}
	return nil
}

// NewSellerBalance returns a zeroed balance in the NORMAL modes
func NewSellerBalance(sellerID uuid.UUID) *SellerBalance {
	return &SellerBalance{
		SellerID:        sellerID,
		PendingAmount:   decimal.Zero,
		ReserveAmount:   decimal.Zero,
		FinancialMode:   FinancialModeNormal,
		OperationalMode: OperationalModeNormal,
	}
}

// SellerRiskMetrics is the per-seller output of the latest scoring pass
type SellerRiskMetrics struct {
	SellerID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"sellerId"`
	ChargebackRate7d    float64        `json:"chargebackRate7d"`
	ChargebackRate30d   float64        `json:"chargebackRate30d"`
	RefundRatio         float64        `json:"refundRatio"`
	RTORate             float64        `gorm:"column:rto_rate" json:"rtoRate"`
	GrowthSpike         float64        `json:"growthSpike"`
	FailedDeliveryRate  float64        `json:"failedDeliveryRate"`
	PayoutExposure      float64        `json:"payoutExposure"`
	ComplaintRate       float64        `json:"complaintRate"`
	FraudFlagCount      int            `json:"fraudFlagCount"`
	FraudFlags          pq.StringArray `gorm:"type:text" json:"fraudFlags,omitempty"`
	DeliverySuccessRate float64        `json:"deliverySuccessRate"`
	AccountAgeDays      int            `json:"accountAgeDays"`
	RiskScore           float64        `json:"riskScore"`
	RiskLevel           FinancialMode  `gorm:"type:varchar(20)" json:"riskLevel"`
	RiskTrend           RiskTrend      `gorm:"type:varchar(20)" json:"riskTrend"`
	LastMode            FinancialMode  `gorm:"type:varchar(20)" json:"lastMode"`
	LastModeChangeAt    *time.Time     `json:"lastModeChangeAt,omitempty"`
	CooldownUntil       *time.Time     `json:"cooldownUntil,omitempty"`
	ComputedAt          time.Time      `json:"computedAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// TableName specifies the table name for SellerRiskMetrics
func (SellerRiskMetrics) TableName() string {
	return "seller_risk_metrics"
}

// SellerComplaint is a customer complaint attributed to a seller
type SellerComplaint struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"sellerId"`
	OrderID   *uuid.UUID `gorm:"type:uuid" json:"orderId,omitempty"`
	Category  string     `gorm:"type:varchar(50)" json:"category"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
}

func (c *SellerComplaint) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
