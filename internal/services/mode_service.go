package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// DeactivatedSellerIsolated is stamped on listings hidden by an isolation cascade
const DeactivatedSellerIsolated = "seller_isolated"

// OperationalSignals is everything the operational mode is derived from
type OperationalSignals struct {
	FinancialMode      models.FinancialMode
	RiskFlag           bool
	PayoutHold         bool
	OpenPayoutFailures int64
	QualityScore       float64
	DispatchDelayRate  float64
	RefundRate30d      float64
	RiskScore          float64
}

// ComputeOperationalMode maps a signal bundle to the most severe applicable mode
func ComputeOperationalMode(sig OperationalSignals, cfg config.RiskConfig) models.OperationalMode {
	switch {
	case sig.FinancialMode == models.FinancialModeIsolated || sig.RiskFlag:
		return models.OperationalModeIsolated
	case sig.PayoutHold || sig.OpenPayoutFailures > 0:
		return models.OperationalModeFinancialRisk
	case sig.QualityScore < cfg.QualityFloor:
		return models.OperationalModeQualityIssue
	case sig.DispatchDelayRate > cfg.StabilityRateLimit || sig.RefundRate30d > cfg.StabilityRateLimit:
		return models.OperationalModeStabilityLimited
	case sig.RiskScore >= cfg.WatchScore:
		return models.OperationalModeWatch
	default:
		return models.OperationalModeNormal
	}
}

// VisibilityMultiplier is the search-ranking weight a shop gets in each mode
func VisibilityMultiplier(mode models.OperationalMode) float64 {
	switch mode {
	case models.OperationalModeIsolated:
		return 0
	case models.OperationalModeQualityIssue:
		return 0.5
	case models.OperationalModeStabilityLimited:
		return 0.8
	default:
		return 1
	}
}

// ModeEvaluation is the outcome of evaluating one seller
type ModeEvaluation struct {
	SellerID uuid.UUID              `json:"sellerId"`
	Previous models.OperationalMode `json:"previous"`
	Computed models.OperationalMode `json:"computed"`
	Applied  models.OperationalMode `json:"applied"`
	Changed  bool                   `json:"changed"`
}

// ModeService maintains seller operational modes and answers admission questions
type ModeService struct {
	store   *repository.Store
	quality QualityProvider
	riskCfg config.RiskConfig
	finCfg  config.FinanceConfig
	orders  config.OrdersConfig
	logger  *logrus.Entry
	now     func() time.Time
}

// NewModeService creates a new mode service
func NewModeService(store *repository.Store, quality QualityProvider, cfg *config.Config, logger *logrus.Logger) *ModeService {
	return &ModeService{
		store:   store,
		quality: quality,
		riskCfg: cfg.Risk,
		finCfg:  cfg.Finance,
		orders:  cfg.Orders,
		logger:  logger.WithField("component", "mode_service"),
		now:     utcNow,
	}
}

// collectSignals reads the operational signal bundle of a seller
func (s *ModeService) collectSignals(ctx context.Context, sellerID uuid.UUID) (*OperationalSignals, error) {
	now := s.now()
	since := now.AddDate(0, 0, -30)

	balance, err := s.store.Sellers.GetBalance(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	failures, err := s.store.Signals.CountOpenPayoutFailures(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	quality := 100.0
	if s.quality != nil {
		score, err := s.quality.QualityScore(ctx, sellerID)
		if err != nil {
			s.logger.WithError(err).WithField("seller_id", sellerID).Warn("Quality score unavailable, treating as neutral")
		} else {
			quality = score
		}
	}

	timings, err := s.store.Signals.ListDispatchTimings(ctx, sellerID, since)
	if err != nil {
		return nil, err
	}
	delayed := 0
	for _, timing := range timings {
		if timing.PaidAt == nil {
			continue
		}
		handover := now
		if timing.ShippedAt != nil {
			handover = *timing.ShippedAt
		}
		if handover.Sub(*timing.PaidAt) > s.orders.DispatchSLA {
			delayed++
		}
	}

	paid, err := s.store.Signals.CountPaidOrders(ctx, sellerID, since, now)
	if err != nil {
		return nil, err
	}
	refunds, err := s.store.Signals.CountRefunds(ctx, sellerID, since)
	if err != nil {
		return nil, err
	}

	return &OperationalSignals{
		FinancialMode:      balance.FinancialMode,
		RiskFlag:           balance.RiskFlag,
		PayoutHold:         balance.PayoutHold,
		OpenPayoutFailures: failures,
		QualityScore:       quality,
		DispatchDelayRate:  ratio(int64(delayed), int64(len(timings))),
		RefundRate30d:      ratio(refunds, paid),
		RiskScore:          balance.RiskScore,
	}, nil
}

// EvaluateSeller recomputes a seller's operational mode and persists it when it
// changed. Relaxing to a less severe mode waits out the cooldown.
func (s *ModeService) EvaluateSeller(ctx context.Context, sellerID uuid.UUID) (*ModeEvaluation, error) {
	if _, err := s.store.Sellers.GetSeller(ctx, sellerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}

	signals, err := s.collectSignals(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect signals for seller %s: %w", sellerID, err)
	}
	computed := ComputeOperationalMode(*signals, s.riskCfg)

	eval := &ModeEvaluation{SellerID: sellerID, Computed: computed}
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		balance, err := tx.Sellers.LockBalance(ctx, sellerID)
		if err != nil {
			return err
		}
		eval.Previous = balance.OperationalMode
		eval.Applied = balance.OperationalMode

		if computed == balance.OperationalMode {
			return nil
		}
		now := s.now()
		relaxing := computed.Severity() < balance.OperationalMode.Severity()
		if relaxing && balance.OperationalCooldownUntil != nil && now.Before(*balance.OperationalCooldownUntil) {
			return nil
		}

		balance.OperationalMode = computed
		balance.OperationalModeChangedAt = &now
		if !relaxing {
			until := now.Add(time.Duration(s.riskCfg.CooldownHours) * time.Hour)
			balance.OperationalCooldownUntil = &until
		}
		if err := tx.Sellers.SaveBalance(ctx, balance); err != nil {
			return err
		}
		eval.Applied = computed
		eval.Changed = true

		if err := tx.Sellers.SetShopVisibility(ctx, sellerID, VisibilityMultiplier(computed)); err != nil {
			return fmt.Errorf("failed to update shop visibility: %w", err)
		}
		if computed == models.OperationalModeIsolated {
			hidden, err := tx.Inventory.DeactivateSellerProducts(ctx, sellerID, DeactivatedSellerIsolated)
			if err != nil {
				return fmt.Errorf("failed to deactivate seller products: %w", err)
			}
			s.logger.WithFields(logrus.Fields{"seller_id": sellerID, "products": hidden}).Warn("Seller isolated, listings deactivated")
		}

		return tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSellerOperationalMode, models.ResourceSeller).
			WithResource(sellerID.String()).
			WithChanges(
				models.JSONB{"mode": string(eval.Previous)},
				models.JSONB{"mode": string(computed)},
			).
			WithMetadata(models.JSONB{
				"qualityScore":      signals.QualityScore,
				"dispatchDelayRate": signals.DispatchDelayRate,
				"refundRate30d":     signals.RefundRate30d,
				"riskScore":         signals.RiskScore,
			}).
			Build())
	})
	if err != nil {
		return nil, err
	}

	if eval.Changed {
		metrics.SellerModeChanges.WithLabelValues("operational", string(eval.Applied)).Inc()
		s.logger.WithFields(logrus.Fields{
			"seller_id": sellerID,
			"from":      eval.Previous,
			"to":        eval.Applied,
		}).Info("Seller operational mode changed")
	}
	return eval, nil
}

// EvaluateAll re-evaluates every seller; individual failures are logged
func (s *ModeService) EvaluateAll(ctx context.Context) (int, error) {
	ids, err := s.store.Sellers.ListSellerIDs(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		eval, err := s.EvaluateSeller(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("seller_id", id).Error("Failed to evaluate seller mode")
			continue
		}
		if eval.Changed {
			changed++
		}
	}
	return changed, nil
}

// EnsureOrderAllowedForSeller decides whether a seller may take an order of the given
// total. It only reads, so it is safe inside an order transaction.
func (s *ModeService) EnsureOrderAllowedForSeller(ctx context.Context, sellerID uuid.UUID, orderTotal decimal.Decimal) error {
	return s.ensureOrderAllowed(ctx, s.store, sellerID, orderTotal)
}

// financial mode first, then operational mode
func (s *ModeService) ensureOrderAllowed(ctx context.Context, st *repository.Store, sellerID uuid.UUID, orderTotal decimal.Decimal) error {
	balance, err := st.Sellers.GetBalance(ctx, sellerID)
	if err != nil {
		return err
	}

	switch balance.FinancialMode {
	case models.FinancialModeBlocked:
		return ErrSellerBlocked
	case models.FinancialModeIsolated:
		return ErrSellerIsolated
	}

	switch balance.OperationalMode {
	case models.OperationalModeIsolated:
		return ErrSellerIsolated
	case models.OperationalModeStabilityLimited:
		now := s.now()
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		today, err := st.Signals.CountOrdersCreatedSince(ctx, sellerID, startOfDay)
		if err != nil {
			return err
		}
		if today >= int64(s.riskCfg.StabilityDailyCap) {
			return ErrSellerDailyCapReached
		}
	case models.OperationalModeFinancialRisk:
		if orderTotal.GreaterThanOrEqual(s.finCfg.HighValueOrderThreshold) {
			return ErrHighValueOrderBlocked
		}
	}
	return nil
}

// EnsurePublishingAllowedForSeller rejects listing changes from isolated sellers.
// A BLOCKED seller may still publish; only order admission refuses them.
func (s *ModeService) EnsurePublishingAllowedForSeller(ctx context.Context, sellerID uuid.UUID) error {
	balance, err := s.store.Sellers.GetBalance(ctx, sellerID)
	if err != nil {
		return err
	}
	if balance.OperationalMode == models.OperationalModeIsolated || balance.FinancialMode == models.FinancialModeIsolated {
		return ErrSellerIsolated
	}
	return nil
}

// PublishProduct re-activates a listing once the seller may publish again
func (s *ModeService) PublishProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.store.Inventory.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProductUnavailable
		}
		return nil, err
	}
	if err := s.EnsurePublishingAllowedForSeller(ctx, product.SellerID); err != nil {
		return nil, err
	}
	if product.IsActive {
		return product, nil
	}
	product.IsActive = true
	product.DeactivatedReason = ""
	if err := s.store.Inventory.SaveProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
