package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// Reasons a risk-flagged seller could not be cleared
const (
	RevalidationLedgerMismatch        = "ledger_mismatch"
	RevalidationAlertsPending         = "alerts_pending"
	RevalidationNegativeBalance       = "negative_balance"
	RevalidationReconciliationMissing = "reconciliation_missing"
)

var ledgerTolerance = decimal.New(1, -2)

// MismatchBreakdown is the platform money equation at one point in time.
// Chargebacks and Pending are reported for operators and do not enter Mismatch.
type MismatchBreakdown struct {
	Captured    decimal.Decimal `json:"captured"`
	Refunds     decimal.Decimal `json:"refunds"`
	Payouts     decimal.Decimal `json:"payouts"`
	Commission  decimal.Decimal `json:"commission"`
	Mismatch    decimal.Decimal `json:"mismatch"`
	Chargebacks decimal.Decimal `json:"chargebacks"`
	Pending     decimal.Decimal `json:"pendingSellerBalances"`
}

// ReconciliationResult is the outcome of one reconciliation pass
type ReconciliationResult struct {
	MismatchBreakdown
	OverThreshold bool `json:"overThreshold"`
	Frozen        bool `json:"frozen"`
}

// SafeRecoveryResult is the outcome of one safe-recovery pass
type SafeRecoveryResult struct {
	Recovered          bool            `json:"recovered"`
	Skipped            bool            `json:"skipped"`
	Mismatch           decimal.Decimal `json:"mismatch"`
	CriticalAlerts     int64           `json:"criticalAlerts"`
	NegativeBalances   int64           `json:"negativeBalances"`
	ClearedSellers     int64           `json:"clearedSellers"`
	ResolvedAlerts     int64           `json:"resolvedAlerts"`
	BlockingConditions []string        `json:"blockingConditions,omitempty"`
}

// RevalidationResult summarises a seller revalidation pass
type RevalidationResult struct {
	Checked int               `json:"checked"`
	Cleared int               `json:"cleared"`
	Blocked map[string]string `json:"blocked,omitempty"`
}

// ReconciliationService keeps the platform money equation balanced and owns the
// finance circuit breaker
type ReconciliationService struct {
	store      *repository.Store
	alerts     *AlertService
	jobs       JobEnqueuer
	runtime    *config.RuntimeSettings
	stateCache StateCache
	finCfg     config.FinanceConfig
	settle     config.SettlementConfig
	logger     *logrus.Entry
	now        func() time.Time
}

// NewReconciliationService creates a new reconciliation service. stateCache may be nil.
func NewReconciliationService(store *repository.Store, alerts *AlertService, jobs JobEnqueuer, runtime *config.RuntimeSettings, stateCache StateCache, cfg *config.Config, logger *logrus.Logger) *ReconciliationService {
	return &ReconciliationService{
		store:      store,
		alerts:     alerts,
		jobs:       jobs,
		runtime:    runtime,
		stateCache: stateCache,
		finCfg:     cfg.Finance,
		settle:     cfg.Settlement,
		logger:     logger.WithField("component", "reconciliation_service"),
		now:        utcNow,
	}
}

// forgetState drops cached platform state after SystemState was written
func (s *ReconciliationService) forgetState(ctx context.Context, patterns ...string) {
	if s.stateCache == nil {
		return
	}
	s.stateCache.Forget(ctx, append([]string{cache.SystemPattern}, patterns...)...)
}

// ComputeMismatch derives captured − refunds − payouts − commission
func (s *ReconciliationService) ComputeMismatch(ctx context.Context) (*MismatchBreakdown, error) {
	captured, err := s.store.Payments.SumCapturedPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum captured payments: %w", err)
	}
	refunds, err := s.store.Payments.SumCompletedRefunds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum refunds: %w", err)
	}
	payouts, err := s.store.Ledger.SumCompletedPayouts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payouts: %w", err)
	}
	commission, err := s.store.Ledger.SumCommission(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commission: %w", err)
	}
	chargebacks, err := s.store.Ledger.SumEntries(ctx, models.LedgerEntryChargeback)
	if err != nil {
		return nil, fmt.Errorf("failed to sum chargebacks: %w", err)
	}
	pending, err := s.store.Sellers.SumPendingBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum seller balances: %w", err)
	}

	mismatch := captured.Sub(refunds).Sub(payouts).Sub(commission)
	return &MismatchBreakdown{
		Captured:    captured,
		Refunds:     refunds,
		Payouts:     payouts,
		Commission:  commission,
		Mismatch:    models.RoundMoney(mismatch),
		Chargebacks: chargebacks,
		Pending:     pending,
	}, nil
}

func (s *ReconciliationService) overThreshold(mismatch decimal.Decimal) bool {
	return mismatch.Abs().GreaterThan(s.finCfg.MismatchThreshold)
}

// Reconcile runs one reconciliation pass. A mismatch beyond the threshold raises a
// critical alert, which freezes money movement platform-wide.
func (s *ReconciliationService) Reconcile(ctx context.Context) (*ReconciliationResult, error) {
	breakdown, err := s.ComputeMismatch(ctx)
	if err != nil {
		return nil, err
	}
	result := &ReconciliationResult{MismatchBreakdown: *breakdown, OverThreshold: s.overThreshold(breakdown.Mismatch)}

	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		state, err := tx.System.Lock(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		state.LastReconciliationAt = &now
		state.LastMismatchAmount = breakdown.Mismatch
		state.MismatchCountLastRun = 0
		if result.OverThreshold {
			state.MismatchCountLastRun = 1
			state.FailedReconciliationRuns++
		}
		if err := tx.System.Save(ctx, state); err != nil {
			return err
		}
		result.Frozen = state.FinanceFrozen
		if !result.OverThreshold {
			return nil
		}

		details := models.JSONB{
			"captured":    breakdown.Captured.StringFixed(2),
			"refunds":     breakdown.Refunds.StringFixed(2),
			"chargebacks": breakdown.Chargebacks.StringFixed(2),
			"payouts":     breakdown.Payouts.StringFixed(2),
			"pending":     breakdown.Pending.StringFixed(2),
			"commission":  breakdown.Commission.StringFixed(2),
			"mismatch":    breakdown.Mismatch.StringFixed(2),
			"threshold":   s.finCfg.MismatchThreshold.StringFixed(2),
		}
		if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionReconciliationMismatch, models.ResourcePlatform).
			WithMetadata(details).
			Build()); err != nil {
			return err
		}
		if err := s.alerts.RaiseTx(ctx, tx, &models.FinanceAlert{
			Type:     models.AlertTypeMismatch,
			Severity: models.AlertSeverityCritical,
			Message:  fmt.Sprintf("platform ledger mismatch of %s exceeds threshold %s", breakdown.Mismatch.StringFixed(2), s.finCfg.MismatchThreshold.StringFixed(2)),
			Metadata: details,
		}); err != nil {
			return err
		}
		result.Frozen = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.forgetState(ctx)

	mismatch, _ := breakdown.Mismatch.Float64()
	metrics.ReconciliationMismatch.Set(mismatch)
	entry := s.logger.WithFields(logrus.Fields{"mismatch": breakdown.Mismatch.StringFixed(2), "frozen": result.Frozen})
	if result.OverThreshold {
		entry.Error("Reconciliation mismatch beyond threshold")
	} else {
		entry.Info("Reconciliation pass finished")
	}
	return result, nil
}

// SafeRecover unfreezes the platform once the books balance again. Every condition
// is re-derived; recovery is all or nothing.
func (s *ReconciliationService) SafeRecover(ctx context.Context) (*SafeRecoveryResult, error) {
	state, err := s.store.System.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !state.FinanceFrozen && !state.PayoutsFrozen {
		return &SafeRecoveryResult{Skipped: true, Mismatch: state.LastMismatchAmount}, nil
	}

	breakdown, err := s.ComputeMismatch(ctx)
	if err != nil {
		return nil, err
	}
	// Mismatch alerts are excluded here; recovery itself resolves them.
	critical, err := s.store.Alerts.CountUnresolvedCritical(ctx, models.AlertTypeMismatch)
	if err != nil {
		return nil, err
	}
	negative, err := s.store.Sellers.CountNegativeBalances(ctx)
	if err != nil {
		return nil, err
	}

	result := &SafeRecoveryResult{
		Mismatch:         breakdown.Mismatch,
		CriticalAlerts:   critical,
		NegativeBalances: negative,
	}
	if s.overThreshold(breakdown.Mismatch) {
		result.BlockingConditions = append(result.BlockingConditions, "mismatch_over_threshold")
	}
	if critical > 0 {
		result.BlockingConditions = append(result.BlockingConditions, "critical_alerts_open")
	}
	if negative > 0 {
		result.BlockingConditions = append(result.BlockingConditions, "negative_seller_balances")
	}

	if len(result.BlockingConditions) > 0 {
		err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
			details := models.JSONB{
				"mismatch":         breakdown.Mismatch.StringFixed(2),
				"criticalAlerts":   critical,
				"negativeBalances": negative,
				"blocking":         result.BlockingConditions,
			}
			if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSafeRecoveryFailed, models.ResourcePlatform).
				WithActor(models.ActorSystem, ActorSafeRecovery).
				WithMetadata(details).
				Build()); err != nil {
				return err
			}
			return s.alerts.RaiseTx(ctx, tx, &models.FinanceAlert{
				Type:     models.AlertTypeLedgerInconsistency,
				Severity: models.AlertSeverityHigh,
				Message:  fmt.Sprintf("safe recovery blocked: %v", result.BlockingConditions),
				Metadata: details,
			})
		})
		if err != nil {
			return nil, err
		}
		metrics.SafeRecoveryRuns.WithLabelValues("blocked").Inc()
		s.logger.WithField("blocking", result.BlockingConditions).Warn("Safe recovery blocked")
		return result, nil
	}

	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		now := s.now()
		cleared, err := tx.Sellers.ClearRiskFlagsForSolventSellers(ctx)
		if err != nil {
			return err
		}
		result.ClearedSellers = cleared

		state, err := tx.System.Lock(ctx)
		if err != nil {
			return err
		}
		previousReason := state.FreezeReason
		state.FinanceFrozen = false
		state.PayoutsFrozen = false
		state.FreezeReason = ""
		state.FrozenAt = nil
		state.LastSafeRecoveryAt = &now
		state.LastMismatchAmount = breakdown.Mismatch
		if err := tx.System.Save(ctx, state); err != nil {
			return err
		}

		resolved, err := tx.Alerts.ResolveCritical(ctx, ActorSafeRecovery, now)
		if err != nil {
			return err
		}
		result.ResolvedAlerts = resolved

		return tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSafeRecoveryExecuted, models.ResourcePlatform).
			WithActor(models.ActorSystem, ActorSafeRecovery).
			WithChanges(models.JSONB{"financeFrozen": true, "freezeReason": previousReason}, models.JSONB{"financeFrozen": false}).
			WithMetadata(models.JSONB{
				"mismatch":       breakdown.Mismatch.StringFixed(2),
				"clearedSellers": cleared,
				"resolvedAlerts": resolved,
			}).
			Build())
	})
	if err != nil {
		return nil, err
	}

	result.Recovered = true
	s.forgetState(ctx, cache.RiskySellersPattern)
	metrics.FinanceFrozen.Set(0)
	metrics.SafeRecoveryRuns.WithLabelValues("recovered").Inc()
	s.logger.WithFields(logrus.Fields{
		"cleared_sellers": result.ClearedSellers,
		"resolved_alerts": result.ResolvedAlerts,
	}).Info("Safe recovery executed, platform unfrozen")
	return result, nil
}

// TriggerRevalidation queues an on-demand seller revalidation
func (s *ReconciliationService) TriggerRevalidation(ctx context.Context, override bool, actor string) error {
	if !s.runtime.IsJobsEnabled() {
		return ErrJobsDisabled
	}
	state, err := s.store.System.Get(ctx)
	if err != nil {
		return err
	}
	if state.FinanceFrozen && !override {
		return ErrFinanceFrozen
	}
	return s.jobs.EnqueueSellerRevalidation(ctx, override, actor)
}

// RevalidateSellers re-checks every risk-flagged seller and clears the flag where
// the books support it. It refuses to run while the platform is frozen.
func (s *ReconciliationService) RevalidateSellers(ctx context.Context, override bool, actor string) (*RevalidationResult, error) {
	state, err := s.store.System.Get(ctx)
	if err != nil {
		return nil, err
	}
	if state.FinanceFrozen && !override {
		return nil, ErrFinanceFrozen
	}

	flagged, err := s.store.Sellers.ListRiskFlagged(ctx)
	if err != nil {
		return nil, err
	}

	result := &RevalidationResult{Blocked: map[string]string{}}
	for _, balance := range flagged {
		result.Checked++
		reason, err := s.revalidationBlocker(ctx, state, &balance)
		if err != nil {
			s.logger.WithError(err).WithField("seller_id", balance.SellerID).Error("Failed to revalidate seller")
			continue
		}
		if err := s.applyRevalidation(ctx, balance.SellerID, reason, override, actor); err != nil {
			s.logger.WithError(err).WithField("seller_id", balance.SellerID).Error("Failed to store revalidation outcome")
			continue
		}
		if reason == "" {
			result.Cleared++
		} else {
			result.Blocked[balance.SellerID.String()] = reason
		}
	}

	if result.Cleared > 0 {
		s.forgetState(ctx, cache.RiskySellersPattern)
	}

	s.logger.WithFields(logrus.Fields{
		"checked": result.Checked,
		"cleared": result.Cleared,
		"blocked": len(result.Blocked),
	}).Info("Seller revalidation finished")
	return result, nil
}

// revalidationBlocker returns the first condition keeping a seller flagged
func (s *ReconciliationService) revalidationBlocker(ctx context.Context, state *models.SystemState, balance *models.SellerBalance) (string, error) {
	matches, err := s.ledgerMatchesOrders(ctx, balance.SellerID)
	if err != nil {
		return "", err
	}
	if !matches {
		return RevalidationLedgerMismatch, nil
	}
	open, err := s.store.Alerts.CountUnresolvedForSeller(ctx, balance.SellerID)
	if err != nil {
		return "", err
	}
	if open > 0 {
		return RevalidationAlertsPending, nil
	}
	if balance.PendingAmount.IsNegative() {
		return RevalidationNegativeBalance, nil
	}
	if state.LastReconciliationAt == nil {
		return RevalidationReconciliationMissing, nil
	}
	return "", nil
}

// ledgerMatchesOrders compares a seller's CREDIT entries with the shares their
// settled orders imply, within one cent
func (s *ReconciliationService) ledgerMatchesOrders(ctx context.Context, sellerID uuid.UUID) (bool, error) {
	orders, err := s.store.Orders.ListSettledOrdersForSeller(ctx, sellerID)
	if err != nil {
		return false, err
	}
	expected := decimal.Zero
	for i := range orders {
		shares, _ := ComputeSellerShares(&orders[i], s.settle.CommissionRate)
		for _, share := range shares {
			if share.SellerID == sellerID {
				expected = expected.Add(share.Net)
			}
		}
	}
	credited, err := s.store.Ledger.SumSellerEntries(ctx, sellerID, models.LedgerEntryCredit)
	if err != nil {
		return false, err
	}
	return credited.Sub(expected).Abs().LessThanOrEqual(ledgerTolerance), nil
}

func (s *ReconciliationService) applyRevalidation(ctx context.Context, sellerID uuid.UUID, reason string, override bool, actor string) error {
	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		balance, err := tx.Sellers.LockBalance(ctx, sellerID)
		if err != nil {
			return err
		}
		if !balance.RiskFlag {
			return nil
		}
		previousReason := balance.RiskBlockReason

		action := models.ActionSellerRevalidationBlocked
		if reason == "" {
			action = models.ActionSellerRiskRevalidated
			balance.RiskFlag = false
			balance.RiskBlockReason = ""
			after.Add("evaluate operational mode", func(ctx context.Context) error {
				return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
			})
		} else {
			balance.RiskBlockReason = reason
		}
		if err := tx.Sellers.SaveBalance(ctx, balance); err != nil {
			return err
		}
		return tx.Audit.Create(ctx, models.NewAuditLog(action, models.ResourceSeller).
			WithActor(models.ActorSystem, actor).
			WithResource(sellerID.String()).
			WithChanges(
				models.JSONB{"riskFlag": true, "reason": previousReason},
				models.JSONB{"riskFlag": balance.RiskFlag, "reason": balance.RiskBlockReason},
			).
			WithMetadata(models.JSONB{"override": override}).
			Build())
	})
	if err != nil {
		return err
	}
	after.Run(ctx, s.logger.WithField("seller_id", sellerID))
	return nil
}

// SetFreeze lets an operator freeze or unfreeze platform money movement
func (s *ReconciliationService) SetFreeze(ctx context.Context, freeze bool, reason, actor string) (*models.SystemState, error) {
	var updated *models.SystemState
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		state, err := tx.System.Lock(ctx)
		if err != nil {
			return err
		}
		previous := state.FinanceFrozen
		now := s.now()
		state.FinanceFrozen = freeze
		state.PayoutsFrozen = freeze
		if freeze {
			state.FreezeReason = reason
			if state.FrozenAt == nil {
				state.FrozenAt = &now
			}
		} else {
			state.FreezeReason = ""
			state.FrozenAt = nil
		}
		if err := tx.System.Save(ctx, state); err != nil {
			return err
		}
		updated = state
		return tx.Audit.Create(ctx, models.NewAuditLog(models.ActionFinanceFreezeToggled, models.ResourceSystem).
			WithActor(models.ActorAdmin, actor).
			WithChanges(models.JSONB{"financeFrozen": previous}, models.JSONB{"financeFrozen": freeze}).
			WithMetadata(models.JSONB{"reason": reason}).
			Build())
	})
	if err != nil {
		return nil, err
	}
	s.forgetState(ctx)
	metrics.FinanceFrozen.Set(metrics.BoolGauge(freeze))
	s.logger.WithFields(logrus.Fields{"frozen": freeze, "actor": actor, "reason": reason}).Warn("Finance freeze toggled")
	return updated, nil
}

// GetState returns the platform reconciliation state
func (s *ReconciliationService) GetState(ctx context.Context) (*models.SystemState, error) {
	return s.store.System.Get(ctx)
}

// SetJobsEnabled flips the background job toggle and audits it
func (s *ReconciliationService) SetJobsEnabled(ctx context.Context, enabled bool, actor string) error {
	previous := s.runtime.IsJobsEnabled()
	s.runtime.SetJobsEnabled(enabled)
	s.logger.WithFields(logrus.Fields{"enabled": enabled, "actor": actor}).Warn("Background jobs toggled")
	return s.store.Audit.Create(ctx, models.NewAuditLog(models.ActionJobsToggled, models.ResourceSystem).
		WithActor(models.ActorAdmin, actor).
		WithChanges(models.JSONB{"jobsEnabled": previous}, models.JSONB{"jobsEnabled": enabled}).
		Build())
}
