package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// Risk score weights, in percent of the final score
const (
	weightChargeback      = 22
	weightRefund          = 15
	weightRTO             = 8
	weightGrowthSpike     = 12
	weightFailedDelivery  = 10
	weightPayoutExposure  = 10
	weightComplaint       = 8
	weightFraudFlags      = 5
	creditDeliverySuccess = 6
	creditAccountAge      = 4
)

// Saturation points: a raw signal at or beyond these values counts fully
const (
	chargebackRateCeiling     = 0.10
	refundRatioCeiling        = 0.30
	rtoRateCeiling            = 0.25
	growthMultipleCeiling     = 4.0
	newSellerVolumeCeiling    = 50.0
	failedDeliveryRateCeiling = 0.20
	payoutExposureCeiling     = 1.0
	complaintRateCeiling      = 0.10
	fraudFlagCeiling          = 3.0
	accountAgeCeilingDays     = 365.0

	trendDelta       = 5.0
	isolationBand    = 15.0
	riskyListDefault = 50
)

// RiskBlockReasonScore marks a risk flag raised by the scoring engine
const RiskBlockReasonScore = "risk_score"

// RiskSignals is the raw trailing-window activity of a seller
type RiskSignals struct {
	ChargebackRate7d    float64
	ChargebackRate30d   float64
	RefundRatio         float64
	RTORate             float64
	Orders7d            int64
	WeeklyBaseline      float64
	FailedDeliveryRate  float64
	PayoutExposure      float64
	ComplaintRate       float64
	FraudFlags          []string
	DeliverySuccessRate float64
	AccountAgeDays      int
}

// GrowthSpike compares the last 7 days to the trailing weekly average. A seller
// with no baseline is scored on raw volume instead.
func (s RiskSignals) GrowthSpike() float64 {
	if s.WeeklyBaseline <= 0 {
		return clamp01(float64(s.Orders7d) / newSellerVolumeCeiling)
	}
	return clamp01((float64(s.Orders7d)/s.WeeklyBaseline - 1) / growthMultipleCeiling)
}

// ScoreSignals blends the normalized signals into a 0-100 risk score
func ScoreSignals(sig RiskSignals) float64 {
	decayedChargeback := 0.7*sig.ChargebackRate7d + 0.3*sig.ChargebackRate30d

	risk := weightChargeback*clamp01(decayedChargeback/chargebackRateCeiling) +
		weightRefund*clamp01(sig.RefundRatio/refundRatioCeiling) +
		weightRTO*clamp01(sig.RTORate/rtoRateCeiling) +
		weightGrowthSpike*sig.GrowthSpike() +
		weightFailedDelivery*clamp01(sig.FailedDeliveryRate/failedDeliveryRateCeiling) +
		weightPayoutExposure*clamp01(sig.PayoutExposure/payoutExposureCeiling) +
		weightComplaint*clamp01(sig.ComplaintRate/complaintRateCeiling) +
		weightFraudFlags*clamp01(float64(len(sig.FraudFlags))/fraudFlagCeiling)

	trust := creditDeliverySuccess*clamp01(sig.DeliverySuccessRate) +
		creditAccountAge*clamp01(float64(sig.AccountAgeDays)/accountAgeCeilingDays)

	score := math.Max(0, math.Min(100, risk-trust))
	return math.Round(score*100) / 100
}

// LevelForScore maps a score to the financial mode it implies
func LevelForScore(score float64, cfg config.RiskConfig) models.FinancialMode {
	switch {
	case score >= cfg.CriticalThreshold:
		return models.FinancialModeBlocked
	case score >= cfg.Threshold+isolationBand:
		return models.FinancialModeIsolated
	case score >= cfg.Threshold:
		return models.FinancialModeMonitored
	default:
		return models.FinancialModeNormal
	}
}

// TrendFor compares a score with the previous pass
func TrendFor(previous *float64, score float64) models.RiskTrend {
	if previous == nil {
		return models.RiskTrendStable
	}
	switch {
	case score-*previous >= trendDelta:
		return models.RiskTrendWorsening
	case *previous-score >= trendDelta:
		return models.RiskTrendImproving
	default:
		return models.RiskTrendStable
	}
}

// ResolveMode applies the cooldown: a more severe mode always takes effect, a less
// severe one only once the cooldown has passed
func ResolveMode(current, computed models.FinancialMode, cooldownUntil *time.Time, now time.Time) models.FinancialMode {
	if computed.Severity() >= current.Severity() {
		return computed
	}
	if cooldownUntil != nil && now.Before(*cooldownUntil) {
		return current
	}
	return computed
}

// RiskAssessment is the outcome of scoring one seller
type RiskAssessment struct {
	SellerID     uuid.UUID            `json:"sellerId"`
	Score        float64              `json:"riskScore"`
	Level        models.FinancialMode `json:"riskLevel"`
	Trend        models.RiskTrend     `json:"riskTrend"`
	PreviousMode models.FinancialMode `json:"previousMode"`
	Mode         models.FinancialMode `json:"mode"`
	ModeChanged  bool                 `json:"modeChanged"`
}

// SellerRiskView is the read model of a seller's risk position
type SellerRiskView struct {
	Balance *models.SellerBalance     `json:"balance"`
	Metrics *models.SellerRiskMetrics `json:"metrics,omitempty"`
}

// RiskService scores sellers and drives their financial mode
type RiskService struct {
	store  *repository.Store
	jobs   JobEnqueuer
	cfg    config.RiskConfig
	logger *logrus.Entry
	now    func() time.Time
}

// NewRiskService creates a new risk service
func NewRiskService(store *repository.Store, jobs JobEnqueuer, cfg config.RiskConfig, logger *logrus.Logger) *RiskService {
	return &RiskService{
		store:  store,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger.WithField("component", "risk_service"),
		now:    utcNow,
	}
}

// CollectSignals reads the trailing 7/30-day activity of a seller
func (s *RiskService) CollectSignals(ctx context.Context, seller *models.Seller) (*RiskSignals, error) {
	now := s.now()
	d7 := now.AddDate(0, 0, -7)
	d30 := now.AddDate(0, 0, -30)
	d35 := now.AddDate(0, 0, -35)
	signals := s.store.Signals

	paid7, err := signals.CountPaidOrders(ctx, seller.ID, d7, now)
	if err != nil {
		return nil, err
	}
	paid30, err := signals.CountPaidOrders(ctx, seller.ID, d30, now)
	if err != nil {
		return nil, err
	}
	baseline, err := signals.CountPaidOrders(ctx, seller.ID, d35, d7)
	if err != nil {
		return nil, err
	}
	cb7, err := signals.CountChargebacks(ctx, seller.ID, d7)
	if err != nil {
		return nil, err
	}
	cb30, err := signals.CountChargebacks(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	refunds, err := signals.CountRefunds(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	returned, err := signals.CountCancelledOrRTO(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	shipped, delivered, failed, err := signals.ShipmentOutcomes(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	complaints, err := signals.CountComplaints(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	flags, err := signals.ListFraudFlags(ctx, seller.ID)
	if err != nil {
		return nil, err
	}

	balance, err := s.store.Sellers.GetBalance(ctx, seller.ID)
	if err != nil {
		return nil, err
	}
	inFlight, err := s.store.Ledger.SumInFlightPayouts(ctx, seller.ID)
	if err != nil {
		return nil, err
	}
	gmv, err := signals.SumSellerGMV(ctx, seller.ID, d30)
	if err != nil {
		return nil, err
	}
	unsettled, _ := balance.PendingAmount.Add(inFlight).Float64()
	gmvValue, _ := gmv.Float64()
	exposure := 0.0
	switch {
	case gmvValue > 0:
		exposure = unsettled / gmvValue
	case unsettled > 0:
		exposure = 1
	}

	return &RiskSignals{
		ChargebackRate7d:    ratio(cb7, paid7),
		ChargebackRate30d:   ratio(cb30, paid30),
		RefundRatio:         ratio(refunds, paid30),
		RTORate:             ratio(returned, paid30),
		Orders7d:            paid7,
		WeeklyBaseline:      float64(baseline) / 4,
		FailedDeliveryRate:  ratio(failed, shipped),
		PayoutExposure:      exposure,
		ComplaintRate:       ratio(complaints, paid30),
		FraudFlags:          flags,
		DeliverySuccessRate: ratio(delivered, shipped),
		AccountAgeDays:      int(now.Sub(seller.CreatedAt).Hours() / 24),
	}, nil
}

// ScoreSeller recomputes a seller's risk score and applies the implied financial
// mode subject to the cooldown
func (s *RiskService) ScoreSeller(ctx context.Context, sellerID uuid.UUID) (*RiskAssessment, error) {
	seller, err := s.store.Sellers.GetSeller(ctx, sellerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}

	signals, err := s.CollectSignals(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("failed to collect risk signals for seller %s: %w", sellerID, err)
	}
	score := ScoreSignals(*signals)
	level := LevelForScore(score, s.cfg)

	assessment := &RiskAssessment{SellerID: sellerID, Score: score, Level: level}
	after := &AfterCommit{}
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		balance, err := tx.Sellers.LockBalance(ctx, sellerID)
		if err != nil {
			return err
		}
		previous, err := tx.Sellers.GetRiskMetrics(ctx, sellerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		now := s.now()
		var previousScore *float64
		var cooldownUntil, lastChange *time.Time
		if previous != nil {
			previousScore = &previous.RiskScore
			cooldownUntil = previous.CooldownUntil
			lastChange = previous.LastModeChangeAt
		}
		assessment.Trend = TrendFor(previousScore, score)
		assessment.PreviousMode = balance.FinancialMode
		assessment.Mode = ResolveMode(balance.FinancialMode, level, cooldownUntil, now)
		assessment.ModeChanged = assessment.Mode != balance.FinancialMode

		if assessment.ModeChanged {
			until := now.Add(time.Duration(s.cfg.CooldownHours) * time.Hour)
			cooldownUntil = &until
			lastChange = &now
		}
		applyFinancialMode(balance, assessment.Mode)
		balance.RiskScore = score
		switch {
		case score >= s.cfg.Threshold:
			balance.RiskBelowThresholdSince = nil
		case balance.RiskBelowThresholdSince == nil:
			balance.RiskBelowThresholdSince = &now
		}
		if err := tx.Sellers.SaveBalance(ctx, balance); err != nil {
			return err
		}

		if err := tx.Sellers.UpsertRiskMetrics(ctx, &models.SellerRiskMetrics{
			SellerID:            sellerID,
			ChargebackRate7d:    signals.ChargebackRate7d,
			ChargebackRate30d:   signals.ChargebackRate30d,
			RefundRatio:         signals.RefundRatio,
			RTORate:             signals.RTORate,
			GrowthSpike:         signals.GrowthSpike(),
			FailedDeliveryRate:  signals.FailedDeliveryRate,
			PayoutExposure:      signals.PayoutExposure,
			ComplaintRate:       signals.ComplaintRate,
			FraudFlagCount:      len(signals.FraudFlags),
			FraudFlags:          pq.StringArray(signals.FraudFlags),
			DeliverySuccessRate: signals.DeliverySuccessRate,
			AccountAgeDays:      signals.AccountAgeDays,
			RiskScore:           score,
			RiskLevel:           level,
			RiskTrend:           assessment.Trend,
			LastMode:            assessment.Mode,
			LastModeChangeAt:    lastChange,
			CooldownUntil:       cooldownUntil,
			ComputedAt:          now,
		}); err != nil {
			return fmt.Errorf("failed to store risk metrics: %w", err)
		}

		oldScore := models.JSONB{}
		if previousScore != nil {
			oldScore["riskScore"] = *previousScore
		}
		if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSellerRiskScoreUpdated, models.ResourceSeller).
			WithResource(sellerID.String()).
			WithChanges(oldScore, models.JSONB{"riskScore": score, "riskLevel": string(level), "riskTrend": string(assessment.Trend)}).
			Build()); err != nil {
			return err
		}

		if assessment.ModeChanged {
			if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSellerFinancialModeUpdated, models.ResourceSeller).
				WithResource(sellerID.String()).
				WithChanges(
					models.JSONB{"mode": string(assessment.PreviousMode)},
					models.JSONB{"mode": string(assessment.Mode)},
				).
				WithMetadata(models.JSONB{"riskScore": score, "cooldownUntil": cooldownUntil.Format(time.RFC3339)}).
				Build()); err != nil {
				return err
			}
		}

		after.Add("evaluate operational mode", func(ctx context.Context) error {
			return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("seller_id", sellerID))

	if assessment.ModeChanged {
		metrics.SellerModeChanges.WithLabelValues("financial", string(assessment.Mode)).Inc()
		s.logger.WithFields(logrus.Fields{
			"seller_id":  sellerID,
			"risk_score": score,
			"from":       assessment.PreviousMode,
			"to":         assessment.Mode,
		}).Info("Seller financial mode changed")
	}
	return assessment, nil
}

// applyFinancialMode sets a financial mode and the money-movement holds it implies.
// The risk flag is only ever cleared by revalidation.
func applyFinancialMode(balance *models.SellerBalance, mode models.FinancialMode) {
	balance.FinancialMode = mode
	restricted := mode.Severity() >= models.FinancialModeIsolated.Severity()
	balance.PayoutHold = restricted
	if restricted && !balance.RiskFlag {
		balance.RiskFlag = true
		balance.RiskBlockReason = RiskBlockReasonScore
	}
}

// ScoreAll scores every seller; individual failures are logged
func (s *RiskService) ScoreAll(ctx context.Context) (int, error) {
	ids, err := s.store.Sellers.ListSellerIDs(ctx)
	if err != nil {
		return 0, err
	}
	scored := 0
	for _, id := range ids {
		if _, err := s.ScoreSeller(ctx, id); err != nil {
			s.logger.WithError(err).WithField("seller_id", id).Error("Failed to score seller")
			continue
		}
		scored++
	}
	s.logger.WithField("sellers", scored).Info("Risk scoring pass finished")
	return scored, nil
}

// MonitorIsolation steps ISOLATED sellers down to MONITORED once their score has
// stayed under the threshold for the release window and their cooldown is over
func (s *RiskService) MonitorIsolation(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-time.Duration(s.cfg.IsolationReleaseHours) * time.Hour)
	candidates, err := s.store.Sellers.ListIsolatedBelowThresholdSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, candidate := range candidates {
		ok, err := s.releaseIsolation(ctx, candidate.SellerID)
		if err != nil {
			s.logger.WithError(err).WithField("seller_id", candidate.SellerID).Error("Failed to release isolated seller")
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (s *RiskService) releaseIsolation(ctx context.Context, sellerID uuid.UUID) (bool, error) {
	released := false
	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		balance, err := tx.Sellers.LockBalance(ctx, sellerID)
		if err != nil {
			return err
		}
		if balance.FinancialMode != models.FinancialModeIsolated || balance.RiskBelowThresholdSince == nil {
			return nil
		}
		now := s.now()
		riskMetrics, err := tx.Sellers.GetRiskMetrics(ctx, sellerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if riskMetrics != nil && riskMetrics.CooldownUntil != nil && now.Before(*riskMetrics.CooldownUntil) {
			return nil
		}

		until := now.Add(time.Duration(s.cfg.CooldownHours) * time.Hour)
		applyFinancialMode(balance, models.FinancialModeMonitored)
		if err := tx.Sellers.SaveBalance(ctx, balance); err != nil {
			return err
		}
		if riskMetrics == nil {
			riskMetrics = &models.SellerRiskMetrics{SellerID: sellerID, RiskScore: balance.RiskScore, ComputedAt: now}
		}
		riskMetrics.LastMode = models.FinancialModeMonitored
		riskMetrics.LastModeChangeAt = &now
		riskMetrics.CooldownUntil = &until
		if err := tx.Sellers.UpsertRiskMetrics(ctx, riskMetrics); err != nil {
			return err
		}
		if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSellerFinancialModeUpdated, models.ResourceSeller).
			WithResource(sellerID.String()).
			WithChanges(
				models.JSONB{"mode": string(models.FinancialModeIsolated)},
				models.JSONB{"mode": string(models.FinancialModeMonitored)},
			).
			WithMetadata(models.JSONB{"reason": "isolation_release", "belowThresholdSince": balance.RiskBelowThresholdSince.Format(time.RFC3339)}).
			Build()); err != nil {
			return err
		}
		after.Add("evaluate operational mode", func(ctx context.Context) error {
			return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
		})
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	after.Run(ctx, s.logger.WithField("seller_id", sellerID))
	if released {
		metrics.SellerModeChanges.WithLabelValues("financial", string(models.FinancialModeMonitored)).Inc()
		s.logger.WithField("seller_id", sellerID).Info("Isolated seller released to MONITORED")
	}
	return released, nil
}

// OverrideFinancialMode lets an operator force a seller's financial mode. The
// override starts a fresh cooldown so the next scoring pass cannot undo it early.
func (s *RiskService) OverrideFinancialMode(ctx context.Context, sellerID uuid.UUID, mode models.FinancialMode, reason, actor string) (*models.SellerBalance, error) {
	if !mode.IsValid() {
		return nil, ErrInvalidMode
	}
	if _, err := s.store.Sellers.GetSeller(ctx, sellerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}

	var updated *models.SellerBalance
	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		balance, err := tx.Sellers.LockBalance(ctx, sellerID)
		if err != nil {
			return err
		}
		previous := balance.FinancialMode
		now := s.now()
		until := now.Add(time.Duration(s.cfg.CooldownHours) * time.Hour)

		applyFinancialMode(balance, mode)
		if err := tx.Sellers.SaveBalance(ctx, balance); err != nil {
			return err
		}
		updated = balance

		riskMetrics, err := tx.Sellers.GetRiskMetrics(ctx, sellerID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			riskMetrics = &models.SellerRiskMetrics{SellerID: sellerID, RiskScore: balance.RiskScore, RiskLevel: mode, ComputedAt: now}
		}
		riskMetrics.LastMode = mode
		riskMetrics.LastModeChangeAt = &now
		riskMetrics.CooldownUntil = &until
		if err := tx.Sellers.UpsertRiskMetrics(ctx, riskMetrics); err != nil {
			return err
		}

		if err := tx.Audit.Create(ctx, models.NewAuditLog(models.ActionSellerFinancialModeUpdated, models.ResourceSeller).
			WithActor(models.ActorAdmin, actor).
			WithResource(sellerID.String()).
			WithChanges(models.JSONB{"mode": string(previous)}, models.JSONB{"mode": string(mode)}).
			WithMetadata(models.JSONB{"reason": reason, "override": true}).
			Build()); err != nil {
			return err
		}
		after.Add("evaluate operational mode", func(ctx context.Context) error {
			return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("seller_id", sellerID))

	metrics.SellerModeChanges.WithLabelValues("financial", string(mode)).Inc()
	s.logger.WithFields(logrus.Fields{"seller_id": sellerID, "mode": mode, "actor": actor}).Warn("Seller financial mode overridden")
	return updated, nil
}

// GetSellerRisk returns a seller's balance with the latest scoring output
func (s *RiskService) GetSellerRisk(ctx context.Context, sellerID uuid.UUID) (*SellerRiskView, error) {
	if _, err := s.store.Sellers.GetSeller(ctx, sellerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	balance, err := s.store.Sellers.GetBalance(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	view := &SellerRiskView{Balance: balance}
	riskMetrics, err := s.store.Sellers.GetRiskMetrics(ctx, sellerID)
	switch {
	case err == nil:
		view.Metrics = riskMetrics
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return view, nil
}

// ListRiskySellers returns sellers at or above the monitoring threshold, flagged, or
// out of NORMAL
func (s *RiskService) ListRiskySellers(ctx context.Context, limit int) ([]models.SellerBalance, error) {
	if limit <= 0 || limit > 500 {
		limit = riskyListDefault
	}
	return s.store.Sellers.ListRisky(ctx, s.cfg.Threshold, limit)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
