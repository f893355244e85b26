package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/models"
)

func TestScoreSignals_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, ScoreSignals(RiskSignals{}))

	clean := RiskSignals{DeliverySuccessRate: 1, AccountAgeDays: 900}
	assert.Equal(t, 0.0, ScoreSignals(clean))

	worst := RiskSignals{
		ChargebackRate7d:   1,
		ChargebackRate30d:  1,
		RefundRatio:        1,
		RTORate:            1,
		Orders7d:           500,
		FailedDeliveryRate: 1,
		PayoutExposure:     5,
		ComplaintRate:      1,
		FraudFlags:         []string{"a", "b", "c", "d"},
	}
	assert.Equal(t, 90.0, ScoreSignals(worst))

	exposed := RiskSignals{PayoutExposure: 1}
	assert.Equal(t, 10.0, ScoreSignals(exposed))
}

func TestScoreSignals_RecentChargebacksWeighMore(t *testing.T) {
	recent := ScoreSignals(RiskSignals{ChargebackRate7d: 0.05})
	old := ScoreSignals(RiskSignals{ChargebackRate30d: 0.05})
	assert.Greater(t, recent, old)
}

func TestGrowthSpike(t *testing.T) {
	assert.Equal(t, 0.0, RiskSignals{Orders7d: 10, WeeklyBaseline: 10}.GrowthSpike())
	assert.Equal(t, 0.5, RiskSignals{Orders7d: 30, WeeklyBaseline: 10}.GrowthSpike())
	assert.Equal(t, 1.0, RiskSignals{Orders7d: 100, WeeklyBaseline: 10}.GrowthSpike())
	assert.Equal(t, 0.5, RiskSignals{Orders7d: 25}.GrowthSpike())
}

func TestLevelForScore(t *testing.T) {
	cfg := config.RiskConfig{Threshold: 50, CriticalThreshold: 85}
	cases := map[float64]models.FinancialMode{
		0:     models.FinancialModeNormal,
		49.99: models.FinancialModeNormal,
		50:    models.FinancialModeMonitored,
		64.99: models.FinancialModeMonitored,
		65:    models.FinancialModeIsolated,
		84.99: models.FinancialModeIsolated,
		85:    models.FinancialModeBlocked,
		100:   models.FinancialModeBlocked,
	}
	for score, want := range cases {
		assert.Equal(t, want, LevelForScore(score, cfg), "score %.2f", score)
	}
}

func TestTrendFor(t *testing.T) {
	prev := 40.0
	assert.Equal(t, models.RiskTrendStable, TrendFor(nil, 80))
	assert.Equal(t, models.RiskTrendWorsening, TrendFor(&prev, 45))
	assert.Equal(t, models.RiskTrendImproving, TrendFor(&prev, 35))
	assert.Equal(t, models.RiskTrendStable, TrendFor(&prev, 44))
}

func TestResolveMode(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		current  models.FinancialMode
		computed models.FinancialMode
		cooldown *time.Time
		want     models.FinancialMode
	}{
		{"escalation ignores cooldown", models.FinancialModeNormal, models.FinancialModeBlocked, &future, models.FinancialModeBlocked},
		{"relaxation waits for cooldown", models.FinancialModeIsolated, models.FinancialModeNormal, &future, models.FinancialModeIsolated},
		{"relaxation after cooldown", models.FinancialModeIsolated, models.FinancialModeNormal, &past, models.FinancialModeNormal},
		{"relaxation without cooldown", models.FinancialModeMonitored, models.FinancialModeNormal, nil, models.FinancialModeNormal},
		{"same mode", models.FinancialModeMonitored, models.FinancialModeMonitored, &future, models.FinancialModeMonitored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveMode(tt.current, tt.computed, tt.cooldown, now))
		})
	}
}

func TestScoreSeller_BlocksThenRelaxesAfterCooldown(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	// Money owed to a seller with no recent GMV is full payout exposure.
	require.NoError(t, h.store.Sellers.AdjustPending(h.ctx, f.seller.ID, decimal.NewFromInt(500)))

	h.risk.cfg.Threshold = 5
	h.risk.cfg.CriticalThreshold = 9
	assessment, err := h.risk.ScoreSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, assessment.Score)
	assert.Equal(t, models.FinancialModeBlocked, assessment.Mode)
	assert.True(t, assessment.ModeChanged)
	assert.Contains(t, h.jobs.modeEvaluations, f.seller.ID)

	balance := h.balance(f.seller.ID)
	assert.Equal(t, models.FinancialModeBlocked, balance.FinancialMode)
	assert.True(t, balance.PayoutHold)
	assert.True(t, balance.RiskFlag)
	assert.Equal(t, RiskBlockReasonScore, balance.RiskBlockReason)

	h.risk.cfg.Threshold = 50
	h.risk.cfg.CriticalThreshold = 85
	held, err := h.risk.ScoreSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinancialModeNormal, held.Level)
	assert.Equal(t, models.FinancialModeBlocked, held.Mode)
	assert.False(t, held.ModeChanged)

	h.risk.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	relaxed, err := h.risk.ScoreSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinancialModeNormal, relaxed.Mode)
	assert.True(t, relaxed.ModeChanged)

	balance = h.balance(f.seller.ID)
	assert.False(t, balance.PayoutHold)
	assert.True(t, balance.RiskFlag, "only revalidation clears the flag")

	view, err := h.risk.GetSellerRisk(h.ctx, f.seller.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Metrics)
	assert.Equal(t, models.FinancialModeNormal, view.Metrics.LastMode)
	assert.Equal(t, 1.0, view.Metrics.PayoutExposure)

	logs, err := h.store.Audit.ListByAction(h.ctx, models.ActionSellerFinancialModeUpdated, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestOverrideFinancialMode(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)

	_, err := h.risk.OverrideFinancialMode(h.ctx, f.seller.ID, models.FinancialMode("PAUSED"), "", "ops")
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = h.risk.OverrideFinancialMode(h.ctx, uuid.New(), models.FinancialModeBlocked, "", "ops")
	assert.ErrorIs(t, err, ErrSellerNotFound)

	balance, err := h.risk.OverrideFinancialMode(h.ctx, f.seller.ID, models.FinancialModeIsolated, "fraud ring", "ops")
	require.NoError(t, err)
	assert.Equal(t, models.FinancialModeIsolated, balance.FinancialMode)
	assert.True(t, balance.PayoutHold)

	// A clean score cannot undo the override inside the cooldown.
	assessment, err := h.risk.ScoreSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinancialModeIsolated, assessment.Mode)

	risky, err := h.risk.ListRiskySellers(h.ctx, 0)
	require.NoError(t, err)
	require.Len(t, risky, 1)
	assert.Equal(t, f.seller.ID, risky[0].SellerID)
}

func TestMonitorIsolation_ReleasesAfterWindow(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)

	_, err := h.risk.OverrideFinancialMode(h.ctx, f.seller.ID, models.FinancialModeIsolated, "review", "ops")
	require.NoError(t, err)
	_, err = h.risk.ScoreSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	require.NotNil(t, h.balance(f.seller.ID).RiskBelowThresholdSince)

	released, err := h.risk.MonitorIsolation(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	h.risk.now = func() time.Time {
		return time.Now().UTC().Add(time.Duration(h.cfg.Risk.IsolationReleaseHours+1) * time.Hour)
	}
	released, err = h.risk.MonitorIsolation(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	balance := h.balance(f.seller.ID)
	assert.Equal(t, models.FinancialModeMonitored, balance.FinancialMode)
	assert.False(t, balance.PayoutHold)
}

func TestScoreAll(t *testing.T) {
	h := newHarness(t)
	h.seedSeller("100.00", 5)
	h.seedSeller("200.00", 5)

	scored, err := h.risk.ScoreAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, scored)
}
