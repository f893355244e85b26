package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/models"
)

func TestComputeOperationalMode(t *testing.T) {
	cfg := config.RiskConfig{WatchScore: 60, QualityFloor: 55, StabilityRateLimit: 0.2}
	healthy := OperationalSignals{FinancialMode: models.FinancialModeNormal, QualityScore: 90}

	tests := []struct {
		name   string
		mutate func(*OperationalSignals)
		want   models.OperationalMode
	}{
		{"healthy", func(*OperationalSignals) {}, models.OperationalModeNormal},
		{"risk flag isolates", func(s *OperationalSignals) { s.RiskFlag = true }, models.OperationalModeIsolated},
		{"isolated financial mode", func(s *OperationalSignals) { s.FinancialMode = models.FinancialModeIsolated }, models.OperationalModeIsolated},
		{"payout hold", func(s *OperationalSignals) { s.PayoutHold = true }, models.OperationalModeFinancialRisk},
		{"open payout failure", func(s *OperationalSignals) { s.OpenPayoutFailures = 1 }, models.OperationalModeFinancialRisk},
		{"low quality", func(s *OperationalSignals) { s.QualityScore = 40 }, models.OperationalModeQualityIssue},
		{"late dispatch", func(s *OperationalSignals) { s.DispatchDelayRate = 0.3 }, models.OperationalModeStabilityLimited},
		{"refund heavy", func(s *OperationalSignals) { s.RefundRate30d = 0.25 }, models.OperationalModeStabilityLimited},
		{"elevated score", func(s *OperationalSignals) { s.RiskScore = 60 }, models.OperationalModeWatch},
		{"most severe wins", func(s *OperationalSignals) {
			s.RiskFlag = true
			s.QualityScore = 10
			s.RiskScore = 99
		}, models.OperationalModeIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := healthy
			tt.mutate(&sig)
			assert.Equal(t, tt.want, ComputeOperationalMode(sig, cfg))
		})
	}
}

func TestVisibilityMultiplier(t *testing.T) {
	assert.Equal(t, 0.0, VisibilityMultiplier(models.OperationalModeIsolated))
	assert.Equal(t, 0.5, VisibilityMultiplier(models.OperationalModeQualityIssue))
	assert.Equal(t, 0.8, VisibilityMultiplier(models.OperationalModeStabilityLimited))
	assert.Equal(t, 1.0, VisibilityMultiplier(models.OperationalModeWatch))
	assert.Equal(t, 1.0, VisibilityMultiplier(models.OperationalModeNormal))
}

func TestEvaluateSeller_IsolationCascade(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)

	balance := h.balance(f.seller.ID)
	balance.RiskFlag = true
	require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))

	eval, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.True(t, eval.Changed)
	assert.Equal(t, models.OperationalModeIsolated, eval.Applied)

	shop, err := h.store.Sellers.GetShop(h.ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, shop.VisibilityMultiplier)

	product, err := h.store.Inventory.GetProduct(h.ctx, f.product.ID)
	require.NoError(t, err)
	assert.False(t, product.IsActive)
	assert.Equal(t, DeactivatedSellerIsolated, product.DeactivatedReason)

	assert.ErrorIs(t, h.modes.EnsureOrderAllowedForSeller(h.ctx, f.seller.ID, decimal.NewFromInt(1)), ErrSellerIsolated)
	_, err = h.modes.PublishProduct(h.ctx, f.product.ID)
	assert.ErrorIs(t, err, ErrSellerIsolated)

	// Revalidation cleared the flag, but the cooldown holds the mode.
	balance = h.balance(f.seller.ID)
	balance.RiskFlag = false
	require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))

	held, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.False(t, held.Changed)
	assert.Equal(t, models.OperationalModeNormal, held.Computed)
	assert.Equal(t, models.OperationalModeIsolated, held.Applied)

	h.modes.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	released, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.True(t, released.Changed)
	assert.Equal(t, models.OperationalModeNormal, released.Applied)

	shop, err = h.store.Sellers.GetShop(h.ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, shop.VisibilityMultiplier)

	republished, err := h.modes.PublishProduct(h.ctx, f.product.ID)
	require.NoError(t, err)
	assert.True(t, republished.IsActive)
	assert.Empty(t, republished.DeactivatedReason)
}

func TestEvaluateSeller_QualityIssueReducesVisibility(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	h.quality.scores[f.seller.ID] = 40

	eval, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationalModeQualityIssue, eval.Applied)

	shop, err := h.store.Sellers.GetShop(h.ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, shop.VisibilityMultiplier)

	product, err := h.store.Inventory.GetProduct(h.ctx, f.product.ID)
	require.NoError(t, err)
	assert.True(t, product.IsActive)
}

func TestFinancialRisk_BlocksHighValueOrders(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("3000.00", 10)

	balance := h.balance(f.seller.ID)
	balance.PayoutHold = true
	require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))
	eval, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	require.Equal(t, models.OperationalModeFinancialRisk, eval.Applied)

	_, err = h.orders.CreateOrder(h.ctx, CreateOrderRequest{
		UserID:         "user-1",
		ShopID:         f.shop.ID,
		Items:          []CreateOrderItemRequest{{ProductID: f.product.ID, Quantity: 2}},
		IdempotencyKey: "big",
	})
	assert.ErrorIs(t, err, ErrHighValueOrderBlocked)

	small := h.placeOrder(f, "small", 1)
	assert.Equal(t, models.OrderStatusCreated, small.Order.Status)
}

func TestFinancialMode_BlocksOrders(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 10)

	_, err := h.risk.OverrideFinancialMode(h.ctx, f.seller.ID, models.FinancialModeBlocked, "chargeback ring", "ops")
	require.NoError(t, err)

	_, err = h.orders.CreateOrder(h.ctx, CreateOrderRequest{
		UserID:         "user-1",
		ShopID:         f.shop.ID,
		Items:          []CreateOrderItemRequest{{ProductID: f.product.ID, Quantity: 1}},
		IdempotencyKey: "blocked",
	})
	assert.ErrorIs(t, err, ErrSellerBlocked)
}

func TestEnsurePublishingAllowedForSeller(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 10)

	tests := []struct {
		name        string
		financial   models.FinancialMode
		operational models.OperationalMode
		wantErr     error
	}{
		{"normal", models.FinancialModeNormal, models.OperationalModeNormal, nil},
		{"financially blocked", models.FinancialModeBlocked, models.OperationalModeNormal, nil},
		{"financially isolated", models.FinancialModeIsolated, models.OperationalModeNormal, ErrSellerIsolated},
		{"operationally isolated", models.FinancialModeNormal, models.OperationalModeIsolated, ErrSellerIsolated},
		{"financial risk", models.FinancialModeMonitored, models.OperationalModeFinancialRisk, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balance := h.balance(f.seller.ID)
			balance.FinancialMode = tt.financial
			balance.OperationalMode = tt.operational
			require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))

			err := h.modes.EnsurePublishingAllowedForSeller(h.ctx, f.seller.ID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestStabilityLimited_DailyCap(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("10.00", 10)
	h.modes.riskCfg.StabilityDailyCap = 2

	balance := h.balance(f.seller.ID)
	balance.OperationalMode = models.OperationalModeStabilityLimited
	require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))

	h.placeOrder(f, "cap-1", 1)
	h.placeOrder(f, "cap-2", 1)
	_, err := h.orders.CreateOrder(h.ctx, CreateOrderRequest{
		UserID:         "user-1",
		ShopID:         f.shop.ID,
		Items:          []CreateOrderItemRequest{{ProductID: f.product.ID, Quantity: 1}},
		IdempotencyKey: "cap-3",
	})
	assert.ErrorIs(t, err, ErrSellerDailyCapReached)
}

func TestEvaluateAll(t *testing.T) {
	h := newHarness(t)
	healthy := h.seedSeller("100.00", 5)
	weak := h.seedSeller("100.00", 5)
	h.quality.scores[weak.seller.ID] = 10

	changed, err := h.modes.EvaluateAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, models.OperationalModeNormal, h.balance(healthy.seller.ID).OperationalMode)
	assert.Equal(t, models.OperationalModeQualityIssue, h.balance(weak.seller.ID).OperationalMode)
}
