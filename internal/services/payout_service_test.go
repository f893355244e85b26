package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/models"
)

func TestPayout_LifecycleReducesMismatch(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	h.deliveredOrder(f, "payout", 1)
	h.settle()

	_, err := h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(100)})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	payout, err := h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(60)})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)

	// The first payout is still in flight, so only 30.00 is available.
	_, err = h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(40)})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	completed, err := h.payouts.CompletePayout(h.ctx, payout.ID, "utr-123")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, completed.Status)
	assert.Equal(t, "30.00", h.balance(f.seller.ID).PendingAmount.StringFixed(2))

	_, err = h.payouts.CompletePayout(h.ctx, payout.ID, "utr-123")
	assert.ErrorIs(t, err, ErrPayoutNotPending)

	breakdown, err := h.recon.ComputeMismatch(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "60.00", breakdown.Payouts.StringFixed(2))
	// What the seller is still owed remains in the equation until paid out.
	assert.Equal(t, "30.00", breakdown.Mismatch.StringFixed(2))
	assert.Equal(t, h.balance(f.seller.ID).PendingAmount.StringFixed(2), breakdown.Mismatch.StringFixed(2))
}

func TestPayout_FailureMovesSellerToFinancialRisk(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	require.NoError(t, h.store.Sellers.AdjustPending(h.ctx, f.seller.ID, decimal.NewFromInt(50)))

	payout, err := h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)

	failed, err := h.payouts.FailPayout(h.ctx, payout.ID, "account closed")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusFailed, failed.Status)
	assert.Equal(t, "50.00", h.balance(f.seller.ID).PendingAmount.StringFixed(2))
	assert.Equal(t, int64(1), h.alertCount(models.AlertTypePayoutFailed, nil))
	assert.Contains(t, h.jobs.modeEvaluations, f.seller.ID)

	eval, err := h.modes.EvaluateSeller(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationalModeFinancialRisk, eval.Applied)

	resolved, err := h.payouts.ResolvePayoutFailure(h.ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, resolved.FailureResolved)

	open, err := h.store.Signals.CountOpenPayoutFailures(h.ctx, f.seller.ID)
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestPayout_Gates(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	require.NoError(t, h.store.Sellers.AdjustPending(h.ctx, f.seller.ID, decimal.NewFromInt(50)))

	_, err := h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: uuid.New(), Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrSellerNotFound)

	_, err = h.recon.SetFreeze(h.ctx, true, "audit", "ops")
	require.NoError(t, err)
	_, err = h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrPayoutsFrozen)
	_, err = h.recon.SetFreeze(h.ctx, false, "", "ops")
	require.NoError(t, err)

	balance := h.balance(f.seller.ID)
	balance.RiskFlag = true
	require.NoError(t, h.store.Sellers.SaveBalance(h.ctx, balance))
	_, err = h.payouts.CreatePayout(h.ctx, CreatePayoutRequest{SellerID: f.seller.ID, Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrPayoutHold)

	_, err = h.payouts.FailPayout(h.ctx, uuid.New(), "nope")
	assert.ErrorIs(t, err, ErrPayoutNotFound)
}
