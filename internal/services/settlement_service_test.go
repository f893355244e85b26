package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

func TestSettlement_HoldThenCreditOnce(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.deliveredOrder(f, "settle", 1)

	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	assert.Equal(t, models.SettlementStatusPending, order.SettlementStatus)
	require.NotNil(t, order.SettlementEligibleAt)
	assert.True(t, order.SettlementEligibleAt.After(time.Now().UTC().Add(6*24*time.Hour)))

	// Nothing is due before the hold elapses.
	early, err := h.settlement.RunSweep(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, early.Orders)

	result := h.settle()
	assert.Equal(t, 1, result.Orders)
	assert.Equal(t, 1, result.Credited)

	settled := h.order(order.ID)
	assert.Equal(t, models.SettlementStatusEligible, settled.SettlementStatus)
	assert.Equal(t, "90.00", h.balance(f.seller.ID).PendingAmount.StringFixed(2))

	credited, err := h.settlement.SettleOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, credited)
	assert.Equal(t, "90.00", h.balance(f.seller.ID).PendingAmount.StringFixed(2))

	entries, err := h.store.Ledger.ListEntriesForOrder(h.ctx, order.ID, models.LedgerEntryCredit)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerReasonOrderSettlement, entries[0].Reason)
}

func TestSettlement_RTOBlocksCredit(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.deliveredOrder(f, "rto", 1)
	shipment, err := h.store.Shipments.GetByOrderID(h.ctx, order.ID)
	require.NoError(t, err)

	result, err := h.carriers.Handle(h.ctx, h.signedCarrier("trk_rto_back", map[string]interface{}{
		"awb":            *shipment.AWB,
		"current_status": "RTO INITIATED",
	}))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusOK, result.Status)

	returned := h.order(order.ID)
	assert.True(t, returned.IsRTO)
	assert.Equal(t, models.SettlementStatusRTOBlocked, returned.SettlementStatus)

	sweep := h.settle()
	assert.Zero(t, sweep.Credited)
	assert.True(t, h.balance(f.seller.ID).PendingAmount.IsZero())

	credited, err := h.settlement.SettleOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, credited)
}

func TestSettlement_UndeliveredOrderIsNotEligible(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.paidOrder(f, "in-flight", 1)

	assert.False(t, h.settlement.MarkEligibleTx(order))
	assert.Equal(t, models.SettlementStatusNone, order.SettlementStatus)

	credited, err := h.settlement.SettleOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, credited)
}

func TestSettlement_CancelAfterCreditReverses(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.deliveredOrder(f, "reverse", 1)
	h.settle()

	require.NoError(t, h.store.WithTransaction(h.ctx, func(tx *repository.Store) error {
		locked, err := tx.Orders.LockByID(h.ctx, order.ID)
		if err != nil {
			return err
		}
		return h.settlement.ReverseCreditsTx(h.ctx, tx, locked, models.LedgerReasonOrderCancelled)
	}))
	assert.True(t, h.balance(f.seller.ID).PendingAmount.IsZero())

	refunds, err := h.store.Ledger.ListEntriesForOrder(h.ctx, order.ID, models.LedgerEntryRefund)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "90.00", refunds[0].Amount.StringFixed(2))
}
