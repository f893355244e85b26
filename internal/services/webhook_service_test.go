package services

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/models"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := ComputeSignature("secret", body)

	assert.NoError(t, VerifySignature("secret", body, sig))
	assert.NoError(t, VerifySignature("secret", body, " "+sig+" "))
	assert.ErrorIs(t, VerifySignature("secret", body, "deadbeef"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("secret", body, ""), ErrInvalidSignature)
}

func TestVerifyTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tolerance := 5 * time.Minute

	assert.NoError(t, verifyTimestamp(strconv.FormatInt(now.Unix(), 10), now, tolerance))
	assert.NoError(t, verifyTimestamp(strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10), now, tolerance))
	assert.NoError(t, verifyTimestamp(strconv.FormatInt(now.Add(4*time.Minute).Unix(), 10), now, tolerance))
	assert.ErrorIs(t, verifyTimestamp(strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10), now, tolerance), ErrStaleWebhook)
	assert.ErrorIs(t, verifyTimestamp(strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10), now, tolerance), ErrStaleWebhook)
	assert.ErrorIs(t, verifyTimestamp("", now, tolerance), ErrStaleWebhook)
	assert.ErrorIs(t, verifyTimestamp("yesterday", now, tolerance), ErrStaleWebhook)
}

func TestPaymentWebhook_RejectsBadDeliveries(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	placed := h.placeOrder(f, "bad-deliveries", 1)

	delivery := h.signedPayment("evt_bad", paymentEnvelope(EventPaymentCaptured, map[string]interface{}{
		"id": "pay_1", "order_id": placed.PaymentIntent.ProviderOrderID, "amount": 10000,
	}))

	tampered := delivery
	tampered.Signature = ComputeSignature("wrong", delivery.Body)
	_, err := h.payments.Handle(h.ctx, tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stale := delivery
	stale.Timestamp = strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	_, err = h.payments.Handle(h.ctx, stale)
	assert.ErrorIs(t, err, ErrStaleWebhook)

	garbage := h.signedPayment("evt_garbage", map[string]interface{}{"payload": map[string]interface{}{}})
	_, err = h.payments.Handle(h.ctx, garbage)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	count, err := h.store.Payments.CountProcessedEvents(h.ctx, "razorpay", "evt_bad")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, models.OrderStatusCreated, h.order(placed.Order.ID).Status)
}

func TestPaymentWebhook_DuplicateDeliveryIsIgnored(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	placed := h.placeOrder(f, "dup", 1)

	first := h.capture("evt_dup", placed.PaymentIntent, 10000)
	second := h.capture("evt_dup", placed.PaymentIntent, 10000)

	assert.Equal(t, WebhookStatusOK, first.Status)
	assert.Equal(t, WebhookStatusIgnored, second.Status)
	assert.False(t, second.Unknown)

	count, err := h.store.Payments.CountProcessedEvents(h.ctx, "razorpay", "evt_dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	history, err := h.orders.GetOrderHistory(h.ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPaymentWebhook_FallsBackToBodyHashForEventID(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	placed := h.placeOrder(f, "hash-id", 1)

	delivery := h.signedPayment("", paymentEnvelope(EventPaymentAuthorized, map[string]interface{}{
		"id": "pay_hash", "order_id": placed.PaymentIntent.ProviderOrderID, "amount": 10000,
	}))
	result, err := h.payments.Handle(h.ctx, delivery)
	require.NoError(t, err)
	assert.Equal(t, BodyHash(delivery.Body), result.EventID)

	replay, err := h.payments.Handle(h.ctx, delivery)
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusIgnored, replay.Status)
}

func TestPaymentWebhook_AmountMismatchLeavesOrderUnpaid(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	placed := h.placeOrder(f, "short-pay", 1)

	result := h.capture("evt_short", placed.PaymentIntent, 9000)
	assert.Equal(t, WebhookStatusMismatch, result.Status)

	order := h.order(placed.Order.ID)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	orderID := order.ID
	assert.Equal(t, int64(1), h.alertCount(models.AlertTypeAmountMismatch, &orderID))

	intent, err := h.store.Payments.GetIntentByProviderOrderID(h.ctx, placed.PaymentIntent.ProviderOrderID)
	require.NoError(t, err)
	assert.True(t, intent.AmountMismatch)
	assert.Equal(t, int64(9000), intent.CapturedAmountMinor)

	// The payment window lapses; the captured money goes back.
	h.orders.now = func() time.Time { return time.Now().UTC().Add(h.cfg.Orders.PaymentWindow + time.Minute) }
	cancelled, err := h.orders.AutoCancelOrder(h.ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	refund, err := h.store.Payments.GetRefundByOrderID(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "90.00", refund.Amount.StringFixed(2))
}

func TestPaymentWebhook_UnknownReferenceIsNotRecorded(t *testing.T) {
	h := newHarness(t)

	result, err := h.payments.Handle(h.ctx, h.signedPayment("evt_unknown", paymentEnvelope(EventPaymentCaptured, map[string]interface{}{
		"id": "pay_ghost", "order_id": "order_ghost", "amount": 100,
	})))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusIgnored, result.Status)
	assert.True(t, result.Unknown)

	count, err := h.store.Payments.CountProcessedEvents(h.ctx, "razorpay", "evt_unknown")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPaymentWebhook_LateCaptureOnCancelledOrderRefunds(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	placed := h.placeOrder(f, "late", 1)

	_, err := h.orders.UpdateOrderStatus(h.ctx, placed.Order.ID, models.OrderStatusCancelled, "user-1", "changed_mind")
	require.NoError(t, err)

	result := h.capture("evt_late", placed.PaymentIntent, 10000)
	assert.Equal(t, WebhookStatusOK, result.Status)

	order := h.order(placed.Order.ID)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)

	refund, err := h.store.Payments.GetRefundByOrderID(h.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusInitiated, refund.Status)
}

func TestPaymentWebhook_RefundLifecycle(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.paidOrder(f, "refund-flow", 1)
	_, err := h.orders.UpdateOrderStatus(h.ctx, order.ID, models.OrderStatusCancelled, "ops", "")
	require.NoError(t, err)

	refund, err := h.store.Payments.GetRefundByOrderID(h.ctx, order.ID)
	require.NoError(t, err)

	h.gateway.refundStatus = "pending"
	require.NoError(t, h.refunds.ProcessRefund(h.ctx, refund.ID))
	refund, err = h.store.Payments.GetRefundByID(h.ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessing, refund.Status)

	body := map[string]interface{}{
		"event": EventRefundProcessed,
		"payload": map[string]interface{}{"refund": map[string]interface{}{"entity": map[string]interface{}{
			"id": refund.ProviderRefundID, "payment_id": refund.ProviderPaymentID, "amount": 10000, "status": "processed",
		}}},
	}
	result, err := h.payments.Handle(h.ctx, h.signedPayment("evt_refund_done", body))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusOK, result.Status)

	refund, err = h.store.Payments.GetRefundByID(h.ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusCompleted, refund.Status)
	assert.Equal(t, models.PaymentStatusRefunded, h.order(order.ID).PaymentStatus)
}

func TestRefund_ProviderFailureIsRetriedThenAlerted(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.paidOrder(f, "refund-fail", 1)
	_, err := h.orders.UpdateOrderStatus(h.ctx, order.ID, models.OrderStatusCancelled, "ops", "")
	require.NoError(t, err)
	refund, err := h.store.Payments.GetRefundByOrderID(h.ctx, order.ID)
	require.NoError(t, err)

	h.gateway.refundErr = assert.AnError
	assert.Error(t, h.refunds.ProcessRefund(h.ctx, refund.ID))
	refund, err = h.store.Payments.GetRefundByID(h.ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusInitiated, refund.Status)

	body := map[string]interface{}{
		"event": EventRefundFailed,
		"payload": map[string]interface{}{"refund": map[string]interface{}{"entity": map[string]interface{}{
			"id": "rfnd_gone", "payment_id": refund.ProviderPaymentID, "amount": 10000, "status": "failed",
		}}},
	}
	result, err := h.payments.Handle(h.ctx, h.signedPayment("evt_refund_failed", body))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusOK, result.Status)

	orderID := order.ID
	assert.Equal(t, int64(1), h.alertCount(models.AlertTypeRefundFailed, &orderID))
}

func TestPaymentWebhook_DisputeDebitsSeller(t *testing.T) {
	h := newHarness(t)
	f := h.seedSeller("100.00", 5)
	order := h.deliveredOrder(f, "dispute", 1)
	h.settle()
	require.Equal(t, "90.00", h.balance(f.seller.ID).PendingAmount.StringFixed(2))

	intent, err := h.store.Payments.GetCapturedIntentForOrder(h.ctx, order.ID)
	require.NoError(t, err)
	body := map[string]interface{}{
		"event": EventDisputeCreated,
		"payload": map[string]interface{}{"dispute": map[string]interface{}{"entity": map[string]interface{}{
			"id": "disp_1", "payment_id": intent.ProviderPaymentID, "amount": 10000, "reason_code": "fraud",
		}}},
	}
	result, err := h.payments.Handle(h.ctx, h.signedPayment("evt_dispute", body))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusOK, result.Status)

	balance := h.balance(f.seller.ID)
	assert.Equal(t, "-10.00", balance.PendingAmount.StringFixed(2))
	assert.True(t, balance.RiskFlag)
	assert.Equal(t, RevalidationNegativeBalance, balance.RiskBlockReason)

	orderID := order.ID
	assert.Equal(t, int64(1), h.alertCount(models.AlertTypeChargeback, &orderID))

	entries, err := h.store.Ledger.ListEntriesForOrder(h.ctx, order.ID, models.LedgerEntryChargeback)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "100.00", entries[0].Amount.StringFixed(2))
}
