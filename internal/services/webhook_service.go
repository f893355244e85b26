package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// WebhookStatus is the acknowledgement returned to a webhook sender
type WebhookStatus string

const (
	WebhookStatusOK       WebhookStatus = "ok"
	WebhookStatusIgnored  WebhookStatus = "ignored"
	WebhookStatusMismatch WebhookStatus = "mismatch"
)

// Razorpay event types handled by the ingestor
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundProcessed   = "refund.processed"
	EventRefundCompleted   = "refund.completed"
	EventRefundFailed      = "refund.failed"
	EventDisputeCreated    = "payment.dispute.created"
)

// errUnknownReference rolls back an event that names nothing we know about
var errUnknownReference = errors.New("webhook references an unknown entity")

// WebhookDelivery is one raw webhook request
type WebhookDelivery struct {
	Body      []byte
	Signature string
	Timestamp string
	EventID   string
}

// WebhookResult is how a delivery was handled
type WebhookResult struct {
	Status    WebhookStatus `json:"status"`
	EventID   string        `json:"eventId,omitempty"`
	EventType string        `json:"eventType,omitempty"`
	Unknown   bool          `json:"-"`
}

// razorpayEvent is the subset of the Razorpay webhook envelope we read
type razorpayEvent struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
		Dispute *struct {
			Entity razorpayDispute `json:"entity"`
		} `json:"dispute"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type razorpayDispute struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason_code"`
}

// PaymentWebhookService ingests payment provider webhooks exactly once
type PaymentWebhookService struct {
	store      *repository.Store
	orders     *OrderService
	refunds    *RefundService
	settlement *SettlementService
	alerts     *AlertService
	provider   string
	secret     string
	tolerance  time.Duration
	logger     *logrus.Entry
	now        func() time.Time
}

// NewPaymentWebhookService creates a new payment webhook service
func NewPaymentWebhookService(
	store *repository.Store,
	orders *OrderService,
	refunds *RefundService,
	settlement *SettlementService,
	alerts *AlertService,
	cfg *config.Config,
	logger *logrus.Logger,
) *PaymentWebhookService {
	return &PaymentWebhookService{
		store:      store,
		orders:     orders,
		refunds:    refunds,
		settlement: settlement,
		alerts:     alerts,
		provider:   "razorpay",
		secret:     cfg.Razorpay.WebhookSecret,
		tolerance:  cfg.Finance.WebhookTolerance,
		logger:     logger.WithField("component", "payment_webhook"),
		now:        utcNow,
	}
}

// Handle verifies, deduplicates and applies one payment webhook. The dedup row and
// the event's effects commit in the same transaction.
func (s *PaymentWebhookService) Handle(ctx context.Context, delivery WebhookDelivery) (*WebhookResult, error) {
	if err := verifyTimestamp(delivery.Timestamp, s.now(), s.tolerance); err != nil {
		return nil, err
	}
	if err := VerifySignature(s.secret, delivery.Body, delivery.Signature); err != nil {
		return nil, err
	}

	var event razorpayEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}

	eventID := firstNonEmpty(delivery.EventID, event.ID, BodyHash(delivery.Body))
	result := &WebhookResult{EventID: eventID, EventType: event.Event}
	log := s.logger.WithFields(logrus.Fields{"event_id": eventID, "event_type": event.Event})

	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		inserted, err := tx.Payments.InsertProcessedEvent(ctx, &models.ProcessedWebhookEvent{
			Provider:  s.provider,
			EventID:   eventID,
			EventType: event.Event,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Status = WebhookStatusIgnored
			return nil
		}

		status, err := s.apply(ctx, tx, &event, after)
		if err != nil {
			return err
		}
		result.Status = status
		return tx.Payments.SetProcessedEventOutcome(ctx, s.provider, eventID, string(status))
	})
	switch {
	case errors.Is(err, errUnknownReference):
		log.Warn("Webhook references unknown payment entity, not recorded")
		metrics.WebhookEventsTotal.WithLabelValues(s.provider, "unknown").Inc()
		return &WebhookResult{Status: WebhookStatusIgnored, EventID: eventID, EventType: event.Event, Unknown: true}, nil
	case err != nil:
		log.WithError(err).Error("Failed to apply payment webhook")
		return nil, err
	}

	after.Run(ctx, log)
	metrics.WebhookEventsTotal.WithLabelValues(s.provider, string(result.Status)).Inc()
	log.WithField("status", result.Status).Info("Payment webhook handled")
	return result, nil
}

func (s *PaymentWebhookService) apply(ctx context.Context, tx *repository.Store, event *razorpayEvent, after *AfterCommit) (WebhookStatus, error) {
	switch event.Event {
	case EventPaymentCaptured:
		return s.applyCaptured(ctx, tx, event, after)
	case EventPaymentAuthorized:
		return s.applyAuthorized(ctx, tx, event)
	case EventPaymentFailed:
		return s.applyFailed(ctx, tx, event)
	case EventRefundProcessed, EventRefundCompleted:
		return s.applyRefundCompleted(ctx, tx, event)
	case EventRefundFailed:
		return s.applyRefundFailed(ctx, tx, event)
	case EventDisputeCreated:
		return s.applyDispute(ctx, tx, event)
	default:
		return WebhookStatusIgnored, nil
	}
}

// findIntent matches a payment entity to its intent by provider order id, then payment id
func (s *PaymentWebhookService) findIntent(ctx context.Context, tx *repository.Store, payment *razorpayPayment) (*models.PaymentIntent, error) {
	if payment.OrderID != "" {
		intent, err := tx.Payments.GetIntentByProviderOrderID(ctx, payment.OrderID)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if payment.ID != "" {
		intent, err := tx.Payments.GetIntentByProviderPaymentID(ctx, payment.ID)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errUnknownReference
}

func (s *PaymentWebhookService) paymentEntity(event *razorpayEvent) (*razorpayPayment, error) {
	if event.Payload.Payment == nil || (event.Payload.Payment.Entity.ID == "" && event.Payload.Payment.Entity.OrderID == "") {
		return nil, fmt.Errorf("%w: %s without payment entity", ErrInvalidPayload, event.Event)
	}
	return &event.Payload.Payment.Entity, nil
}

func (s *PaymentWebhookService) applyCaptured(ctx context.Context, tx *repository.Store, event *razorpayEvent, after *AfterCommit) (WebhookStatus, error) {
	payment, err := s.paymentEntity(event)
	if err != nil {
		return "", err
	}
	intent, err := s.findIntent(ctx, tx, payment)
	if err != nil {
		return "", err
	}
	order, err := tx.Orders.GetByID(ctx, intent.OrderID)
	if err != nil {
		return "", err
	}

	now := s.now()
	intent.ProviderPaymentID = payment.ID
	intent.Status = models.PaymentIntentCaptured
	intent.CapturedAmountMinor = payment.Amount
	intent.CapturedAt = &now

	expected := models.ToMinorUnits(order.TotalAmount)
	if payment.Amount != expected {
		intent.AmountMismatch = true
		if err := tx.Payments.SaveIntent(ctx, intent); err != nil {
			return "", err
		}
		orderID := order.ID
		alert := &models.FinanceAlert{
			Type:     models.AlertTypeAmountMismatch,
			Severity: models.AlertSeverityHigh,
			OrderID:  &orderID,
			Message:  fmt.Sprintf("captured %d minor units for order %s, expected %d", payment.Amount, order.ID, expected),
			Metadata: models.JSONB{
				"providerPaymentId": payment.ID,
				"capturedMinor":     payment.Amount,
				"expectedMinor":     expected,
			},
		}
		if sellers := order.SellerIDs(); len(sellers) == 1 {
			alert.SellerID = &sellers[0]
		}
		if err := s.alerts.RaiseTx(ctx, tx, alert); err != nil {
			return "", err
		}
		return WebhookStatusMismatch, nil
	}

	if err := tx.Payments.SaveIntent(ctx, intent); err != nil {
		return "", err
	}

	_, err = s.orders.MarkOrderPaidTx(ctx, tx, order.ID, ActorWebhook, SourcePaymentWebhook, after)
	if errors.Is(err, ErrInvalidTransition) {
		return s.lateCapture(ctx, tx, order.ID, after)
	}
	if err != nil {
		return "", err
	}
	return WebhookStatusOK, nil
}

// lateCapture handles money captured for an order that can no longer be paid
func (s *PaymentWebhookService) lateCapture(ctx context.Context, tx *repository.Store, orderID uuid.UUID, after *AfterCommit) (WebhookStatus, error) {
	order, err := tx.Orders.LockByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != models.OrderStatusCancelled {
		return WebhookStatusIgnored, nil
	}
	order.PaymentStatus = models.PaymentStatusPaid
	if err := tx.Orders.Save(ctx, order); err != nil {
		return "", err
	}
	if _, err := s.refunds.InitiateRefundTx(ctx, tx, order, models.LedgerReasonOrderCancelled, after); err != nil {
		return "", err
	}
	s.logger.WithField("order_id", order.ID).Warn("Payment captured for cancelled order, refunding")
	return WebhookStatusOK, nil
}

func (s *PaymentWebhookService) applyAuthorized(ctx context.Context, tx *repository.Store, event *razorpayEvent) (WebhookStatus, error) {
	payment, err := s.paymentEntity(event)
	if err != nil {
		return "", err
	}
	intent, err := s.findIntent(ctx, tx, payment)
	if err != nil {
		return "", err
	}
	if intent.Status != models.PaymentIntentCreated {
		return WebhookStatusIgnored, nil
	}
	intent.Status = models.PaymentIntentAuthorized
	intent.ProviderPaymentID = payment.ID
	if err := tx.Payments.SaveIntent(ctx, intent); err != nil {
		return "", err
	}
	return WebhookStatusOK, nil
}

func (s *PaymentWebhookService) applyFailed(ctx context.Context, tx *repository.Store, event *razorpayEvent) (WebhookStatus, error) {
	payment, err := s.paymentEntity(event)
	if err != nil {
		return "", err
	}
	intent, err := s.findIntent(ctx, tx, payment)
	if err != nil {
		return "", err
	}
	if intent.Status == models.PaymentIntentCaptured {
		return WebhookStatusIgnored, nil
	}
	intent.Status = models.PaymentIntentFailed
	intent.ProviderPaymentID = payment.ID
	intent.FailureReason = firstNonEmpty(payment.ErrorDescription, payment.ErrorCode, "payment failed")
	if err := tx.Payments.SaveIntent(ctx, intent); err != nil {
		return "", err
	}
	return WebhookStatusOK, nil
}

func (s *PaymentWebhookService) refundEntity(ctx context.Context, tx *repository.Store, event *razorpayEvent) (*models.OrderRefund, *razorpayRefund, error) {
	if event.Payload.Refund == nil {
		return nil, nil, fmt.Errorf("%w: %s without refund entity", ErrInvalidPayload, event.Event)
	}
	entity := &event.Payload.Refund.Entity
	found, err := tx.Payments.FindRefundForProviderEvent(ctx, entity.ID, entity.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, errUnknownReference
		}
		return nil, nil, err
	}
	refund, err := tx.Payments.LockRefund(ctx, found.ID)
	if err != nil {
		return nil, nil, err
	}
	if refund.ProviderRefundID == "" {
		refund.ProviderRefundID = entity.ID
	}
	return refund, entity, nil
}

func (s *PaymentWebhookService) applyRefundCompleted(ctx context.Context, tx *repository.Store, event *razorpayEvent) (WebhookStatus, error) {
	refund, _, err := s.refundEntity(ctx, tx, event)
	if err != nil {
		return "", err
	}
	if refund.Status == models.RefundStatusCompleted {
		return WebhookStatusIgnored, nil
	}
	if err := s.refunds.CompleteRefundTx(ctx, tx, refund); err != nil {
		return "", err
	}
	return WebhookStatusOK, nil
}

func (s *PaymentWebhookService) applyRefundFailed(ctx context.Context, tx *repository.Store, event *razorpayEvent) (WebhookStatus, error) {
	refund, entity, err := s.refundEntity(ctx, tx, event)
	if err != nil {
		return "", err
	}
	if refund.Status == models.RefundStatusCompleted || refund.Status == models.RefundStatusFailed {
		return WebhookStatusIgnored, nil
	}
	if err := s.refunds.FailRefundTx(ctx, tx, refund, "provider reported refund "+entity.ID+" failed"); err != nil {
		return "", err
	}
	return WebhookStatusOK, nil
}

func (s *PaymentWebhookService) applyDispute(ctx context.Context, tx *repository.Store, event *razorpayEvent) (WebhookStatus, error) {
	if event.Payload.Dispute == nil || event.Payload.Dispute.Entity.PaymentID == "" {
		return "", fmt.Errorf("%w: dispute without payment id", ErrInvalidPayload)
	}
	dispute := &event.Payload.Dispute.Entity
	intent, err := tx.Payments.GetIntentByProviderPaymentID(ctx, dispute.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", errUnknownReference
		}
		return "", err
	}
	order, err := tx.Orders.LockByID(ctx, intent.OrderID)
	if err != nil {
		return "", err
	}

	amount := models.FromMinorUnits(dispute.Amount)
	if !amount.IsPositive() {
		amount = order.TotalAmount
	}
	shares, err := s.settlement.RecordChargebackTx(ctx, tx, order, amount)
	if err != nil {
		return "", err
	}

	orderID := order.ID
	for _, share := range shares {
		sellerID := share.SellerID
		if err := s.alerts.RaiseTx(ctx, tx, &models.FinanceAlert{
			Type:     models.AlertTypeChargeback,
			Severity: models.AlertSeverityHigh,
			SellerID: &sellerID,
			OrderID:  &orderID,
			Message:  fmt.Sprintf("chargeback %s of %s on order %s", dispute.ID, share.Gross.StringFixed(2), order.ID),
			Metadata: models.JSONB{"disputeId": dispute.ID, "reason": dispute.Reason, "amount": share.Gross.StringFixed(2)},
		}); err != nil {
			return "", err
		}
	}
	return WebhookStatusOK, nil
}

// VerifySignature checks a hex HMAC-SHA256 of the raw body in constant time
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := ComputeSignature(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of body
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// BodyHash is the fallback event id for deliveries without one
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// verifyTimestamp accepts unix seconds within tolerance of now, in either direction
func verifyTimestamp(raw string, now time.Time, tolerance time.Duration) error {
	if raw == "" {
		return ErrStaleWebhook
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return ErrStaleWebhook
	}
	sent := time.Unix(seconds, 0)
	skew := now.Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrStaleWebhook
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
