package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// RefundService drives provider refunds for orders that cannot be fulfilled
type RefundService struct {
	store   *repository.Store
	gateway PaymentGateway
	jobs    JobEnqueuer
	alerts  *AlertService
	logger  *logrus.Entry
	now     func() time.Time
}

// NewRefundService creates a new refund service
func NewRefundService(store *repository.Store, gateway PaymentGateway, jobs JobEnqueuer, alerts *AlertService, logger *logrus.Logger) *RefundService {
	return &RefundService{
		store:   store,
		gateway: gateway,
		jobs:    jobs,
		alerts:  alerts,
		logger:  logger.WithField("component", "refund_service"),
		now:     utcNow,
	}
}

// InitiateRefundTx records the single refund of an order and queues the provider
// call for after commit. An existing refund is returned unchanged.
func (s *RefundService) InitiateRefundTx(ctx context.Context, tx *repository.Store, order *models.Order, reason string, after *AfterCommit) (*models.OrderRefund, error) {
	refund := &models.OrderRefund{
		OrderID: order.ID,
		Amount:  order.TotalAmount,
		Status:  models.RefundStatusInitiated,
		Reason:  reason,
	}

	intent, err := tx.Payments.GetCapturedIntentForOrder(ctx, order.ID)
	switch {
	case err == nil:
		refund.ProviderPaymentID = intent.ProviderPaymentID
		if intent.CapturedAmountMinor > 0 {
			refund.Amount = models.FromMinorUnits(intent.CapturedAmountMinor)
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}

	created, err := tx.Payments.CreateRefundIfAbsent(ctx, refund)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	if !created {
		return tx.Payments.GetRefundByOrderID(ctx, order.ID)
	}

	refundID := refund.ID
	after.Add("enqueue refund", func(ctx context.Context) error {
		return s.jobs.EnqueueRefund(ctx, refundID)
	})
	return refund, nil
}

// ProcessRefund asks the provider to refund an INITIATED refund. Provider errors
// are returned so the job runtime retries with backoff.
func (s *RefundService) ProcessRefund(ctx context.Context, refundID uuid.UUID) error {
	refund, err := s.store.Payments.GetRefundByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.WithField("refund_id", refundID).Warn("Refund not found, skipping")
			return nil
		}
		return err
	}
	if refund.Status != models.RefundStatusInitiated {
		return nil
	}

	if refund.ProviderPaymentID == "" {
		return s.failRefund(ctx, refund.ID, "no captured payment to refund")
	}

	providerRefund, err := s.gateway.RefundPayment(ctx, refund.ProviderPaymentID, refund.Amount, map[string]string{
		"order_id":  refund.OrderID.String(),
		"refund_id": refund.ID.String(),
		"reason":    refund.Reason,
	})
	if err != nil {
		return fmt.Errorf("provider refund failed for %s: %w", refund.ID, err)
	}

	return s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		locked, err := tx.Payments.LockRefund(ctx, refund.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.RefundStatusInitiated {
			return nil
		}
		locked.ProviderRefundID = providerRefund.ID
		locked.Status = models.RefundStatusProcessing
		if strings.EqualFold(providerRefund.Status, "processed") {
			return s.CompleteRefundTx(ctx, tx, locked)
		}
		return tx.Payments.SaveRefund(ctx, locked)
	})
}

// CompleteRefundTx marks a refund done and the order's payment refunded
func (s *RefundService) CompleteRefundTx(ctx context.Context, tx *repository.Store, refund *models.OrderRefund) error {
	if refund.Status == models.RefundStatusCompleted {
		return nil
	}
	now := s.now()
	refund.Status = models.RefundStatusCompleted
	refund.CompletedAt = &now
	refund.FailureReason = ""
	if err := tx.Payments.SaveRefund(ctx, refund); err != nil {
		return err
	}

	order, err := tx.Orders.LockByID(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	order.PaymentStatus = models.PaymentStatusRefunded
	return tx.Orders.Save(ctx, order)
}

// FailRefundTx records a provider refund failure and raises an alert
func (s *RefundService) FailRefundTx(ctx context.Context, tx *repository.Store, refund *models.OrderRefund, reason string) error {
	if refund.Status == models.RefundStatusCompleted || refund.Status == models.RefundStatusFailed {
		return nil
	}
	refund.Status = models.RefundStatusFailed
	refund.FailureReason = reason
	if err := tx.Payments.SaveRefund(ctx, refund); err != nil {
		return err
	}

	orderID := refund.OrderID
	return s.alerts.RaiseTx(ctx, tx, &models.FinanceAlert{
		Type:     models.AlertTypeRefundFailed,
		Severity: models.AlertSeverityHigh,
		OrderID:  &orderID,
		Message:  fmt.Sprintf("refund %s failed: %s", refund.ID, reason),
		Metadata: models.JSONB{"refundId": refund.ID.String(), "amount": refund.Amount.StringFixed(2)},
	})
}

func (s *RefundService) failRefund(ctx context.Context, refundID uuid.UUID, reason string) error {
	return s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		refund, err := tx.Payments.LockRefund(ctx, refundID)
		if err != nil {
			return err
		}
		return s.FailRefundTx(ctx, tx, refund, reason)
	})
}
