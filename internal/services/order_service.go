package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// Sources recorded in order status history
const (
	SourceCheckout       = "checkout"
	SourcePaymentWebhook = "payment.captured"
	SourceAdmin          = "admin"
	SourceAutoCancel     = "auto_cancel"
	SourceShipment       = "shipment"
	SourceCarrierWebhook = "carrier_webhook"
)

const autoCancelBatchSize = 100

// CreateOrderRequest places an order against one shop
type CreateOrderRequest struct {
	UserID         string                   `json:"userId" binding:"required"`
	ShopID         uuid.UUID                `json:"shopId" binding:"required"`
	Currency       string                   `json:"currency"`
	Items          []CreateOrderItemRequest `json:"items" binding:"required,min=1"`
	IdempotencyKey string                   `json:"-"` // Set from Idempotency-Key header
}

// CreateOrderItemRequest is one requested product line
type CreateOrderItemRequest struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResult is the placed order and the provider checkout it pays through
type CreateOrderResult struct {
	Order         *models.Order         `json:"order"`
	PaymentIntent *models.PaymentIntent `json:"paymentIntent,omitempty"`
	Replayed      bool                  `json:"replayed"`
}

// OrderService owns the order state machine
type OrderService struct {
	store      *repository.Store
	gateway    PaymentGateway
	jobs       JobEnqueuer
	modes      *ModeService
	refunds    *RefundService
	settlement *SettlementService
	alerts     *AlertService
	cfg        *config.Config
	logger     *logrus.Entry
	now        func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	store *repository.Store,
	gateway PaymentGateway,
	jobs JobEnqueuer,
	modes *ModeService,
	refunds *RefundService,
	settlement *SettlementService,
	alerts *AlertService,
	cfg *config.Config,
	logger *logrus.Logger,
) *OrderService {
	return &OrderService{
		store:      store,
		gateway:    gateway,
		jobs:       jobs,
		modes:      modes,
		refunds:    refunds,
		settlement: settlement,
		alerts:     alerts,
		cfg:        cfg,
		logger:     logger.WithField("component", "order_service"),
		now:        utcNow,
	}
}

// CreateOrder places an order: admission control, stock reservation, provider
// checkout and the auto-cancel timer. Repeating a request with the same
// idempotency key returns the original order.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.UserID == "" || req.IdempotencyKey == "" || req.ShopID == uuid.Nil || len(req.Items) == 0 {
		return nil, ErrInvalidRequest
	}
	for _, item := range req.Items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a product and a positive quantity", ErrInvalidRequest)
		}
	}

	existing, err := s.store.Orders.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	if err == nil {
		return s.replayCreate(ctx, existing)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	shop, err := s.store.Sellers.GetShop(ctx, req.ShopID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown shop", ErrInvalidRequest)
		}
		return nil, err
	}
	if !shop.IsActive {
		return nil, ErrProductUnavailable
	}

	order, lines, err := s.buildOrder(ctx, req, shop)
	if err != nil {
		return nil, err
	}

	after := &AfterCommit{}
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		if err := s.admitTx(ctx, tx, order); err != nil {
			return err
		}
		if err := tx.Orders.Create(ctx, order); err != nil {
			return err
		}

		now := s.now()
		if err := tx.Inventory.Reserve(ctx, order.ID, lines, now, now.Add(s.cfg.Orders.PaymentWindow)); err != nil {
			if errors.Is(err, repository.ErrInsufficientStock) {
				return fmt.Errorf("%w: %v", ErrOutOfStock, err)
			}
			return err
		}

		if err := tx.Orders.AddStatusHistory(ctx, &models.OrderStatusHistory{
			OrderID:  order.ID,
			ToStatus: models.OrderStatusCreated,
			Actor:    req.UserID,
			Source:   SourceCheckout,
		}); err != nil {
			return err
		}
		return recordDomainEvent(ctx, tx, s.jobs, after, "order", order.ID, "order.created", models.JSONB{
			"userId":      order.UserID,
			"shopId":      order.ShopID.String(),
			"totalAmount": order.TotalAmount.StringFixed(2),
			"currency":    order.Currency,
		})
	})
	if err != nil {
		if raced, findErr := s.store.Orders.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); findErr == nil {
			return s.replayCreate(ctx, raced)
		}
		return nil, err
	}

	orderID := order.ID
	after.Add("schedule auto-cancel", func(ctx context.Context) error {
		return s.jobs.ScheduleAutoCancel(ctx, orderID, s.cfg.Orders.PaymentWindow)
	})
	after.Run(ctx, s.logger.WithField("order_id", orderID))

	intent, err := s.ensurePaymentIntent(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkout for order %s: %w", order.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"shop_id":  order.ShopID,
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("Order created")

	return &CreateOrderResult{Order: order, PaymentIntent: intent}, nil
}

func (s *OrderService) replayCreate(ctx context.Context, order *models.Order) (*CreateOrderResult, error) {
	result := &CreateOrderResult{Order: order, Replayed: true}
	if order.Status != models.OrderStatusCreated {
		return result, nil
	}
	intent, err := s.ensurePaymentIntent(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkout for order %s: %w", order.ID, err)
	}
	result.PaymentIntent = intent
	return result, nil
}

// buildOrder prices the request from the catalogue
func (s *OrderService) buildOrder(ctx context.Context, req CreateOrderRequest, shop *models.Shop) (*models.Order, []repository.ReservationLine, error) {
	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.store.Inventory.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.cfg.Razorpay.Currency
	}

	order := &models.Order{
		ID:             uuid.New(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		ShopID:         shop.ID,
		Currency:       currency,
		TotalAmount:    decimal.Zero,
	}
	lines := make([]repository.ReservationLine, 0, len(req.Items))
	for _, item := range req.Items {
		product, ok := byID[item.ProductID]
		if !ok || !product.IsActive || product.ShopID != shop.ID {
			return nil, nil, fmt.Errorf("%w: %s", ErrProductUnavailable, item.ProductID)
		}
		lineTotal := models.RoundMoney(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		order.Items = append(order.Items, models.OrderItem{
			OrderID:    order.ID,
			ProductID:  product.ID,
			SellerID:   product.SellerID,
			Quantity:   item.Quantity,
			UnitPrice:  product.Price,
			TotalPrice: lineTotal,
		})
		order.TotalAmount = order.TotalAmount.Add(lineTotal)
		lines = append(lines, repository.ReservationLine{ProductID: product.ID, Quantity: item.Quantity})
	}
	order.TotalAmount = models.RoundMoney(order.TotalAmount)
	return order, lines, nil
}

// admitTx applies the platform freeze and every seller's mode gate
func (s *OrderService) admitTx(ctx context.Context, tx *repository.Store, order *models.Order) error {
	state, err := tx.System.Get(ctx)
	if err != nil {
		return err
	}
	if state.FinanceFrozen && order.TotalAmount.GreaterThanOrEqual(s.cfg.Finance.HighValueOrderThreshold) {
		metrics.AdmissionDenied.WithLabelValues("finance_frozen").Inc()
		return ErrFinanceFrozen
	}
	for _, sellerID := range order.SellerIDs() {
		if err := s.modes.ensureOrderAllowed(ctx, tx, sellerID, order.TotalAmount); err != nil {
			metrics.AdmissionDenied.WithLabelValues(admissionReason(err)).Inc()
			return err
		}
	}
	return nil
}

func admissionReason(err error) string {
	switch {
	case errors.Is(err, ErrSellerBlocked):
		return "seller_blocked"
	case errors.Is(err, ErrSellerIsolated):
		return "seller_isolated"
	case errors.Is(err, ErrSellerDailyCapReached):
		return "daily_cap"
	case errors.Is(err, ErrHighValueOrderBlocked):
		return "high_value"
	default:
		return "error"
	}
}

// ensurePaymentIntent returns the order's open intent, creating the provider order if
// there is none yet
func (s *OrderService) ensurePaymentIntent(ctx context.Context, order *models.Order) (*models.PaymentIntent, error) {
	intent, err := s.store.Payments.GetActiveIntentForOrder(ctx, order.ID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	providerOrder, err := s.gateway.CreateProviderOrder(ctx, clients.ProviderOrderRequest{
		OrderID:  order.ID.String(),
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		UserID:   order.UserID,
	})
	if err != nil {
		return nil, err
	}

	intent = &models.PaymentIntent{
		OrderID:         order.ID,
		Provider:        s.gateway.Name(),
		ProviderOrderID: providerOrder.ID,
		Status:          models.PaymentIntentCreated,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		IdempotencyKey:  fmt.Sprintf("%s:%s", order.ID, providerOrder.ID),
	}
	if err := s.store.Payments.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.store.Orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetOrderHistory lists an order's transitions
func (s *OrderService) GetOrderHistory(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Orders.GetStatusHistory(ctx, id)
}

// MarkOrderPaid moves an order to PAID after payment capture
func (s *OrderService) MarkOrderPaid(ctx context.Context, orderID uuid.UUID, actor, source string) (*models.Order, error) {
	after := &AfterCommit{}
	var order *models.Order
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		var err error
		order, err = s.MarkOrderPaidTx(ctx, tx, orderID, actor, source, after)
		return err
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("order_id", orderID))
	return order, nil
}

// MarkOrderPaidTx commits the order's stock reservation and marks it PAID. It is a
// no-op for orders already past payment. When the stock cannot be committed the
// order ends PAYMENT_STOCK_FAILED and the captured payment is refunded.
func (s *OrderService) MarkOrderPaidTx(ctx context.Context, tx *repository.Store, orderID uuid.UUID, actor, source string, after *AfterCommit) (*models.Order, error) {
	order, err := tx.Orders.LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusPaid, models.OrderStatusConfirmed, models.OrderStatusPaymentStockFailed:
		return order, nil
	}
	if !models.CanTransitionOrderStatus(order.Status, models.OrderStatusPaid) {
		return order, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.OrderStatusPaid)
	}

	now := s.now()
	stockErr := tx.WithTransaction(ctx, func(inner *repository.Store) error {
		return inner.Inventory.CommitReservations(ctx, order.ID, now)
	})
	if stockErr != nil {
		if !isStockFailure(stockErr) {
			return nil, stockErr
		}
		return s.failPaidOrderTx(ctx, tx, order, actor, source, stockErr, after)
	}

	from := order.Status
	order.Status = models.OrderStatusPaid
	order.PaymentStatus = models.PaymentStatusPaid
	order.PaidAt = &now
	if err := s.saveTransitionTx(ctx, tx, order, from, actor, source, "", after); err != nil {
		return nil, err
	}

	after.Add("cancel auto-cancel", func(ctx context.Context) error {
		return s.jobs.CancelAutoCancel(ctx, orderID)
	})
	after.Add("notify order paid", func(ctx context.Context) error {
		return s.jobs.EnqueueOrderNotification(ctx, orderID, "order_paid")
	})
	after.Add("enqueue shipment creation", func(ctx context.Context) error {
		return s.jobs.EnqueueShipmentCreation(ctx, orderID)
	})
	return order, nil
}

func isStockFailure(err error) bool {
	return errors.Is(err, repository.ErrInsufficientStock) ||
		errors.Is(err, repository.ErrReservationExpired) ||
		errors.Is(err, repository.ErrReservationMissing)
}

// failPaidOrderTx is the compensation path for a capture whose stock is gone
func (s *OrderService) failPaidOrderTx(ctx context.Context, tx *repository.Store, order *models.Order, actor, source string, cause error, after *AfterCommit) (*models.Order, error) {
	now := s.now()
	from := order.Status
	order.Status = models.OrderStatusPaymentStockFailed
	order.PaymentStatus = models.PaymentStatusPaid
	order.PaidAt = &now

	if _, err := tx.Inventory.ReleaseReservations(ctx, order.ID); err != nil {
		return nil, err
	}
	if err := s.saveTransitionTx(ctx, tx, order, from, actor, source, cause.Error(), after); err != nil {
		return nil, err
	}
	if _, err := s.refunds.InitiateRefundTx(ctx, tx, order, models.LedgerReasonStockFailure, after); err != nil {
		return nil, err
	}
	if err := s.settlement.ReverseCreditsTx(ctx, tx, order, models.LedgerReasonStockFailure); err != nil {
		return nil, err
	}

	orderID := order.ID
	alert := &models.FinanceAlert{
		Type:     models.AlertTypeLedgerInconsistency,
		Severity: models.AlertSeverityHigh,
		OrderID:  &orderID,
		Message:  fmt.Sprintf("payment captured for order %s but stock could not be committed: %v", order.ID, cause),
		Metadata: models.JSONB{"source": source, "amount": order.TotalAmount.StringFixed(2)},
	}
	if sellers := order.SellerIDs(); len(sellers) == 1 {
		alert.SellerID = &sellers[0]
	}
	if err := s.alerts.RaiseTx(ctx, tx, alert); err != nil {
		return nil, err
	}

	after.Add("cancel auto-cancel", func(ctx context.Context) error {
		return s.jobs.CancelAutoCancel(ctx, orderID)
	})
	after.Add("notify payment stock failure", func(ctx context.Context) error {
		return s.jobs.EnqueueOrderNotification(ctx, orderID, "payment_stock_failed")
	})

	s.logger.WithError(cause).WithField("order_id", order.ID).Warn("Stock commit failed after capture, refunding")
	return order, nil
}

// UpdateOrderStatus applies a direct transition requested by an operator or the
// fulfilment pipeline. PAID and PAYMENT_STOCK_FAILED are only reachable by payment.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, actor, reason string) (*models.Order, error) {
	if models.IsPaymentDrivenStatus(to) {
		return nil, ErrPaymentDrivenTransition
	}
	if _, known := models.ValidOrderTransitions[to]; !known {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}

	after := &AfterCommit{}
	var order *models.Order
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		var err error
		order, err = tx.Orders.LockByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		return s.TransitionTx(ctx, tx, order, to, actor, SourceAdmin, reason, after)
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("order_id", orderID))
	return order, nil
}

// TransitionTx moves a locked order to a new status and applies the status's
// side effects
func (s *OrderService) TransitionTx(ctx context.Context, tx *repository.Store, order *models.Order, to models.OrderStatus, actor, source, reason string, after *AfterCommit) error {
	if !models.CanTransitionOrderStatus(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	now := s.now()
	from := order.Status
	order.Status = to

	switch to {
	case models.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelReason = reason
		if err := s.cancelTx(ctx, tx, order, source, after); err != nil {
			return err
		}
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
		s.settlement.MarkEligibleTx(order)
	}

	if err := s.saveTransitionTx(ctx, tx, order, from, actor, source, reason, after); err != nil {
		return err
	}

	orderID := order.ID
	event := "order_" + strings.ToLower(string(to))
	after.Add("notify "+event, func(ctx context.Context) error {
		return s.jobs.EnqueueOrderNotification(ctx, orderID, event)
	})
	return nil
}

// cancelTx releases stock and refunds whatever was captured
func (s *OrderService) cancelTx(ctx context.Context, tx *repository.Store, order *models.Order, source string, after *AfterCommit) error {
	if _, err := tx.Inventory.ReleaseReservations(ctx, order.ID); err != nil {
		return err
	}
	if err := tx.Inventory.RestockCommitted(ctx, order.ID); err != nil {
		return err
	}

	captured := order.PaymentStatus == models.PaymentStatusPaid
	if !captured {
		_, err := tx.Payments.GetCapturedIntentForOrder(ctx, order.ID)
		switch {
		case err == nil:
			captured = true
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}
	if captured {
		if _, err := s.refunds.InitiateRefundTx(ctx, tx, order, models.LedgerReasonOrderCancelled, after); err != nil {
			return err
		}
		if err := s.settlement.ReverseCreditsTx(ctx, tx, order, models.LedgerReasonOrderCancelled); err != nil {
			return err
		}
	}

	if source != SourceAutoCancel {
		orderID := order.ID
		after.Add("cancel auto-cancel", func(ctx context.Context) error {
			return s.jobs.CancelAutoCancel(ctx, orderID)
		})
	}
	return nil
}

// saveTransitionTx persists the order with its history row and outbox event
func (s *OrderService) saveTransitionTx(ctx context.Context, tx *repository.Store, order *models.Order, from models.OrderStatus, actor, source, reason string, after *AfterCommit) error {
	if err := tx.Orders.Save(ctx, order); err != nil {
		return err
	}
	if err := tx.Orders.AddStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   order.Status,
		Actor:      actor,
		Source:     source,
		Reason:     reason,
	}); err != nil {
		return err
	}
	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()

	return recordDomainEvent(ctx, tx, s.jobs, after, "order", order.ID, "order.status_changed", models.JSONB{
		"from":          string(from),
		"to":            string(order.Status),
		"paymentStatus": string(order.PaymentStatus),
		"source":        source,
	})
}

// AutoCancelOrder cancels an order still unpaid when its payment window closes
func (s *OrderService) AutoCancelOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	after := &AfterCommit{}
	cancelled := false
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		order, err := tx.Orders.LockByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if order.Status != models.OrderStatusCreated {
			return nil
		}
		if err := s.TransitionTx(ctx, tx, order, models.OrderStatusCancelled, ActorAutoCancel, SourceAutoCancel, "payment_window_expired", after); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	after.Run(ctx, s.logger.WithField("order_id", orderID))
	return cancelled, nil
}

// SweepExpiredOrders cancels every unpaid order past the payment window; it backs
// up the per-order delayed jobs
func (s *OrderService) SweepExpiredOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Orders.PaymentWindow)
	orders, err := s.store.Orders.ListStaleUnpaid(ctx, cutoff, autoCancelBatchSize)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, order := range orders {
		ok, err := s.AutoCancelOrder(ctx, order.ID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to auto-cancel order")
			continue
		}
		if ok {
			cancelled++
		}
	}
	if cancelled > 0 {
		s.logger.WithField("cancelled", cancelled).Info("Expired unpaid orders cancelled")
	}
	return cancelled, nil
}
