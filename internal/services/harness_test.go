package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
	"marketplace-finance-service/internal/testutil"
)

const (
	testPaymentSecret  = "whsec_test"
	testShippingSecret = "shipsec_test"
)

// fakeJobs records every enqueue instead of talking to a queue
type fakeJobs struct {
	mu              sync.Mutex
	notifications   []string
	shipments       []uuid.UUID
	refunds         []uuid.UUID
	events          []uuid.UUID
	autoCancels     []uuid.UUID
	cancelledTimers []uuid.UUID
	revalidations   int
	modeEvaluations []uuid.UUID
}

func (j *fakeJobs) EnqueueOrderNotification(_ context.Context, orderID uuid.UUID, event string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notifications = append(j.notifications, orderID.String()+":"+event)
	return nil
}

func (j *fakeJobs) EnqueueShipmentCreation(_ context.Context, orderID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.shipments = append(j.shipments, orderID)
	return nil
}

func (j *fakeJobs) EnqueueRefund(_ context.Context, refundID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.refunds = append(j.refunds, refundID)
	return nil
}

func (j *fakeJobs) EnqueueDomainEvent(_ context.Context, eventID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, eventID)
	return nil
}

func (j *fakeJobs) ScheduleAutoCancel(_ context.Context, orderID uuid.UUID, _ time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.autoCancels = append(j.autoCancels, orderID)
	return nil
}

func (j *fakeJobs) CancelAutoCancel(_ context.Context, orderID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelledTimers = append(j.cancelledTimers, orderID)
	return nil
}

func (j *fakeJobs) EnqueueSellerRevalidation(_ context.Context, _ bool, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.revalidations++
	return nil
}

func (j *fakeJobs) EnqueueSellerModeEvaluation(_ context.Context, sellerID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.modeEvaluations = append(j.modeEvaluations, sellerID)
	return nil
}

func (j *fakeJobs) hasNotification(orderID uuid.UUID, event string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, n := range j.notifications {
		if n == orderID.String()+":"+event {
			return true
		}
	}
	return false
}

// fakeGateway stands in for the payment provider
type fakeGateway struct {
	mu           sync.Mutex
	orders       int
	refundCalls  int
	refundErr    error
	refundStatus string
}

func (g *fakeGateway) Name() string { return "razorpay" }

func (g *fakeGateway) CreateProviderOrder(_ context.Context, req clients.ProviderOrderRequest) (*clients.ProviderOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return &clients.ProviderOrder{
		ID:          fmt.Sprintf("order_test_%d", g.orders),
		AmountMinor: models.ToMinorUnits(req.Amount),
		Status:      "created",
	}, nil
}

func (g *fakeGateway) RefundPayment(_ context.Context, paymentID string, _ decimal.Decimal, _ map[string]string) (*clients.ProviderRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	status := g.refundStatus
	if status == "" {
		status = "processed"
	}
	return &clients.ProviderRefund{ID: "rfnd_" + paymentID, Status: status}, nil
}

// fakeShipping stands in for the carrier aggregator
type fakeShipping struct {
	mu        sync.Mutex
	bookings  int
	assignErr error
	tracking  map[string]string
}

func (f *fakeShipping) CreateShipment(_ context.Context, req clients.ShipmentRequest) (*clients.ShipmentBooking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings++
	return &clients.ShipmentBooking{ProviderOrderID: "sr-" + req.OrderID, ProviderShipmentID: fmt.Sprintf("shp-%d", f.bookings)}, nil
}

func (f *fakeShipping) AssignCourier(_ context.Context, providerShipmentID string) (*clients.CourierAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	return &clients.CourierAssignment{AWB: "AWB-" + providerShipmentID, CourierName: "Delhivery"}, nil
}

func (f *fakeShipping) SchedulePickup(_ context.Context, _ string) (*time.Time, error) {
	at := time.Now().UTC().Add(24 * time.Hour)
	return &at, nil
}

func (f *fakeShipping) FetchTracking(_ context.Context, awb string) (*clients.TrackingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.tracking[awb]
	if !ok {
		return nil, errors.New("awb not found")
	}
	return &clients.TrackingStatus{AWB: awb, CurrentStatus: status}, nil
}

type fakeQuality struct {
	scores map[uuid.UUID]float64
}

func (q *fakeQuality) QualityScore(_ context.Context, sellerID uuid.UUID) (float64, error) {
	if score, ok := q.scores[sellerID]; ok {
		return score, nil
	}
	return 100, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *repository.Store
	cfg      *config.Config
	runtime  *config.RuntimeSettings
	jobs     *fakeJobs
	gateway  *fakeGateway
	shipping *fakeShipping
	quality  *fakeQuality

	alerts     *AlertService
	settlement *SettlementService
	refunds    *RefundService
	modes      *ModeService
	orders     *OrderService
	risk       *RiskService
	recon      *ReconciliationService
	payouts    *PayoutService
	payments   *PaymentWebhookService
	shipments  *ShipmentService
	carriers   *ShippingWebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Razorpay.WebhookSecret = testPaymentSecret
	cfg.Shiprocket.WebhookSecret = testShippingSecret
	cfg.Finance.HighValueOrderThreshold = decimal.NewFromInt(5000)

	store := repository.NewStore(testutil.NewTestDB(t))
	logger := testutil.NewTestLogger()

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		cfg:      cfg,
		runtime:  config.NewRuntimeSettings(cfg),
		jobs:     &fakeJobs{},
		gateway:  &fakeGateway{},
		shipping: &fakeShipping{tracking: map[string]string{}},
		quality:  &fakeQuality{scores: map[uuid.UUID]float64{}},
	}
	h.alerts = NewAlertService(store, nil, logger)
	h.settlement = NewSettlementService(store, cfg.Settlement, logger)
	h.refunds = NewRefundService(store, h.gateway, h.jobs, h.alerts, logger)
	h.modes = NewModeService(store, h.quality, cfg, logger)
	h.orders = NewOrderService(store, h.gateway, h.jobs, h.modes, h.refunds, h.settlement, h.alerts, cfg, logger)
	h.risk = NewRiskService(store, h.jobs, cfg.Risk, logger)
	h.recon = NewReconciliationService(store, h.alerts, h.jobs, h.runtime, nil, cfg, logger)
	h.payouts = NewPayoutService(store, h.alerts, h.jobs, logger)
	h.payments = NewPaymentWebhookService(store, h.orders, h.refunds, h.settlement, h.alerts, cfg, logger)
	h.shipments = NewShipmentService(store, h.shipping, h.orders, h.settlement, h.jobs, cfg.Shiprocket, logger)
	h.carriers = NewShippingWebhookService(store, h.shipments, cfg.Shiprocket, logger)
	return h
}

type fixture struct {
	seller  *models.Seller
	shop    *models.Shop
	product *models.Product
}

// seedSeller creates a seller with one active shop and product
func (h *harness) seedSeller(price string, stock int) *fixture {
	h.t.Helper()
	seller := &models.Seller{Name: "Acme Traders", Email: "ops@acme.test"}
	require.NoError(h.t, h.store.Sellers.CreateSeller(h.ctx, seller))
	require.NoError(h.t, h.store.Sellers.EnsureBalance(h.ctx, seller.ID))

	shop := &models.Shop{SellerID: seller.ID, Name: "Acme", VisibilityMultiplier: 1, IsActive: true}
	require.NoError(h.t, h.store.Sellers.CreateShop(h.ctx, shop))

	product := &models.Product{
		SellerID: seller.ID,
		ShopID:   shop.ID,
		Name:     "Brass lamp",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(h.t, h.store.DB().Create(product).Error)
	return &fixture{seller: seller, shop: shop, product: product}
}

func (h *harness) placeOrder(f *fixture, key string, quantity int) *CreateOrderResult {
	h.t.Helper()
	result, err := h.orders.CreateOrder(h.ctx, CreateOrderRequest{
		UserID:         "user-1",
		ShopID:         f.shop.ID,
		Items:          []CreateOrderItemRequest{{ProductID: f.product.ID, Quantity: quantity}},
		IdempotencyKey: key,
	})
	require.NoError(h.t, err)
	return result
}

func (h *harness) signedPayment(eventID string, envelope map[string]interface{}) WebhookDelivery {
	h.t.Helper()
	body, err := json.Marshal(envelope)
	require.NoError(h.t, err)
	return WebhookDelivery{
		Body:      body,
		Signature: ComputeSignature(testPaymentSecret, body),
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		EventID:   eventID,
	}
}

func paymentEnvelope(event string, entity map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"event":   event,
		"payload": map[string]interface{}{"payment": map[string]interface{}{"entity": entity}},
	}
}

// capture delivers a payment.captured webhook for an intent
func (h *harness) capture(eventID string, intent *models.PaymentIntent, amountMinor int64) *WebhookResult {
	h.t.Helper()
	delivery := h.signedPayment(eventID, paymentEnvelope(EventPaymentCaptured, map[string]interface{}{
		"id":       "pay_" + intent.ProviderOrderID,
		"order_id": intent.ProviderOrderID,
		"amount":   amountMinor,
		"currency": "INR",
		"status":   "captured",
	}))
	result, err := h.payments.Handle(h.ctx, delivery)
	require.NoError(h.t, err)
	return result
}

func (h *harness) signedCarrier(eventID string, payload map[string]interface{}) WebhookDelivery {
	h.t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(h.t, err)
	return WebhookDelivery{
		Body:      body,
		Signature: "sha256=" + ComputeSignature(testShippingSecret, body),
		EventID:   eventID,
	}
}

func (h *harness) order(id uuid.UUID) *models.Order {
	h.t.Helper()
	order, err := h.store.Orders.GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return order
}

func (h *harness) balance(sellerID uuid.UUID) *models.SellerBalance {
	h.t.Helper()
	balance, err := h.store.Sellers.GetBalance(h.ctx, sellerID)
	require.NoError(h.t, err)
	return balance
}

func (h *harness) alertCount(alertType string, orderID *uuid.UUID) int64 {
	h.t.Helper()
	count, err := h.store.Alerts.CountByType(h.ctx, alertType, orderID)
	require.NoError(h.t, err)
	return count
}

// paidOrder places and captures one order
func (h *harness) paidOrder(f *fixture, key string, quantity int) *models.Order {
	h.t.Helper()
	placed := h.placeOrder(f, key, quantity)
	result := h.capture("evt_"+key, placed.PaymentIntent, models.ToMinorUnits(placed.Order.TotalAmount))
	require.Equal(h.t, WebhookStatusOK, result.Status)
	return h.order(placed.Order.ID)
}

// deliveredOrder takes an order through shipment and a DELIVERED carrier push
func (h *harness) deliveredOrder(f *fixture, key string, quantity int) *models.Order {
	h.t.Helper()
	order := h.paidOrder(f, key, quantity)
	shipment, err := h.shipments.CreateShipmentForOrder(h.ctx, order.ID)
	require.NoError(h.t, err)
	result, err := h.carriers.Handle(h.ctx, h.signedCarrier("trk_"+key, map[string]interface{}{
		"awb":            *shipment.AWB,
		"current_status": "DELIVERED",
	}))
	require.NoError(h.t, err)
	require.Equal(h.t, WebhookStatusOK, result.Status)
	return h.order(order.ID)
}

// settle runs the settlement sweep past the hold period
func (h *harness) settle() *SweepResult {
	h.t.Helper()
	h.settlement.now = func() time.Time {
		return time.Now().UTC().Add(time.Duration(h.cfg.Settlement.HoldDays+1) * 24 * time.Hour)
	}
	result, err := h.settlement.RunSweep(h.ctx)
	require.NoError(h.t, err)
	return result
}
