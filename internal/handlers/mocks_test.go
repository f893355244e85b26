package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/middleware"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/services"
	"marketplace-finance-service/internal/testutil"
)

const testAdminToken = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type MockWebhookProcessor struct {
	mock.Mock
}

func (m *MockWebhookProcessor) Handle(ctx context.Context, delivery services.WebhookDelivery) (*services.WebhookResult, error) {
	args := m.Called(ctx, delivery)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.WebhookResult), args.Error(1)
}

type MockFinanceController struct {
	mock.Mock
}

func (m *MockFinanceController) GetState(ctx context.Context) (*models.SystemState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SystemState), args.Error(1)
}

func (m *MockFinanceController) SetFreeze(ctx context.Context, freeze bool, reason, actor string) (*models.SystemState, error) {
	args := m.Called(ctx, freeze, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SystemState), args.Error(1)
}

func (m *MockFinanceController) TriggerRevalidation(ctx context.Context, override bool, actor string) error {
	return m.Called(ctx, override, actor).Error(0)
}

func (m *MockFinanceController) SetJobsEnabled(ctx context.Context, enabled bool, actor string) error {
	return m.Called(ctx, enabled, actor).Error(0)
}

func (m *MockFinanceController) ComputeMismatch(ctx context.Context) (*services.MismatchBreakdown, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MismatchBreakdown), args.Error(1)
}

func (m *MockFinanceController) Reconcile(ctx context.Context) (*services.ReconciliationResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReconciliationResult), args.Error(1)
}

func (m *MockFinanceController) SafeRecover(ctx context.Context) (*services.SafeRecoveryResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SafeRecoveryResult), args.Error(1)
}

type MockAlertManager struct {
	mock.Mock
}

func (m *MockAlertManager) List(ctx context.Context, unresolvedOnly bool, limit int) ([]models.FinanceAlert, error) {
	args := m.Called(ctx, unresolvedOnly, limit)
	return args.Get(0).([]models.FinanceAlert), args.Error(1)
}

func (m *MockAlertManager) Resolve(ctx context.Context, id uuid.UUID, actor string) (*models.FinanceAlert, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FinanceAlert), args.Error(1)
}

type MockDeadLetters struct {
	mock.Mock
}

func (m *MockDeadLetters) List(ctx context.Context, limit int) ([]models.JobFailure, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.JobFailure), args.Error(1)
}

type MockRiskManager struct {
	mock.Mock
}

func (m *MockRiskManager) GetSellerRisk(ctx context.Context, sellerID uuid.UUID) (*services.SellerRiskView, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SellerRiskView), args.Error(1)
}

func (m *MockRiskManager) ListRiskySellers(ctx context.Context, limit int) ([]models.SellerBalance, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.SellerBalance), args.Error(1)
}

func (m *MockRiskManager) OverrideFinancialMode(ctx context.Context, sellerID uuid.UUID, mode models.FinancialMode, reason, actor string) (*models.SellerBalance, error) {
	args := m.Called(ctx, sellerID, mode, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SellerBalance), args.Error(1)
}

func (m *MockRiskManager) ScoreSeller(ctx context.Context, sellerID uuid.UUID) (*services.RiskAssessment, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RiskAssessment), args.Error(1)
}

type MockModeManager struct {
	mock.Mock
}

func (m *MockModeManager) EvaluateSeller(ctx context.Context, sellerID uuid.UUID) (*services.ModeEvaluation, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ModeEvaluation), args.Error(1)
}

func (m *MockModeManager) PublishProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

type MockPayoutManager struct {
	mock.Mock
}

func (m *MockPayoutManager) CreatePayout(ctx context.Context, req services.CreatePayoutRequest) (*models.Payout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *MockPayoutManager) CompletePayout(ctx context.Context, payoutID uuid.UUID, providerReference string) (*models.Payout, error) {
	args := m.Called(ctx, payoutID, providerReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *MockPayoutManager) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	args := m.Called(ctx, payoutID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *MockPayoutManager) ResolvePayoutFailure(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

type MockOrderManager struct {
	mock.Mock
}

func (m *MockOrderManager) CreateOrder(ctx context.Context, req services.CreateOrderRequest) (*services.CreateOrderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CreateOrderResult), args.Error(1)
}

func (m *MockOrderManager) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderManager) GetOrderHistory(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderStatusHistory), args.Error(1)
}

func (m *MockOrderManager) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, actor, reason string) (*models.Order, error) {
	args := m.Called(ctx, orderID, to, actor, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type MockTrackingRefresher struct {
	mock.Mock
}

func (m *MockTrackingRefresher) RefreshTracking(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shipment), args.Error(1)
}

// testServer is the full router over mocked services
type testServer struct {
	router      *gin.Engine
	redis       *miniredis.Miniredis
	payments    *MockWebhookProcessor
	shipping    *MockWebhookProcessor
	finance     *MockFinanceController
	alerts      *MockAlertManager
	deadLetters *MockDeadLetters
	risk        *MockRiskManager
	modes       *MockModeManager
	payouts     *MockPayoutManager
	orders      *MockOrderManager
	tracking    *MockTrackingRefresher
	jobsEnabled bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := testutil.NewTestLogger()
	readCache := cache.NewReadCache(client, time.Minute, logger)

	s := &testServer{
		redis:       mr,
		payments:    &MockWebhookProcessor{},
		shipping:    &MockWebhookProcessor{},
		finance:     &MockFinanceController{},
		alerts:      &MockAlertManager{},
		deadLetters: &MockDeadLetters{},
		risk:        &MockRiskManager{},
		modes:       &MockModeManager{},
		payouts:     &MockPayoutManager{},
		orders:      &MockOrderManager{},
		tracking:    &MockTrackingRefresher{},
		jobsEnabled: true,
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(logger))
	RegisterRoutes(r, Router{
		Webhooks: NewWebhookHandler(s.payments, s.shipping, logger),
		Admin: NewAdminHandler(s.finance, s.alerts, s.deadLetters,
			func() bool { return s.jobsEnabled }, readCache, logger),
		Sellers:    NewSellerHandler(s.risk, s.modes, readCache, logger),
		Payouts:    NewPayoutHandler(s.payouts, readCache, logger),
		Orders:     NewOrderHandler(s.orders, s.tracking, logger),
		AdminToken: testAdminToken,
	})
	s.router = r
	return s
}
