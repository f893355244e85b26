package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-finance-service/internal/clients"
)

// JobEnqueuer dispatches background work to the job queue
type JobEnqueuer interface {
	EnqueueOrderNotification(ctx context.Context, orderID uuid.UUID, event string) error
	EnqueueShipmentCreation(ctx context.Context, orderID uuid.UUID) error
	EnqueueRefund(ctx context.Context, refundID uuid.UUID) error
	EnqueueDomainEvent(ctx context.Context, eventID uuid.UUID) error
	ScheduleAutoCancel(ctx context.Context, orderID uuid.UUID, delay time.Duration) error
	CancelAutoCancel(ctx context.Context, orderID uuid.UUID) error
	EnqueueSellerRevalidation(ctx context.Context, override bool, actor string) error
	EnqueueSellerModeEvaluation(ctx context.Context, sellerID uuid.UUID) error
}

// PaymentGateway is the payment provider used for orders and refunds
type PaymentGateway interface {
	Name() string
	CreateProviderOrder(ctx context.Context, req clients.ProviderOrderRequest) (*clients.ProviderOrder, error)
	RefundPayment(ctx context.Context, providerPaymentID string, amount decimal.Decimal, notes map[string]string) (*clients.ProviderRefund, error)
}

// ShippingProvider is the opaque carrier aggregator
type ShippingProvider interface {
	CreateShipment(ctx context.Context, req clients.ShipmentRequest) (*clients.ShipmentBooking, error)
	AssignCourier(ctx context.Context, providerShipmentID string) (*clients.CourierAssignment, error)
	SchedulePickup(ctx context.Context, providerShipmentID string) (*time.Time, error)
	FetchTracking(ctx context.Context, awb string) (*clients.TrackingStatus, error)
}

// StateCache drops cached reads once the rows behind them change
type StateCache interface {
	Forget(ctx context.Context, patterns ...string)
}

// QualityProvider supplies the externally computed seller quality score (0-100)
type QualityProvider interface {
	QualityScore(ctx context.Context, sellerID uuid.UUID) (float64, error)
}
