package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// MapCarrierStatus normalizes a carrier status string. Unknown statuses map to "".
func MapCarrierStatus(raw string) models.ShipmentStatus {
	status := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, "_", " ")))
	switch {
	case status == "":
		return ""
	case strings.Contains(status, "RTO") || strings.Contains(status, "RETURN"):
		return models.ShipmentStatusRTO
	case strings.Contains(status, "UNDELIVERED") || strings.Contains(status, "FAILED"):
		return models.ShipmentStatusFailedDelivery
	case status == "DELIVERED":
		return models.ShipmentStatusDelivered
	case strings.Contains(status, "PICKUP"):
		return models.ShipmentStatusPickupScheduled
	case strings.Contains(status, "TRANSIT"), strings.Contains(status, "SHIPPED"),
		strings.Contains(status, "PICKED UP"), strings.Contains(status, "OUT FOR DELIVERY"),
		strings.Contains(status, "REACHED"):
		return models.ShipmentStatusInTransit
	default:
		return ""
	}
}

// ShipmentService books shipments for paid orders and applies carrier status
type ShipmentService struct {
	store      *repository.Store
	provider   ShippingProvider
	orders     *OrderService
	settlement *SettlementService
	jobs       JobEnqueuer
	pickupName string
	logger     *logrus.Entry
	now        func() time.Time
}

// NewShipmentService creates a new shipment service
func NewShipmentService(
	store *repository.Store,
	provider ShippingProvider,
	orders *OrderService,
	settlement *SettlementService,
	jobs JobEnqueuer,
	cfg config.ShiprocketConfig,
	logger *logrus.Logger,
) *ShipmentService {
	return &ShipmentService{
		store:      store,
		provider:   provider,
		orders:     orders,
		settlement: settlement,
		jobs:       jobs,
		pickupName: cfg.PickupName,
		logger:     logger.WithField("component", "shipment_service"),
		now:        utcNow,
	}
}

// CreateShipmentForOrder runs createShipment → assignCourier → schedulePickup for a
// paid order, persisting after each step so a retried job resumes where it failed.
// The order moves to CONFIRMED once pickup is scheduled.
func (s *ShipmentService) CreateShipmentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusConfirmed {
		s.logger.WithFields(logrus.Fields{"order_id": orderID, "status": order.Status}).Info("Order not awaiting shipment, skipping")
		return nil, nil
	}

	shipment, err := s.store.Shipments.GetByOrderID(ctx, orderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		shipment, err = s.book(ctx, order)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if shipment.AWB == nil || *shipment.AWB == "" {
		assignment, err := s.provider.AssignCourier(ctx, shipment.ProviderShipmentID)
		if err != nil {
			return nil, fmt.Errorf("courier assignment failed for order %s: %w", orderID, err)
		}
		awb := assignment.AWB
		shipment.AWB = &awb
		shipment.CourierName = assignment.CourierName
		if err := s.store.Shipments.Save(ctx, shipment); err != nil {
			return nil, err
		}
	}

	if shipment.PickupScheduledAt == nil {
		pickupAt, err := s.provider.SchedulePickup(ctx, shipment.ProviderShipmentID)
		if err != nil {
			return nil, fmt.Errorf("pickup scheduling failed for order %s: %w", orderID, err)
		}
		shipment.PickupScheduledAt = pickupAt
		if shipment.Status == models.ShipmentStatusCreated {
			shipment.Status = models.ShipmentStatusPickupScheduled
		}
		if err := s.store.Shipments.Save(ctx, shipment); err != nil {
			return nil, err
		}
	}

	after := &AfterCommit{}
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		locked, err := tx.Orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.Status != models.OrderStatusPaid {
			return nil
		}
		return s.orders.TransitionTx(ctx, tx, locked, models.OrderStatusConfirmed, ActorShipmentCreator, SourceShipment, "", after)
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("order_id", orderID))

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"awb":      *shipment.AWB,
		"courier":  shipment.CourierName,
	}).Info("Shipment booked")
	return shipment, nil
}

// book creates the provider shipment and its local row
func (s *ShipmentService) book(ctx context.Context, order *models.Order) (*models.Shipment, error) {
	productIDs := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.store.Inventory.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	req := clients.ShipmentRequest{
		OrderID:     order.ID.String(),
		OrderDate:   order.CreatedAt,
		PickupName:  s.pickupName,
		Amount:      order.TotalAmount,
		PaymentMode: "Prepaid",
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, clients.ShipmentItem{
			Name:      names[item.ProductID],
			SKU:       item.ProductID.String(),
			Units:     item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	booking, err := s.provider.CreateShipment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("shipment creation failed for order %s: %w", order.ID, err)
	}

	var sellerID uuid.UUID
	if sellers := order.SellerIDs(); len(sellers) > 0 {
		sellerID = sellers[0]
	}
	shipment := &models.Shipment{
		OrderID:            order.ID,
		SellerID:           sellerID,
		ProviderShipmentID: booking.ProviderShipmentID,
		Status:             models.ShipmentStatusCreated,
	}
	if err := s.store.Shipments.Create(ctx, shipment); err != nil {
		if existing, getErr := s.store.Shipments.GetByOrderID(ctx, order.ID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return shipment, nil
}

// RefreshTracking polls the carrier for a shipment's latest status
func (s *ShipmentService) RefreshTracking(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.store.Shipments.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if shipment.AWB == nil {
		return shipment, nil
	}
	tracking, err := s.provider.FetchTracking(ctx, *shipment.AWB)
	if err != nil {
		return nil, fmt.Errorf("tracking fetch failed for %s: %w", *shipment.AWB, err)
	}
	status := MapCarrierStatus(tracking.CurrentStatus)
	if status == "" {
		return shipment, nil
	}
	at := s.now()
	if tracking.UpdatedAt != nil {
		at = *tracking.UpdatedAt
	}

	var updated *models.Shipment
	after := &AfterCommit{}
	err = s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		locked, err := tx.Shipments.LockByAWB(ctx, *shipment.AWB)
		if err != nil {
			return err
		}
		updated = locked
		return s.ApplyCarrierStatusTx(ctx, tx, locked, status, at, SourceCarrierWebhook, after)
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("order_id", orderID))
	return updated, nil
}

// ApplyCarrierStatusTx records a carrier status on a locked shipment and moves the
// order along with it. DELIVERED and RTO are final for the shipment.
func (s *ShipmentService) ApplyCarrierStatusTx(ctx context.Context, tx *repository.Store, shipment *models.Shipment, status models.ShipmentStatus, at time.Time, source string, after *AfterCommit) error {
	if shipment.Status == models.ShipmentStatusRTO ||
		(shipment.Status == models.ShipmentStatusDelivered && status != models.ShipmentStatusRTO) {
		return nil
	}
	shipment.LastEventAt = &at

	order, err := tx.Orders.LockByID(ctx, shipment.OrderID)
	if err != nil {
		return err
	}

	switch status {
	case models.ShipmentStatusPickupScheduled:
		if shipment.PickupScheduledAt == nil {
			shipment.PickupScheduledAt = &at
		}
		if shipment.Status == models.ShipmentStatusCreated {
			shipment.Status = status
		}

	case models.ShipmentStatusInTransit:
		shipment.Status = status
		if shipment.ShippedAt == nil {
			shipment.ShippedAt = &at
		}
		if err := s.advanceOrder(ctx, tx, order, models.OrderStatusShipped, source, after); err != nil {
			return err
		}

	case models.ShipmentStatusDelivered:
		shipment.Status = status
		shipment.DeliveredAt = &at
		if shipment.ShippedAt == nil {
			shipment.ShippedAt = &at
		}
		if err := s.advanceOrder(ctx, tx, order, models.OrderStatusShipped, source, after); err != nil {
			return err
		}
		if err := s.advanceOrder(ctx, tx, order, models.OrderStatusDelivered, source, after); err != nil {
			return err
		}

	case models.ShipmentStatusFailedDelivery:
		shipment.Status = status
		shipment.FailedAttempts++

	case models.ShipmentStatusRTO:
		shipment.Status = status
		shipment.IsRTO = true
		s.settlement.MarkRTOTx(order)
		if err := tx.Orders.Save(ctx, order); err != nil {
			return err
		}
		if err := recordDomainEvent(ctx, tx, s.jobs, after, "order", order.ID, "order.rto", models.JSONB{
			"awb":              shipmentAWB(shipment),
			"settlementStatus": string(order.SettlementStatus),
		}); err != nil {
			return err
		}
	}

	return tx.Shipments.Save(ctx, shipment)
}

// advanceOrder applies a transition only when the graph allows it from where the
// order stands, so out-of-order carrier events are absorbed
func (s *ShipmentService) advanceOrder(ctx context.Context, tx *repository.Store, order *models.Order, to models.OrderStatus, source string, after *AfterCommit) error {
	if order.Status == to || !models.CanTransitionOrderStatus(order.Status, to) {
		return nil
	}
	return s.orders.TransitionTx(ctx, tx, order, to, ActorWebhook, source, "", after)
}

func shipmentAWB(shipment *models.Shipment) string {
	if shipment.AWB == nil {
		return ""
	}
	return *shipment.AWB
}
