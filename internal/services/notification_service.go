package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/repository"
)

// NotificationService turns order lifecycle events into customer notifications
type NotificationService struct {
	store  *repository.Store
	client clients.NotificationClient
	logger *logrus.Entry
}

// NewNotificationService creates a new notification service. A nil client makes
// every notification a logged no-op.
func NewNotificationService(store *repository.Store, client clients.NotificationClient, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		store:  store,
		client: client,
		logger: logger.WithField("component", "notification_service"),
	}
}

// BuildOrderNotification renders the request for an order event such as "order_paid"
func (s *NotificationService) BuildOrderNotification(ctx context.Context, orderID uuid.UUID, event string) (*clients.SendNotificationRequest, error) {
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if event == "" {
		return nil, fmt.Errorf("%w: notification event is required", ErrInvalidRequest)
	}

	variables := map[string]interface{}{
		"orderId":       order.ID.String(),
		"status":        string(order.Status),
		"paymentStatus": string(order.PaymentStatus),
		"totalAmount":   order.TotalAmount.StringFixed(2),
		"currency":      order.Currency,
		"itemCount":     len(order.Items),
	}
	if order.CancelReason != "" {
		variables["cancelReason"] = order.CancelReason
	}
	if shipment, err := s.store.Shipments.GetByOrderID(ctx, orderID); err == nil {
		variables["awb"] = shipmentAWB(shipment)
		variables["courierName"] = shipment.CourierName
	}

	return &clients.SendNotificationRequest{
		Channel:      "email",
		RecipientID:  order.UserID,
		TemplateName: strings.ToLower(event),
		Variables:    variables,
	}, nil
}

// SendOrderNotification builds and delivers an order notification in one step
func (s *NotificationService) SendOrderNotification(ctx context.Context, orderID uuid.UUID, event string) error {
	req, err := s.BuildOrderNotification(ctx, orderID, event)
	if err != nil {
		return err
	}
	return s.DeliverNotification(ctx, orderID, req)
}

// DeliverNotification hands a built notification to the notification service
func (s *NotificationService) DeliverNotification(ctx context.Context, orderID uuid.UUID, req *clients.SendNotificationRequest) error {
	if s.client == nil {
		s.logger.WithFields(logrus.Fields{"order_id": orderID, "template": req.TemplateName}).Debug("Notification client not configured, skipping")
		return nil
	}
	if err := s.client.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send %s for order %s: %w", req.TemplateName, orderID, err)
	}
	s.logger.WithFields(logrus.Fields{"order_id": orderID, "template": req.TemplateName}).Info("Notification sent")
	return nil
}
