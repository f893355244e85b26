// Package jobs runs background work on an asynq queue and the recurring
// finance sweeps on a cron scheduler.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"marketplace-finance-service/internal/clients"
)

// Queue names. Weights are set on the worker server.
const (
	QueueAutomation           = "automation"
	QueueRefunds              = "refunds"
	QueueNotifications        = "notifications"
	QueueNotificationDelivery = "notification-delivery"
	QueueEvents               = "events"
)

// Task types
const (
	TypeOrderAutoCancel    = "order:auto_cancel"
	TypeOrderNotification  = "order:notification"
	TypeNotificationSend   = "notification:send"
	TypeShipmentCreate     = "shipment:create"
	TypeRefundProcess      = "refund:process"
	TypeDomainEventPublish = "event:publish"
	TypeSellerRevalidation = "seller:revalidate"
	TypeSellerModeEvaluate = "seller:evaluate_mode"
)

// AutoCancelTaskID is the deterministic id of an order's auto-cancel job, so
// it can be removed once the order is paid.
func AutoCancelTaskID(orderID uuid.UUID) string {
	return "order-auto-cancel:" + orderID.String()
}

// OrderPayload identifies an order
type OrderPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// OrderNotificationPayload carries the lifecycle event to notify about
type OrderNotificationPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Event   string    `json:"event"`
}

// NotificationDeliveryPayload is a built notification waiting for transport
type NotificationDeliveryPayload struct {
	OrderID uuid.UUID                       `json:"order_id"`
	Request clients.SendNotificationRequest `json:"request"`
}

// RefundPayload identifies a refund
type RefundPayload struct {
	RefundID uuid.UUID `json:"refund_id"`
}

// DomainEventPayload identifies an outbox row
type DomainEventPayload struct {
	EventID uuid.UUID `json:"event_id"`
}

// RevalidationPayload carries the admin trigger
type RevalidationPayload struct {
	Override bool   `json:"override"`
	Actor    string `json:"actor"`
}

// SellerPayload identifies a seller
type SellerPayload struct {
	SellerID uuid.UUID `json:"seller_id"`
}

func newTask(taskType string, payload interface{}, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

// decodePayload unmarshals a task payload. A malformed payload will never
// succeed, so it skips the retry cycle.
func decodePayload(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}
