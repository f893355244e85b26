package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/services"
)

var _ services.JobEnqueuer = (*Client)(nil)

// Client enqueues background work onto the asynq queues
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	logger    *logrus.Logger
}

// RedisOpt builds the asynq connection options from the queue config
func RedisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewClient creates a queue client
func NewClient(opt asynq.RedisConnOpt, maxRetry int, logger *logrus.Logger) *Client {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		maxRetry:  maxRetry,
		logger:    logger,
	}
}

// Close releases the redis connections
func (c *Client) Close() error {
	if err := c.inspector.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close queue inspector")
	}
	return c.client.Close()
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	opts = append([]asynq.Option{asynq.MaxRetry(c.maxRetry)}, opts...)
	task, err := newTask(taskType, payload, opts...)
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		// A task with the same id is already queued; the work is covered.
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			c.logger.WithField("task_type", taskType).Debug("Task already queued")
			return nil
		}
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	c.logger.WithFields(logrus.Fields{
		"task_type": taskType,
		"task_id":   info.ID,
		"queue":     info.Queue,
	}).Debug("Task enqueued")
	return nil
}

// EnqueueOrderNotification queues a customer notification for an order event
func (c *Client) EnqueueOrderNotification(ctx context.Context, orderID uuid.UUID, event string) error {
	return c.enqueue(ctx, TypeOrderNotification,
		OrderNotificationPayload{OrderID: orderID, Event: event},
		asynq.Queue(QueueNotifications),
	)
}

// EnqueueNotificationDelivery queues transport of a built notification
func (c *Client) EnqueueNotificationDelivery(ctx context.Context, orderID uuid.UUID, req *clients.SendNotificationRequest) error {
	return c.enqueue(ctx, TypeNotificationSend,
		NotificationDeliveryPayload{OrderID: orderID, Request: *req},
		asynq.Queue(QueueNotificationDelivery),
	)
}

// EnqueueShipmentCreation queues shipment booking for a paid order
func (c *Client) EnqueueShipmentCreation(ctx context.Context, orderID uuid.UUID) error {
	return c.enqueue(ctx, TypeShipmentCreate,
		OrderPayload{OrderID: orderID},
		asynq.Queue(QueueAutomation),
		asynq.TaskID("shipment-create:"+orderID.String()),
	)
}

// EnqueueRefund queues a provider refund
func (c *Client) EnqueueRefund(ctx context.Context, refundID uuid.UUID) error {
	return c.enqueue(ctx, TypeRefundProcess,
		RefundPayload{RefundID: refundID},
		asynq.Queue(QueueRefunds),
		asynq.TaskID("refund:"+refundID.String()),
	)
}

// EnqueueDomainEvent queues publication of an outbox row
func (c *Client) EnqueueDomainEvent(ctx context.Context, eventID uuid.UUID) error {
	return c.enqueue(ctx, TypeDomainEventPublish,
		DomainEventPayload{EventID: eventID},
		asynq.Queue(QueueEvents),
	)
}

// ScheduleAutoCancel schedules the payment-window expiry for a new order
func (c *Client) ScheduleAutoCancel(ctx context.Context, orderID uuid.UUID, delay time.Duration) error {
	return c.enqueue(ctx, TypeOrderAutoCancel,
		OrderPayload{OrderID: orderID},
		asynq.Queue(QueueAutomation),
		asynq.TaskID(AutoCancelTaskID(orderID)),
		asynq.ProcessIn(delay),
	)
}

// CancelAutoCancel removes a pending auto-cancel job. A job that already ran
// or was never scheduled is not an error.
func (c *Client) CancelAutoCancel(ctx context.Context, orderID uuid.UUID) error {
	err := c.inspector.DeleteTask(QueueAutomation, AutoCancelTaskID(orderID))
	switch {
	case err == nil:
		c.logger.WithField("order_id", orderID).Debug("Auto-cancel job removed")
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return nil
	default:
		// An active job re-checks the order status under its row lock.
		c.logger.WithError(err).WithField("order_id", orderID).Warn("Failed to remove auto-cancel job")
		return nil
	}
}

// EnqueueSellerRevalidation queues an on-demand revalidation of risk-flagged sellers
func (c *Client) EnqueueSellerRevalidation(ctx context.Context, override bool, actor string) error {
	return c.enqueue(ctx, TypeSellerRevalidation,
		RevalidationPayload{Override: override, Actor: actor},
		asynq.Queue(QueueAutomation),
		asynq.Unique(time.Minute),
	)
}

// EnqueueSellerModeEvaluation queues an operational mode re-evaluation
func (c *Client) EnqueueSellerModeEvaluation(ctx context.Context, sellerID uuid.UUID) error {
	return c.enqueue(ctx, TypeSellerModeEvaluate,
		SellerPayload{SellerID: sellerID},
		asynq.Queue(QueueAutomation),
	)
}
