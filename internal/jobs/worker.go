package jobs

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
	"marketplace-finance-service/internal/services"
)

const (
	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 30 * time.Minute
)

// OrderCanceller cancels orders whose payment window expired
type OrderCanceller interface {
	AutoCancelOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

// ShipmentCreator books shipments for paid orders
type ShipmentCreator interface {
	CreateShipmentForOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
}

// RefundProcessor submits refunds to the payment provider
type RefundProcessor interface {
	ProcessRefund(ctx context.Context, refundID uuid.UUID) error
}

// OrderNotifier builds and delivers customer notifications
type OrderNotifier interface {
	BuildOrderNotification(ctx context.Context, orderID uuid.UUID, event string) (*clients.SendNotificationRequest, error)
	DeliverNotification(ctx context.Context, orderID uuid.UUID, req *clients.SendNotificationRequest) error
}

// DeliveryEnqueuer hands a built notification to the delivery queue
type DeliveryEnqueuer interface {
	EnqueueNotificationDelivery(ctx context.Context, orderID uuid.UUID, req *clients.SendNotificationRequest) error
}

// DomainEventPublisher relays outbox rows to the broker
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, eventID uuid.UUID) error
}

// SellerRevalidator re-checks risk-flagged sellers
type SellerRevalidator interface {
	RevalidateSellers(ctx context.Context, override bool, actor string) (*services.RevalidationResult, error)
}

// ModeEvaluator recomputes a seller's operational mode
type ModeEvaluator interface {
	EvaluateSeller(ctx context.Context, sellerID uuid.UUID) (*services.ModeEvaluation, error)
}

// Handlers holds the services the worker dispatches to
type Handlers struct {
	Orders        OrderCanceller
	Shipments     ShipmentCreator
	Refunds       RefundProcessor
	Notifications OrderNotifier
	Deliveries    DeliveryEnqueuer
	Events        DomainEventPublisher
	Revalidation  SellerRevalidator
	Modes         ModeEvaluator
}

// Worker consumes the job queues
type Worker struct {
	server   *asynq.Server
	handlers Handlers
	failures *repository.JobFailureRepository
	logger   *logrus.Logger
}

// NewWorker creates the queue consumer. Failures that exhaust their retries are
// written to the dead-letter log.
func NewWorker(opt asynq.RedisConnOpt, concurrency int, handlers Handlers, failures *repository.JobFailureRepository, logger *logrus.Logger) *Worker {
	w := &Worker{
		handlers: handlers,
		failures: failures,
		logger:   logger,
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueRefunds:              6,
			QueueAutomation:           4,
			QueueEvents:               3,
			QueueNotificationDelivery: 2,
			QueueNotifications:        2,
		},
		RetryDelayFunc:  RetryDelay,
		ErrorHandler:    asynq.ErrorHandlerFunc(w.handleError),
		Logger:          logger,
		ShutdownTimeout: 20 * time.Second,
	})
	return w
}

// Start begins processing tasks in the background
func (w *Worker) Start() error {
	w.logger.Info("Job worker started")
	return w.server.Start(w.Mux())
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("Job worker stopped")
}

// Mux routes every task type to its handler
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(w.observe)
	mux.HandleFunc(TypeOrderAutoCancel, w.handleAutoCancel)
	mux.HandleFunc(TypeOrderNotification, w.handleNotification)
	mux.HandleFunc(TypeNotificationSend, w.handleNotificationDelivery)
	mux.HandleFunc(TypeShipmentCreate, w.handleShipment)
	mux.HandleFunc(TypeRefundProcess, w.handleRefund)
	mux.HandleFunc(TypeDomainEventPublish, w.handleDomainEvent)
	mux.HandleFunc(TypeSellerRevalidation, w.handleRevalidation)
	mux.HandleFunc(TypeSellerModeEvaluate, w.handleModeEvaluation)
	return mux
}

func (w *Worker) observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.JobsProcessed.WithLabelValues(task.Type(), result).Inc()
		w.logger.WithFields(logrus.Fields{
			"task_type":   task.Type(),
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      result,
		}).Debug("Task processed")
		return err
	})
}

func (w *Worker) handleAutoCancel(ctx context.Context, task *asynq.Task) error {
	var p OrderPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	cancelled, err := w.handlers.Orders.AutoCancelOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if cancelled {
		w.logger.WithField("order_id", p.OrderID).Info("Order auto-cancelled after payment window")
	}
	return nil
}

func (w *Worker) handleNotification(ctx context.Context, task *asynq.Task) error {
	var p OrderNotificationPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	req, err := w.handlers.Notifications.BuildOrderNotification(ctx, p.OrderID, p.Event)
	if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrInvalidRequest) {
		return skip(err)
	}
	if err != nil {
		return err
	}
	return w.handlers.Deliveries.EnqueueNotificationDelivery(ctx, p.OrderID, req)
}

func (w *Worker) handleNotificationDelivery(ctx context.Context, task *asynq.Task) error {
	var p NotificationDeliveryPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	return w.handlers.Notifications.DeliverNotification(ctx, p.OrderID, &p.Request)
}

func (w *Worker) handleShipment(ctx context.Context, task *asynq.Task) error {
	var p OrderPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	_, err := w.handlers.Shipments.CreateShipmentForOrder(ctx, p.OrderID)
	if errors.Is(err, services.ErrOrderNotFound) {
		return skip(err)
	}
	return err
}

func (w *Worker) handleRefund(ctx context.Context, task *asynq.Task) error {
	var p RefundPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	return w.handlers.Refunds.ProcessRefund(ctx, p.RefundID)
}

func (w *Worker) handleDomainEvent(ctx context.Context, task *asynq.Task) error {
	var p DomainEventPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	return w.handlers.Events.PublishDomainEvent(ctx, p.EventID)
}

func (w *Worker) handleRevalidation(ctx context.Context, task *asynq.Task) error {
	var p RevalidationPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	result, err := w.handlers.Revalidation.RevalidateSellers(ctx, p.Override, p.Actor)
	if errors.Is(err, services.ErrFinanceFrozen) {
		// The platform froze after the trigger; the next scheduled pass retries.
		return skip(err)
	}
	if err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"checked": result.Checked,
		"cleared": result.Cleared,
		"actor":   p.Actor,
	}).Info("Seller revalidation completed")
	return nil
}

func (w *Worker) handleModeEvaluation(ctx context.Context, task *asynq.Task) error {
	var p SellerPayload
	if err := decodePayload(task, &p); err != nil {
		return err
	}
	_, err := w.handlers.Modes.EvaluateSeller(ctx, p.SellerID)
	if errors.Is(err, services.ErrSellerNotFound) {
		return skip(err)
	}
	return err
}

func skip(err error) error {
	return errors.Join(err, asynq.SkipRetry)
}

// RetryDelay is exponential backoff with jitter: 5s, 10s, 20s ... capped at 30m
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	delay := time.Duration(float64(baseRetryDelay) * math.Pow(2, float64(n)))
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	taskID, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)

	entry := w.logger.WithError(err).WithFields(logrus.Fields{
		"task_type": task.Type(),
		"task_id":   taskID,
		"queue":     queue,
		"attempt":   retried + 1,
	})

	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		entry.Warn("Task failed, will retry")
		return
	}
	entry.Error("Task exhausted retries, moving to dead letter")
	w.recordDeadLetter(ctx, task, taskID, queue, retried+1, err)
}

func (w *Worker) recordDeadLetter(ctx context.Context, task *asynq.Task, taskID, queue string, attempts int, cause error) {
	metrics.JobsDeadLettered.WithLabelValues(task.Type()).Inc()
	if w.failures == nil {
		return
	}
	failure := &models.JobFailure{
		TaskID:   taskID,
		TaskType: task.Type(),
		Queue:    queue,
		Payload:  string(task.Payload()),
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	// The task context may already be past its deadline.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.failures.Create(saveCtx, failure); err != nil {
		w.logger.WithError(err).WithField("task_type", task.Type()).Error("Failed to record dead-lettered task")
	}
}
