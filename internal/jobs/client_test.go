package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/clients"
	"marketplace-finance-service/internal/testutil"
)

func taskKey(queue, id string) string {
	return "asynq:{" + queue + "}:t:" + id
}

func TestClient_AutoCancelIsScheduledOnceAndRemovable(t *testing.T) {
	mr, _ := newTestRedis(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, 3, testutil.NewTestLogger())
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, client.ScheduleAutoCancel(ctx, orderID, 30*time.Minute))
	assert.True(t, mr.Exists(taskKey(QueueAutomation, AutoCancelTaskID(orderID))))

	// Rescheduling the same order is absorbed by the task id.
	require.NoError(t, client.ScheduleAutoCancel(ctx, orderID, 30*time.Minute))

	require.NoError(t, client.CancelAutoCancel(ctx, orderID))
	assert.False(t, mr.Exists(taskKey(QueueAutomation, AutoCancelTaskID(orderID))))

	// Nothing left to remove.
	require.NoError(t, client.CancelAutoCancel(ctx, orderID))
	require.NoError(t, client.CancelAutoCancel(ctx, uuid.New()))
}

func TestClient_EnqueuesOnTheRightQueues(t *testing.T) {
	mr, _ := newTestRedis(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, 0, testutil.NewTestLogger())
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	refundID := uuid.New()
	orderID := uuid.New()
	require.NoError(t, client.EnqueueRefund(ctx, refundID))
	require.NoError(t, client.EnqueueRefund(ctx, refundID))
	require.NoError(t, client.EnqueueShipmentCreation(ctx, orderID))
	require.NoError(t, client.EnqueueOrderNotification(ctx, orderID, "order_paid"))
	require.NoError(t, client.EnqueueNotificationDelivery(ctx, orderID, &clients.SendNotificationRequest{Channel: "email", TemplateName: "order_paid"}))
	require.NoError(t, client.EnqueueDomainEvent(ctx, uuid.New()))
	require.NoError(t, client.EnqueueSellerModeEvaluation(ctx, uuid.New()))
	require.NoError(t, client.EnqueueSellerRevalidation(ctx, false, "ops"))

	assert.True(t, mr.Exists(taskKey(QueueRefunds, "refund:"+refundID.String())))
	assert.True(t, mr.Exists(taskKey(QueueAutomation, "shipment-create:"+orderID.String())))

	refunds, err := mr.List("asynq:{" + QueueRefunds + "}:pending")
	require.NoError(t, err)
	assert.Len(t, refunds, 1)

	notifications, err := mr.List("asynq:{" + QueueNotifications + "}:pending")
	require.NoError(t, err)
	assert.Len(t, notifications, 1)

	deliveries, err := mr.List("asynq:{" + QueueNotificationDelivery + "}:pending")
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)

	automation, err := mr.List("asynq:{" + QueueAutomation + "}:pending")
	require.NoError(t, err)
	assert.Len(t, automation, 3)

	events, err := mr.List("asynq:{" + QueueEvents + "}:pending")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
