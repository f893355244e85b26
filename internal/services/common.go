package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// Actor identities used when the system itself drives a change
const (
	ActorSystem          = "system"
	ActorWebhook         = "webhook"
	ActorSafeRecovery    = "safe-recovery"
	ActorAutoCancel      = "auto-cancel"
	ActorShipmentCreator = "shipment-creator"
)

func utcNow() time.Time {
	return time.Now().UTC()
}

// recordDomainEvent writes an outbox row in the caller's transaction and relays it
// once the transaction has committed
func recordDomainEvent(ctx context.Context, tx *repository.Store, jobs JobEnqueuer, after *AfterCommit,
	aggregateType string, aggregateID uuid.UUID, eventType string, payload models.JSONB) error {
	event := &models.DomainEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}
	if err := tx.Orders.AddDomainEvent(ctx, event); err != nil {
		return err
	}
	after.Add("relay domain event "+eventType, func(ctx context.Context) error {
		return jobs.EnqueueDomainEvent(ctx, event.ID)
	})
	return nil
}

// debitSellerTx books money owed back by a seller. A balance driven negative is
// risk-flagged so revalidation has to clear it.
func debitSellerTx(ctx context.Context, tx *repository.Store, sellerID uuid.UUID, amount decimal.Decimal) error {
	balance, err := tx.Sellers.LockBalance(ctx, sellerID)
	if err != nil {
		return err
	}
	balance.PendingAmount = models.RoundMoney(balance.PendingAmount.Sub(amount))
	if balance.PendingAmount.IsNegative() {
		balance.RiskFlag = true
		balance.RiskBlockReason = RevalidationNegativeBalance
	}
	return tx.Sellers.SaveBalance(ctx, balance)
}
