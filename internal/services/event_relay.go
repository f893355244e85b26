package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

const relayBatchSize = 200

// EventPublisher delivers serialized domain events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// domainEventMessage is the wire form of an outbox row
type domainEventMessage struct {
	ID            uuid.UUID    `json:"id"`
	AggregateType string       `json:"aggregateType"`
	AggregateID   uuid.UUID    `json:"aggregateId"`
	EventType     string       `json:"eventType"`
	Payload       models.JSONB `json:"payload"`
	OccurredAt    time.Time    `json:"occurredAt"`
}

// EventRelay publishes outbox rows at least once
type EventRelay struct {
	store     *repository.Store
	publisher EventPublisher
	prefix    string
	logger    *logrus.Entry
	now       func() time.Time
}

// NewEventRelay creates a relay publishing under subjectPrefix, e.g. "marketplace.events"
func NewEventRelay(store *repository.Store, publisher EventPublisher, subjectPrefix string, logger *logrus.Logger) *EventRelay {
	return &EventRelay{
		store:     store,
		publisher: publisher,
		prefix:    subjectPrefix,
		logger:    logger.WithField("component", "event_relay"),
		now:       utcNow,
	}
}

// Subject returns the bus subject for an event type
func (r *EventRelay) Subject(eventType string) string {
	if r.prefix == "" {
		return eventType
	}
	return r.prefix + "." + eventType
}

// PublishDomainEvent relays one outbox row. Already-published rows are skipped.
func (r *EventRelay) PublishDomainEvent(ctx context.Context, eventID uuid.UUID) error {
	event, err := r.store.Orders.GetDomainEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.WithField("event_id", eventID).Warn("Domain event not found, dropping")
			return nil
		}
		return err
	}
	if event.PublishedAt != nil {
		return nil
	}
	return r.publish(ctx, event)
}

// RelayPending publishes every unpublished outbox row, oldest first
func (r *EventRelay) RelayPending(ctx context.Context) (int, error) {
	events, err := r.store.Orders.ListUnpublishedEvents(ctx, relayBatchSize)
	if err != nil {
		return 0, err
	}
	published := 0
	for i := range events {
		if err := r.publish(ctx, &events[i]); err != nil {
			return published, err
		}
		published++
	}
	if published > 0 {
		r.logger.WithField("count", published).Info("Relayed pending domain events")
	}
	return published, nil
}

func (r *EventRelay) publish(ctx context.Context, event *models.DomainEvent) error {
	if r.publisher == nil {
		return nil
	}
	data, err := json.Marshal(domainEventMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		OccurredAt:    event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal domain event %s: %w", event.ID, err)
	}
	if err := r.publisher.Publish(ctx, r.Subject(event.EventType), data); err != nil {
		return fmt.Errorf("failed to publish domain event %s: %w", event.ID, err)
	}
	return r.store.Orders.MarkEventPublished(ctx, event.ID, r.now())
}
