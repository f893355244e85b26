package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// carrierTimeLayouts are the timestamp formats seen in carrier status pushes
var carrierTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02 01 2006 15:04:05",
}

// shiprocketEvent is the subset of the Shiprocket tracking push we read
type shiprocketEvent struct {
	AWB              json.RawMessage `json:"awb"`
	CurrentStatus    string          `json:"current_status"`
	ShipmentStatus   string          `json:"shipment_status"`
	CurrentTimestamp string          `json:"current_timestamp"`
	OrderID          string          `json:"order_id"`
}

// awb accepts the tracking number as either a JSON string or number
func (e *shiprocketEvent) awb() string {
	raw := strings.TrimSpace(string(e.AWB))
	return strings.Trim(raw, `"`)
}

// ShippingWebhookService ingests carrier tracking webhooks exactly once
type ShippingWebhookService struct {
	store     *repository.Store
	shipments *ShipmentService
	provider  string
	secret    string
	logger    *logrus.Entry
	now       func() time.Time
}

// NewShippingWebhookService creates a new shipping webhook service
func NewShippingWebhookService(store *repository.Store, shipments *ShipmentService, cfg config.ShiprocketConfig, logger *logrus.Logger) *ShippingWebhookService {
	return &ShippingWebhookService{
		store:     store,
		shipments: shipments,
		provider:  "shiprocket",
		secret:    cfg.WebhookSecret,
		logger:    logger.WithField("component", "shipping_webhook"),
		now:       utcNow,
	}
}

// Handle verifies and applies one carrier status push. Unknown AWBs are not
// recorded so a later retry can still land once the shipment exists.
func (s *ShippingWebhookService) Handle(ctx context.Context, delivery WebhookDelivery) (*WebhookResult, error) {
	signature := strings.TrimSpace(delivery.Signature)
	for _, prefix := range []string{"sha256=", "hmac-sha256="} {
		signature = strings.TrimPrefix(signature, prefix)
	}
	if err := VerifySignature(s.secret, delivery.Body, signature); err != nil {
		return nil, err
	}

	var event shiprocketEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	awb := event.awb()
	rawStatus := firstNonEmpty(event.CurrentStatus, event.ShipmentStatus)
	if awb == "" || rawStatus == "" {
		return nil, fmt.Errorf("%w: awb and current_status are required", ErrInvalidPayload)
	}

	eventID := firstNonEmpty(delivery.EventID, BodyHash(delivery.Body))
	result := &WebhookResult{EventID: eventID, EventType: rawStatus}
	log := s.logger.WithFields(logrus.Fields{"event_id": eventID, "awb": awb, "carrier_status": rawStatus})

	status := MapCarrierStatus(rawStatus)
	at := s.parseTimestamp(event.CurrentTimestamp)

	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		shipment, err := tx.Shipments.LockByAWB(ctx, awb)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errUnknownReference
			}
			return err
		}

		inserted, err := tx.Payments.InsertProcessedEvent(ctx, &models.ProcessedWebhookEvent{
			Provider:  s.provider,
			EventID:   eventID,
			EventType: rawStatus,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Status = WebhookStatusIgnored
			return nil
		}

		result.Status = WebhookStatusOK
		if status == "" {
			result.Status = WebhookStatusIgnored
		} else if err := s.shipments.ApplyCarrierStatusTx(ctx, tx, shipment, status, at, SourceCarrierWebhook, after); err != nil {
			return err
		}
		return tx.Payments.SetProcessedEventOutcome(ctx, s.provider, eventID, string(result.Status))
	})
	switch {
	case errors.Is(err, errUnknownReference):
		log.Warn("Carrier webhook for unknown AWB, not recorded")
		metrics.WebhookEventsTotal.WithLabelValues(s.provider, "unknown").Inc()
		return &WebhookResult{Status: WebhookStatusIgnored, EventID: eventID, EventType: rawStatus, Unknown: true}, nil
	case err != nil:
		log.WithError(err).Error("Failed to apply carrier webhook")
		return nil, err
	}

	after.Run(ctx, log)
	metrics.WebhookEventsTotal.WithLabelValues(s.provider, string(result.Status)).Inc()
	log.WithField("status", result.Status).Info("Carrier webhook handled")
	return result, nil
}

func (s *ShippingWebhookService) parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range carrierTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return s.now()
}
