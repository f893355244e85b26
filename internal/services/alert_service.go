package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// AlertService raises and resolves finance alerts. Raising a critical alert trips
// the platform freeze in the same transaction.
type AlertService struct {
	store      *repository.Store
	stateCache StateCache
	logger     *logrus.Entry
	now        func() time.Time
}

// NewAlertService creates a new alert service. stateCache may be nil.
func NewAlertService(store *repository.Store, stateCache StateCache, logger *logrus.Logger) *AlertService {
	return &AlertService{
		store:      store,
		stateCache: stateCache,
		logger:     logger.WithField("component", "alert_service"),
		now:        utcNow,
	}
}

// RaiseTx stores an alert inside the caller's transaction
func (s *AlertService) RaiseTx(ctx context.Context, tx *repository.Store, alert *models.FinanceAlert) error {
	if err := tx.Alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("failed to create %s alert: %w", alert.Type, err)
	}
	metrics.FinanceAlerts.WithLabelValues(alert.Type, string(alert.Severity)).Inc()

	if alert.Severity == models.AlertSeverityCritical {
		state, err := tx.System.Lock(ctx)
		if err != nil {
			return err
		}
		if !state.FinanceFrozen || !state.PayoutsFrozen {
			now := s.now()
			state.FinanceFrozen = true
			state.PayoutsFrozen = true
			state.FreezeReason = fmt.Sprintf("critical %s alert: %s", alert.Type, alert.Message)
			state.FrozenAt = &now
			if err := tx.System.Save(ctx, state); err != nil {
				return err
			}
			metrics.FinanceFrozen.Set(1)
			s.logger.WithFields(logrus.Fields{
				"alert_id":   alert.ID,
				"alert_type": alert.Type,
			}).Warn("Critical finance alert froze platform money movement")
		}
	}
	return nil
}

// Raise stores an alert in its own transaction
func (s *AlertService) Raise(ctx context.Context, alert *models.FinanceAlert) error {
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		return s.RaiseTx(ctx, tx, alert)
	})
	if err != nil {
		return err
	}
	if alert.Severity == models.AlertSeverityCritical && s.stateCache != nil {
		s.stateCache.Forget(ctx, cache.SystemPattern)
	}
	return nil
}

// List returns recent alerts
func (s *AlertService) List(ctx context.Context, unresolvedOnly bool, limit int) ([]models.FinanceAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Alerts.List(ctx, unresolvedOnly, limit)
}

// Resolve marks an alert handled by an operator
func (s *AlertService) Resolve(ctx context.Context, id uuid.UUID, actor string) (*models.FinanceAlert, error) {
	var resolved *models.FinanceAlert
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		alert, err := tx.Alerts.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAlertNotFound
			}
			return err
		}
		if alert.Resolved {
			resolved = alert
			return nil
		}

		now := s.now()
		if _, err := tx.Alerts.Resolve(ctx, id, actor, now); err != nil {
			return err
		}
		alert.Resolved = true
		alert.ResolvedBy = actor
		alert.ResolvedAt = &now
		resolved = alert

		return tx.Audit.Create(ctx, models.NewAuditLog(models.ActionAlertResolved, models.ResourceAlert).
			WithActor(models.ActorAdmin, actor).
			WithResource(id.String()).
			WithMetadata(models.JSONB{"type": alert.Type, "severity": string(alert.Severity)}).
			Build())
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
