package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

// CreatePayoutRequest asks to move part of a seller's pending balance out
type CreatePayoutRequest struct {
	SellerID uuid.UUID       `json:"sellerId" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
}

// PayoutService moves settled seller money out of the platform
type PayoutService struct {
	store  *repository.Store
	alerts *AlertService
	jobs   JobEnqueuer
	logger *logrus.Entry
	now    func() time.Time
}

// NewPayoutService creates a new payout service
func NewPayoutService(store *repository.Store, alerts *AlertService, jobs JobEnqueuer, logger *logrus.Logger) *PayoutService {
	return &PayoutService{
		store:  store,
		alerts: alerts,
		jobs:   jobs,
		logger: logger.WithField("component", "payout_service"),
		now:    utcNow,
	}
}

// CreatePayout opens a PENDING payout. Rejected while payouts are frozen, while the
// seller is on payout hold, or beyond the seller's available balance.
func (s *PayoutService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*models.Payout, error) {
	amount := models.RoundMoney(req.Amount)
	if req.SellerID == uuid.Nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payout needs a seller and a positive amount", ErrInvalidRequest)
	}
	if _, err := s.store.Sellers.GetSeller(ctx, req.SellerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}

	payout := &models.Payout{SellerID: req.SellerID, Amount: amount, Status: models.PayoutStatusPending}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		state, err := tx.System.Get(ctx)
		if err != nil {
			return err
		}
		if state.PayoutsFrozen {
			return ErrPayoutsFrozen
		}

		balance, err := tx.Sellers.LockBalance(ctx, req.SellerID)
		if err != nil {
			return err
		}
		if balance.PayoutHold || balance.RiskFlag {
			return ErrPayoutHold
		}
		inFlight, err := tx.Ledger.SumInFlightPayouts(ctx, req.SellerID)
		if err != nil {
			return err
		}
		if balance.PendingAmount.Sub(inFlight).LessThan(amount) {
			return ErrInsufficientBalance
		}
		return tx.Ledger.CreatePayout(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"payout_id": payout.ID,
		"seller_id": payout.SellerID,
		"amount":    payout.Amount.StringFixed(2),
	}).Info("Payout created")
	return payout, nil
}

// CompletePayout records a provider-confirmed payout and debits the seller
func (s *PayoutService) CompletePayout(ctx context.Context, payoutID uuid.UUID, providerReference string) (*models.Payout, error) {
	var payout *models.Payout
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		var err error
		payout, err = s.lockPending(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		now := s.now()
		payout.Status = models.PayoutStatusCompleted
		payout.ProviderReference = providerReference
		payout.CompletedAt = &now
		if err := tx.Ledger.SavePayout(ctx, payout); err != nil {
			return err
		}
		return debitSellerTx(ctx, tx, payout.SellerID, payout.Amount)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("payout_id", payoutID).Info("Payout completed")
	return payout, nil
}

// FailPayout records a failed payout; the open failure puts the seller in FINANCIAL_RISK
func (s *PayoutService) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	var payout *models.Payout
	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		var err error
		payout, err = s.lockPending(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		payout.Status = models.PayoutStatusFailed
		payout.FailureReason = reason
		if err := tx.Ledger.SavePayout(ctx, payout); err != nil {
			return err
		}

		sellerID := payout.SellerID
		if err := s.alerts.RaiseTx(ctx, tx, &models.FinanceAlert{
			Type:     models.AlertTypePayoutFailed,
			Severity: models.AlertSeverityHigh,
			SellerID: &sellerID,
			Message:  fmt.Sprintf("payout %s failed: %s", payout.ID, reason),
			Metadata: models.JSONB{"payoutId": payout.ID.String(), "amount": payout.Amount.StringFixed(2)},
		}); err != nil {
			return err
		}
		after.Add("evaluate operational mode", func(ctx context.Context) error {
			return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("payout_id", payoutID))
	s.logger.WithFields(logrus.Fields{"payout_id": payoutID, "reason": reason}).Warn("Payout failed")
	return payout, nil
}

// ResolvePayoutFailure closes an operator-handled payout failure
func (s *PayoutService) ResolvePayoutFailure(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	var payout *models.Payout
	after := &AfterCommit{}
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		var err error
		payout, err = tx.Ledger.LockPayout(ctx, payoutID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPayoutNotFound
			}
			return err
		}
		if payout.Status != models.PayoutStatusFailed || payout.FailureResolved {
			return nil
		}
		payout.FailureResolved = true
		sellerID := payout.SellerID
		after.Add("evaluate operational mode", func(ctx context.Context) error {
			return s.jobs.EnqueueSellerModeEvaluation(ctx, sellerID)
		})
		return tx.Ledger.SavePayout(ctx, payout)
	})
	if err != nil {
		return nil, err
	}
	after.Run(ctx, s.logger.WithField("payout_id", payoutID))
	return payout, nil
}

func (s *PayoutService) lockPending(ctx context.Context, tx *repository.Store, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := tx.Ledger.LockPayout(ctx, payoutID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	if payout.Status != models.PayoutStatusPending {
		return nil, ErrPayoutNotPending
	}
	return payout, nil
}
