package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/metrics"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/repository"
)

const settlementBatchSize = 200

// SellerShare is one seller's cut of an order
type SellerShare struct {
	SellerID uuid.UUID
	Gross    decimal.Decimal
	Net      decimal.Decimal
}

// ComputeSellerShares splits an order total across its sellers by item value.
// Each seller's net is the gross share less commission, rounded to the cent; the
// platform commission is whatever the rounded seller nets leave over.
func ComputeSellerShares(order *models.Order, commissionRate decimal.Decimal) ([]SellerShare, decimal.Decimal) {
	itemsTotal := decimal.Zero
	perSeller := make(map[uuid.UUID]decimal.Decimal)
	for _, item := range order.Items {
		itemsTotal = itemsTotal.Add(item.TotalPrice)
		perSeller[item.SellerID] = perSeller[item.SellerID].Add(item.TotalPrice)
	}
	if itemsTotal.IsZero() {
		return nil, models.RoundMoney(order.TotalAmount)
	}

	keep := decimal.NewFromInt(1).Sub(commissionRate)
	shares := make([]SellerShare, 0, len(perSeller))
	paid := decimal.Zero
	for _, sellerID := range order.SellerIDs() {
		gross := models.RoundMoney(order.TotalAmount.Mul(perSeller[sellerID]).Div(itemsTotal))
		net := models.RoundMoney(gross.Mul(keep))
		shares = append(shares, SellerShare{SellerID: sellerID, Gross: gross, Net: net})
		paid = paid.Add(net)
	}
	return shares, models.RoundMoney(order.TotalAmount.Sub(paid))
}

// SweepResult summarises a settlement sweep
type SweepResult struct {
	Orders   int `json:"orders"`
	Credited int `json:"credited"`
	Failed   int `json:"failed"`
}

// SettlementService moves delivered orders through the settlement hold and
// credits seller ledgers
type SettlementService struct {
	store  *repository.Store
	cfg    config.SettlementConfig
	logger *logrus.Entry
	now    func() time.Time
}

// NewSettlementService creates a new settlement service
func NewSettlementService(store *repository.Store, cfg config.SettlementConfig, logger *logrus.Logger) *SettlementService {
	return &SettlementService{
		store:  store,
		cfg:    cfg,
		logger: logger.WithField("component", "settlement_service"),
		now:    utcNow,
	}
}

// MarkEligibleTx starts the settlement hold for a delivered, paid, non-RTO order.
// The caller saves the order.
func (s *SettlementService) MarkEligibleTx(order *models.Order) bool {
	if order.Status != models.OrderStatusDelivered || order.PaymentStatus != models.PaymentStatusPaid || order.IsRTO {
		return false
	}
	if order.SettlementStatus != models.SettlementStatusNone {
		return false
	}
	eligibleAt := s.now().Add(time.Duration(s.cfg.HoldDays) * 24 * time.Hour)
	order.SettlementEligibleAt = &eligibleAt
	order.SettlementStatus = models.SettlementStatusPending
	return true
}

// MarkRTOTx flags an order as returned to origin, excluding it from settlement.
// The caller saves the order.
func (s *SettlementService) MarkRTOTx(order *models.Order) {
	order.IsRTO = true
	if order.SettlementStatus != models.SettlementStatusEligible {
		order.SettlementStatus = models.SettlementStatusRTOBlocked
	}
}

// RunSweep credits every order whose hold period has elapsed
func (s *SettlementService) RunSweep(ctx context.Context) (*SweepResult, error) {
	orders, err := s.store.Orders.ListDueForSettlement(ctx, s.now(), settlementBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders due for settlement: %w", err)
	}

	result := &SweepResult{}
	for _, order := range orders {
		credited, err := s.SettleOrder(ctx, order.ID)
		if err != nil {
			result.Failed++
			s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to settle order")
			continue
		}
		result.Orders++
		result.Credited += credited
	}

	s.logger.WithFields(logrus.Fields{
		"orders":   result.Orders,
		"credited": result.Credited,
		"failed":   result.Failed,
	}).Info("Settlement sweep finished")
	return result, nil
}

// SettleOrder writes one CREDIT entry per seller share and marks the order ELIGIBLE.
// Re-running it inserts nothing; the unique ledger key absorbs the duplicate.
func (s *SettlementService) SettleOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	credited := 0
	err := s.store.WithTransaction(ctx, func(tx *repository.Store) error {
		order, err := tx.Orders.LockByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.SettlementStatus != models.SettlementStatusPending && order.SettlementStatus != models.SettlementStatusEligible {
			return nil
		}
		if order.IsRTO {
			order.SettlementStatus = models.SettlementStatusRTOBlocked
			return tx.Orders.Save(ctx, order)
		}

		shares, commission := ComputeSellerShares(order, s.cfg.CommissionRate)
		for _, share := range shares {
			inserted, err := tx.Ledger.InsertEntryIfAbsent(ctx, &models.LedgerEntry{
				SellerID: share.SellerID,
				OrderID:  order.ID,
				Type:     models.LedgerEntryCredit,
				Reason:   models.LedgerReasonOrderSettlement,
				Amount:   share.Net,
			})
			if err != nil {
				return fmt.Errorf("failed to credit seller %s: %w", share.SellerID, err)
			}
			if !inserted {
				continue
			}
			if err := tx.Sellers.AdjustPending(ctx, share.SellerID, share.Net); err != nil {
				return err
			}
			credited++
		}

		if _, err := tx.Ledger.InsertCommissionIfAbsent(ctx, &models.PlatformCommission{
			OrderID: order.ID,
			Amount:  commission,
			Rate:    s.cfg.CommissionRate,
		}); err != nil {
			return fmt.Errorf("failed to record commission: %w", err)
		}

		order.SettlementStatus = models.SettlementStatusEligible
		return tx.Orders.Save(ctx, order)
	})
	if err != nil {
		return 0, err
	}
	metrics.SettlementCredits.Add(float64(credited))
	return credited, nil
}

// ReverseCreditsTx books a compensating REFUND entry for every seller already
// credited on the order
func (s *SettlementService) ReverseCreditsTx(ctx context.Context, tx *repository.Store, order *models.Order, reason string) error {
	credits, err := tx.Ledger.ListEntriesForOrder(ctx, order.ID, models.LedgerEntryCredit)
	if err != nil {
		return err
	}
	for _, credit := range credits {
		inserted, err := tx.Ledger.InsertEntryIfAbsent(ctx, &models.LedgerEntry{
			SellerID: credit.SellerID,
			OrderID:  order.ID,
			Type:     models.LedgerEntryRefund,
			Reason:   reason,
			Amount:   credit.Amount,
		})
		if err != nil {
			return err
		}
		if inserted {
			if err := debitSellerTx(ctx, tx, credit.SellerID, credit.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordChargebackTx debits each seller's gross share of a disputed amount
func (s *SettlementService) RecordChargebackTx(ctx context.Context, tx *repository.Store, order *models.Order, amount decimal.Decimal) ([]SellerShare, error) {
	disputed := *order
	disputed.TotalAmount = amount
	shares, _ := ComputeSellerShares(&disputed, decimal.Zero)

	var booked []SellerShare
	for _, share := range shares {
		inserted, err := tx.Ledger.InsertEntryIfAbsent(ctx, &models.LedgerEntry{
			SellerID: share.SellerID,
			OrderID:  order.ID,
			Type:     models.LedgerEntryChargeback,
			Reason:   models.LedgerReasonPaymentChargeback,
			Amount:   share.Gross,
		})
		if err != nil {
			return nil, err
		}
		if !inserted {
			continue
		}
		if err := debitSellerTx(ctx, tx, share.SellerID, share.Gross); err != nil {
			return nil, err
		}
		booked = append(booked, share)
	}
	return booked, nil
}
