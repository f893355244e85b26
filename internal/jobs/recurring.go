package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/services"
)

const schedulerActor = "scheduler"

// Sweeps are the services driven by recurring jobs
type Sweeps struct {
	Reconciliation *services.ReconciliationService
	Risk           *services.RiskService
	Modes          *services.ModeService
	Orders         *services.OrderService
	Settlement     *services.SettlementService
	Events         *services.EventRelay
}

// RegisterFinanceJobs schedules every recurring finance sweep
func RegisterFinanceJobs(s *Scheduler, sw Sweeps, cfg *config.Config) error {
	jobs := []JobConfig{
		{
			Name:     "reconciliation",
			Schedule: cfg.Finance.ReconciliationSchedule,
			Run: func(ctx context.Context) (string, error) {
				result, err := sw.Reconciliation.Reconcile(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("mismatch=%s frozen=%t", result.Mismatch.StringFixed(2), result.Frozen), nil
			},
		},
		{
			Name:     "safe-recovery",
			Schedule: cfg.Finance.SafeRecoverySchedule,
			Run: func(ctx context.Context) (string, error) {
				result, err := sw.Reconciliation.SafeRecover(ctx)
				if err != nil {
					return "", err
				}
				switch {
				case result.Skipped:
					return "not frozen", nil
				case result.Recovered:
					return fmt.Sprintf("recovered cleared=%d", result.ClearedSellers), nil
				default:
					return fmt.Sprintf("blocked by %v", result.BlockingConditions), nil
				}
			},
		},
		{
			Name:     "seller-revalidation",
			Schedule: cfg.Finance.RevalidationSchedule,
			Run: func(ctx context.Context) (string, error) {
				result, err := sw.Reconciliation.RevalidateSellers(ctx, false, schedulerActor)
				if errors.Is(err, services.ErrFinanceFrozen) {
					return "skipped while frozen", nil
				}
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("checked=%d cleared=%d", result.Checked, result.Cleared), nil
			},
		},
		{
			Name:     "risk-scoring",
			Schedule: cfg.Risk.Schedule,
			Timeout:  15 * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				scored, err := sw.Risk.ScoreAll(ctx)
				if err != nil {
					return "", err
				}
				changed, err := sw.Modes.EvaluateAll(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("scored=%d modes_changed=%d", scored, changed), nil
			},
		},
		{
			Name:     "isolation-monitor",
			Schedule: cfg.Risk.IsolationSchedule,
			Run: func(ctx context.Context) (string, error) {
				released, err := sw.Risk.MonitorIsolation(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("released=%d", released), nil
			},
		},
		{
			Name:     "auto-cancel-sweep",
			Schedule: cfg.Orders.AutoCancelSchedule,
			Run: func(ctx context.Context) (string, error) {
				cancelled, err := sw.Orders.SweepExpiredOrders(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("cancelled=%d", cancelled), nil
			},
		},
		{
			Name:     "settlement-sweep",
			Schedule: cfg.Settlement.Schedule,
			Timeout:  15 * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				result, err := sw.Settlement.RunSweep(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("orders=%d credited=%d failed=%d", result.Orders, result.Credited, result.Failed), nil
			},
		},
		{
			Name:     "event-relay",
			Schedule: "@every 1m",
			Run: func(ctx context.Context) (string, error) {
				relayed, err := sw.Events.RelayPending(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("relayed=%d", relayed), nil
			},
		},
	}

	for _, job := range jobs {
		if err := s.RegisterJob(job); err != nil {
			return err
		}
	}
	return nil
}
