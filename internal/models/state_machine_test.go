package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransitionTableCoversEveryStatus(t *testing.T) {
	assert.Len(t, ValidOrderTransitions, len(AllOrderStatuses))
	for _, status := range AllOrderStatuses {
		targets, ok := ValidOrderTransitions[status]
		assert.True(t, ok, "missing transitions for %s", status)
		for to := range targets {
			assert.Contains(t, AllOrderStatuses, to)
		}
	}
}

func TestCanTransitionOrderStatus(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusCreated, OrderStatusPaid, true},
		{OrderStatusCreated, OrderStatusPaymentStockFailed, true},
		{OrderStatusCreated, OrderStatusCancelled, true},
		{OrderStatusCreated, OrderStatusConfirmed, false},
		{OrderStatusPaid, OrderStatusConfirmed, true},
		{OrderStatusPaid, OrderStatusShipped, false},
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusDelivered, OrderStatusCompleted, true},
		{OrderStatusPaymentStockFailed, OrderStatusPaid, false},
		{OrderStatusCancelled, OrderStatusCreated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionOrderStatus(tt.from, tt.to))
			if tt.want {
				assert.NoError(t, ValidateOrderStatusTransition(tt.from, tt.to))
			} else {
				assert.Error(t, ValidateOrderStatusTransition(tt.from, tt.to))
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminalOrderStatus(OrderStatusPaymentStockFailed))
	assert.True(t, IsTerminalOrderStatus(OrderStatusCompleted))
	assert.True(t, IsTerminalOrderStatus(OrderStatusCancelled))
	assert.False(t, IsTerminalOrderStatus(OrderStatusShipped))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(49999), ToMinorUnits(decimal.RequireFromString("499.99")))
	assert.Equal(t, int64(1001), ToMinorUnits(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(0), ToMinorUnits(decimal.Zero))
	assert.True(t, FromMinorUnits(49999).Equal(decimal.RequireFromString("499.99")))
}

func TestModeSeverityOrdering(t *testing.T) {
	assert.Less(t, FinancialModeNormal.Severity(), FinancialModeMonitored.Severity())
	assert.Less(t, FinancialModeMonitored.Severity(), FinancialModeIsolated.Severity())
	assert.Less(t, FinancialModeIsolated.Severity(), FinancialModeBlocked.Severity())

	assert.Less(t, OperationalModeWatch.Severity(), OperationalModeStabilityLimited.Severity())
	assert.Less(t, OperationalModeQualityIssue.Severity(), OperationalModeFinancialRisk.Severity())
	assert.Less(t, OperationalModeFinancialRisk.Severity(), OperationalModeIsolated.Severity())
}
