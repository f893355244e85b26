package models

import "fmt"

// AllOrderStatuses lists every order status; the transition table must cover each one.
var AllOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPaid,
	OrderStatusPaymentStockFailed,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// ValidOrderTransitions defines valid state transitions for OrderStatus
// Flow: CREATED → PAID → CONFIRMED → PROCESSING → SHIPPED → DELIVERED → COMPLETED
var ValidOrderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusCreated:            set(OrderStatusPaid, OrderStatusPaymentStockFailed, OrderStatusCancelled),
	OrderStatusPaid:               set(OrderStatusConfirmed, OrderStatusCancelled),
	OrderStatusPaymentStockFailed: set(), // Terminal state
	OrderStatusConfirmed:          set(OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled), // Can skip PROCESSING
	OrderStatusProcessing:         set(OrderStatusShipped, OrderStatusCancelled),
	OrderStatusShipped:            set(OrderStatusDelivered),
	OrderStatusDelivered:          set(OrderStatusCompleted),
	OrderStatusCompleted:          set(), // Terminal state
	OrderStatusCancelled:          set(), // Terminal state
}

func set(statuses ...OrderStatus) map[OrderStatus]struct{} {
	m := make(map[OrderStatus]struct{}, len(statuses))
	for _, s := range statuses {
		m[s] = struct{}{}
	}
	return m
}

// CanTransitionOrderStatus checks if a transition from one order status to another is valid
func CanTransitionOrderStatus(from, to OrderStatus) bool {
	_, ok := ValidOrderTransitions[from][to]
	return ok
}

// ValidateOrderStatusTransition returns an error if the transition is invalid
func ValidateOrderStatusTransition(from, to OrderStatus) error {
	if !CanTransitionOrderStatus(from, to) {
		return fmt.Errorf("invalid order status transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalOrderStatus checks if the order status is a terminal state
func IsTerminalOrderStatus(status OrderStatus) bool {
	return len(ValidOrderTransitions[status]) == 0
}

// IsPaymentDrivenStatus reports statuses only reachable through payment capture
func IsPaymentDrivenStatus(status OrderStatus) bool {
	return status == OrderStatusPaid || status == OrderStatusPaymentStockFailed
}

// DisplayName returns a human-readable name for the order status
func (s OrderStatus) DisplayName() string {
	switch s {
	case OrderStatusCreated:
		return "Awaiting Payment"
	case OrderStatusPaid:
		return "Paid"
	case OrderStatusPaymentStockFailed:
		return "Refunded (Out of Stock)"
	case OrderStatusConfirmed:
		return "Confirmed"
	case OrderStatusProcessing:
		return "Processing"
	case OrderStatusShipped:
		return "Shipped"
	case OrderStatusDelivered:
		return "Delivered"
	case OrderStatusCompleted:
		return "Completed"
	case OrderStatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
