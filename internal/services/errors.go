package services

import "errors"

// Validation errors (400)
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrInvalidMode    = errors.New("invalid seller mode")
)

// Authorization errors (401/403)
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleWebhook     = errors.New("webhook timestamp outside tolerance")
)

// Not found (404)
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrSellerNotFound = errors.New("seller not found")
	ErrAlertNotFound  = errors.New("alert not found")
	ErrPayoutNotFound = errors.New("payout not found")
)

// Conflict / gate errors (409/403)
var (
	ErrInvalidTransition       = errors.New("invalid order status transition")
	ErrPaymentDrivenTransition = errors.New("status is only reachable through payment capture")
	ErrFinanceFrozen           = errors.New("platform finance is frozen")
	ErrPayoutsFrozen           = errors.New("payouts are frozen")
	ErrSellerIsolated          = errors.New("seller is isolated")
	ErrSellerBlocked           = errors.New("seller is financially blocked")
	ErrSellerDailyCapReached   = errors.New("seller daily order cap reached")
	ErrHighValueOrderBlocked   = errors.New("high-value orders are blocked for this seller")
	ErrPayoutHold              = errors.New("seller payouts are on hold")
	ErrInsufficientBalance     = errors.New("insufficient seller balance")
	ErrProductUnavailable      = errors.New("product unavailable")
	ErrOutOfStock              = errors.New("insufficient stock")
	ErrJobsDisabled            = errors.New("background jobs are disabled")
	ErrPayoutNotPending        = errors.New("payout is not pending")
)
