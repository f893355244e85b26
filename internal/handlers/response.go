package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/services"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{services.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{services.ErrInvalidPayload, http.StatusBadRequest, "INVALID_PAYLOAD"},
	{services.ErrInvalidMode, http.StatusBadRequest, "INVALID_MODE"},
	{services.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE"},
	{services.ErrStaleWebhook, http.StatusUnauthorized, "STALE_WEBHOOK"},
	{services.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{services.ErrSellerNotFound, http.StatusNotFound, "SELLER_NOT_FOUND"},
	{services.ErrAlertNotFound, http.StatusNotFound, "ALERT_NOT_FOUND"},
	{services.ErrPayoutNotFound, http.StatusNotFound, "PAYOUT_NOT_FOUND"},
	{services.ErrFinanceFrozen, http.StatusForbidden, "FINANCE_FROZEN"},
	{services.ErrPayoutsFrozen, http.StatusForbidden, "PAYOUTS_FROZEN"},
	{services.ErrSellerIsolated, http.StatusForbidden, "SELLER_ISOLATED"},
	{services.ErrSellerBlocked, http.StatusForbidden, "SELLER_BLOCKED"},
	{services.ErrSellerDailyCapReached, http.StatusForbidden, "SELLER_DAILY_CAP_REACHED"},
	{services.ErrHighValueOrderBlocked, http.StatusForbidden, "HIGH_VALUE_ORDER_BLOCKED"},
	{services.ErrPayoutHold, http.StatusForbidden, "PAYOUT_HOLD"},
	{services.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{services.ErrPaymentDrivenTransition, http.StatusConflict, "PAYMENT_DRIVEN_TRANSITION"},
	{services.ErrInsufficientBalance, http.StatusConflict, "INSUFFICIENT_BALANCE"},
	{services.ErrPayoutNotPending, http.StatusConflict, "PAYOUT_NOT_PENDING"},
	{services.ErrProductUnavailable, http.StatusConflict, "PRODUCT_UNAVAILABLE"},
	{services.ErrOutOfStock, http.StatusConflict, "OUT_OF_STOCK"},
	{services.ErrJobsDisabled, http.StatusServiceUnavailable, "JOBS_DISABLED"},
}

// respondError maps a service error onto its HTTP status. Unknown errors are
// logged and hidden behind a generic 500.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, ErrorResponse{Error: m.code, Message: m.target.Error()})
			return
		}
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"path":       c.Request.URL.Path,
		"request_id": c.GetString("request_id"),
	}).Error("Request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: "An internal error occurred",
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: message})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
