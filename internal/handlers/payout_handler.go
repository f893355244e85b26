package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/services"
)

// PayoutManager moves settled seller money out of the platform
type PayoutManager interface {
	CreatePayout(ctx context.Context, req services.CreatePayoutRequest) (*models.Payout, error)
	CompletePayout(ctx context.Context, payoutID uuid.UUID, providerReference string) (*models.Payout, error)
	FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error)
	ResolvePayoutFailure(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
}

// PayoutHandler serves payout admin endpoints
type PayoutHandler struct {
	payouts PayoutManager
	cache   *cache.ReadCache
	logger  *logrus.Logger
}

// NewPayoutHandler creates a new PayoutHandler
func NewPayoutHandler(payouts PayoutManager, readCache *cache.ReadCache, logger *logrus.Logger) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, cache: readCache, logger: logger}
}

// CompletePayoutRequest records the provider transfer reference
type CompletePayoutRequest struct {
	ProviderReference string `json:"providerReference" binding:"required"`
}

// FailPayoutRequest records why the transfer failed
type FailPayoutRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CreatePayout starts a payout
// POST /api/v1/admin/payouts
func (h *PayoutHandler) CreatePayout(c *gin.Context) {
	var req services.CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	payout, err := h.payouts.CreatePayout(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payout})
}

// CompletePayout marks a payout as transferred
// POST /api/v1/admin/payouts/:id/complete
func (h *PayoutHandler) CompletePayout(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req CompletePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	payout, err := h.payouts.CompletePayout(c.Request.Context(), id, req.ProviderReference)
	h.respondPayout(c, payout, err)
}

// FailPayout marks a payout as failed
// POST /api/v1/admin/payouts/:id/fail
func (h *PayoutHandler) FailPayout(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req FailPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	payout, err := h.payouts.FailPayout(c.Request.Context(), id, req.Reason)
	h.respondPayout(c, payout, err)
}

// ResolvePayoutFailure clears a failed payout from the seller's signals
// POST /api/v1/admin/payouts/:id/resolve
func (h *PayoutHandler) ResolvePayoutFailure(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	payout, err := h.payouts.ResolvePayoutFailure(c.Request.Context(), id)
	h.respondPayout(c, payout, err)
}

func (h *PayoutHandler) respondPayout(c *gin.Context, payout *models.Payout, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SellerPattern(payout.SellerID), cache.RiskySellersPattern)
	c.JSON(http.StatusOK, gin.H{"data": payout})
}
