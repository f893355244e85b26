package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/cache"
	"marketplace-finance-service/internal/middleware"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/services"
)

// RiskManager reads and drives seller financial modes
type RiskManager interface {
	GetSellerRisk(ctx context.Context, sellerID uuid.UUID) (*services.SellerRiskView, error)
	ListRiskySellers(ctx context.Context, limit int) ([]models.SellerBalance, error)
	OverrideFinancialMode(ctx context.Context, sellerID uuid.UUID, mode models.FinancialMode, reason, actor string) (*models.SellerBalance, error)
	ScoreSeller(ctx context.Context, sellerID uuid.UUID) (*services.RiskAssessment, error)
}

// ModeManager evaluates operational modes and gates publishing
type ModeManager interface {
	EvaluateSeller(ctx context.Context, sellerID uuid.UUID) (*services.ModeEvaluation, error)
	PublishProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
}

// SellerHandler serves seller risk reads and admin overrides
type SellerHandler struct {
	risk   RiskManager
	modes  ModeManager
	cache  *cache.ReadCache
	logger *logrus.Logger
}

// NewSellerHandler creates a new SellerHandler
func NewSellerHandler(risk RiskManager, modes ModeManager, readCache *cache.ReadCache, logger *logrus.Logger) *SellerHandler {
	return &SellerHandler{risk: risk, modes: modes, cache: readCache, logger: logger}
}

// ModeOverrideRequest sets a seller's financial mode by hand
type ModeOverrideRequest struct {
	Mode   models.FinancialMode `json:"mode" binding:"required"`
	Reason string               `json:"reason"`
}

// GetSellerRisk returns a seller's balance, mode and latest risk metrics
// GET /api/v1/admin/sellers/:id/risk
func (h *SellerHandler) GetSellerRisk(c *gin.Context) {
	sellerID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	view, err := cache.Remember(c.Request.Context(), h.cache, cache.SellerRiskKey(sellerID),
		func(ctx context.Context) (*services.SellerRiskView, error) {
			return h.risk.GetSellerRisk(ctx, sellerID)
		})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// ListRiskySellers lists sellers outside NORMAL financial mode
// GET /api/v1/admin/sellers/risky
func (h *SellerHandler) ListRiskySellers(c *gin.Context) {
	limit := queryLimit(c, 50, 500)
	sellers, err := cache.Remember(c.Request.Context(), h.cache, cache.RiskySellersKey(limit),
		func(ctx context.Context) ([]models.SellerBalance, error) {
			return h.risk.ListRiskySellers(ctx, limit)
		})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sellers, "count": len(sellers)})
}

// OverrideMode sets a seller's financial mode and starts its cooldown
// PUT /api/v1/admin/sellers/:id/mode
func (h *SellerHandler) OverrideMode(c *gin.Context) {
	sellerID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req ModeOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	balance, err := h.risk.OverrideFinancialMode(c.Request.Context(), sellerID, req.Mode, req.Reason, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SellerPattern(sellerID), cache.RiskySellersPattern)
	c.JSON(http.StatusOK, gin.H{"data": balance})
}

// ScoreSeller recomputes a seller's risk score now
// POST /api/v1/admin/sellers/:id/score
func (h *SellerHandler) ScoreSeller(c *gin.Context) {
	sellerID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	assessment, err := h.risk.ScoreSeller(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SellerPattern(sellerID), cache.RiskySellersPattern)
	c.JSON(http.StatusOK, gin.H{"data": assessment})
}

// EvaluateMode recomputes a seller's operational mode now
// POST /api/v1/admin/sellers/:id/evaluate
func (h *SellerHandler) EvaluateMode(c *gin.Context) {
	sellerID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	eval, err := h.modes.EvaluateSeller(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SellerPattern(sellerID))
	c.JSON(http.StatusOK, gin.H{"data": eval})
}

// PublishProduct re-activates a product when its seller may publish
// POST /api/v1/admin/products/:id/publish
func (h *SellerHandler) PublishProduct(c *gin.Context) {
	productID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	product, err := h.modes.PublishProduct(c.Request.Context(), productID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": product})
}
