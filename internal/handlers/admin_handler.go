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

// FinanceController is the platform circuit breaker and reconciliation surface
type FinanceController interface {
	GetState(ctx context.Context) (*models.SystemState, error)
	SetFreeze(ctx context.Context, freeze bool, reason, actor string) (*models.SystemState, error)
	TriggerRevalidation(ctx context.Context, override bool, actor string) error
	SetJobsEnabled(ctx context.Context, enabled bool, actor string) error
	ComputeMismatch(ctx context.Context) (*services.MismatchBreakdown, error)
	Reconcile(ctx context.Context) (*services.ReconciliationResult, error)
	SafeRecover(ctx context.Context) (*services.SafeRecoveryResult, error)
}

// AlertManager lists and resolves finance alerts
type AlertManager interface {
	List(ctx context.Context, unresolvedOnly bool, limit int) ([]models.FinanceAlert, error)
	Resolve(ctx context.Context, id uuid.UUID, actor string) (*models.FinanceAlert, error)
}

// DeadLetterLister reads the failed job log
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]models.JobFailure, error)
}

// AdminHandler serves the finance admin endpoints
type AdminHandler struct {
	finance     FinanceController
	alerts      AlertManager
	deadLetters DeadLetterLister
	jobsEnabled func() bool
	cache       *cache.ReadCache
	logger      *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(finance FinanceController, alerts AlertManager, deadLetters DeadLetterLister, jobsEnabled func() bool, readCache *cache.ReadCache, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		finance:     finance,
		alerts:      alerts,
		deadLetters: deadLetters,
		jobsEnabled: jobsEnabled,
		cache:       readCache,
		logger:      logger,
	}
}

// FreezeRequest toggles the platform finance freeze
type FreezeRequest struct {
	Freeze *bool  `json:"freeze" binding:"required"`
	Reason string `json:"reason"`
}

// RevalidateRequest triggers an on-demand seller revalidation
type RevalidateRequest struct {
	Override bool `json:"override"`
}

// JobsToggleRequest enables or disables background jobs
type JobsToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetState returns the reconciliation state
// GET /api/v1/admin/finance/state
func (h *AdminHandler) GetState(c *gin.Context) {
	state, err := cache.Remember(c.Request.Context(), h.cache, cache.SystemStateKey, h.finance.GetState)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": state})
}

// SetFreeze toggles the finance freeze
// POST /api/v1/admin/finance/freeze
func (h *AdminHandler) SetFreeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	state, err := h.finance.SetFreeze(c.Request.Context(), *req.Freeze, req.Reason, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SystemPattern)
	c.JSON(http.StatusOK, gin.H{"data": state})
}

// Revalidate queues a seller risk revalidation
// POST /api/v1/admin/finance/revalidate
func (h *AdminHandler) Revalidate(c *gin.Context) {
	var req RevalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if err := h.finance.TriggerRevalidation(c.Request.Context(), req.Override, middleware.GetActor(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// GetMismatch computes the money equation without side effects
// GET /api/v1/admin/finance/mismatch
func (h *AdminHandler) GetMismatch(c *gin.Context) {
	breakdown, err := h.finance.ComputeMismatch(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

// Reconcile runs a reconciliation pass now
// POST /api/v1/admin/finance/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	result, err := h.finance.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SystemPattern)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// SafeRecover attempts to lift the freeze now
// POST /api/v1/admin/finance/safe-recover
func (h *AdminHandler) SafeRecover(c *gin.Context) {
	result, err := h.finance.SafeRecover(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.cache.Forget(c.Request.Context(), cache.SystemPattern, cache.RiskySellersPattern)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetJobs reports the jobs toggle and recent dead-lettered tasks
// GET /api/v1/admin/jobs
func (h *AdminHandler) GetJobs(c *gin.Context) {
	failures, err := h.deadLetters.List(c.Request.Context(), queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":     h.jobsEnabled(),
		"deadLetters": failures,
	})
}

// SetJobs enables or disables background jobs
// PUT /api/v1/admin/jobs
func (h *AdminHandler) SetJobs(c *gin.Context) {
	var req JobsToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.finance.SetJobsEnabled(c.Request.Context(), *req.Enabled, middleware.GetActor(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// ListAlerts lists finance alerts, unresolved only unless all=true
// GET /api/v1/admin/alerts
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	unresolvedOnly := c.Query("all") != "true"
	alerts, err := h.alerts.List(c.Request.Context(), unresolvedOnly, queryLimit(c, 100, 1000))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
}

// ResolveAlert marks an alert resolved
// POST /api/v1/admin/alerts/:id/resolve
func (h *AdminHandler) ResolveAlert(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	alert, err := h.alerts.Resolve(c.Request.Context(), id, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alert})
}
