package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/middleware"
	"marketplace-finance-service/internal/models"
	"marketplace-finance-service/internal/services"
)

// OrderManager places orders and drives their state machine
type OrderManager interface {
	CreateOrder(ctx context.Context, req services.CreateOrderRequest) (*services.CreateOrderResult, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderHistory(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, actor, reason string) (*models.Order, error)
}

// TrackingRefresher polls the carrier for an order's shipment
type TrackingRefresher interface {
	RefreshTracking(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
}

// OrderHandler serves order endpoints
type OrderHandler struct {
	orders    OrderManager
	shipments TrackingRefresher
	logger    *logrus.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders OrderManager, shipments TrackingRefresher, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, shipments: shipments, logger: logger}
}

// UpdateStatusRequest is a direct status change
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Reason string             `json:"reason"`
}

// CreateOrder places an order. The Idempotency-Key header makes retries safe.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		badRequest(c, "Idempotency-Key header is required")
		return
	}
	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.IdempotencyKey = key

	result, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

// GetOrder returns one order with its items
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// GetOrderHistory returns the order's status timeline
// GET /api/v1/orders/:id/history
func (h *OrderHandler) GetOrderHistory(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	history, err := h.orders.GetOrderHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

// UpdateStatus applies an operator status change
// PATCH /api/v1/admin/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), id, req.Status, middleware.GetActor(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// RefreshTracking pulls the latest carrier status for the order's shipment
// POST /api/v1/admin/orders/:id/tracking/refresh
func (h *OrderHandler) RefreshTracking(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	shipment, err := h.shipments.RefreshTracking(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": shipment})
}
