package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"marketplace-finance-service/internal/services"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor verifies and applies one provider delivery
type WebhookProcessor interface {
	Handle(ctx context.Context, delivery services.WebhookDelivery) (*services.WebhookResult, error)
}

// WebhookHandler receives payment and carrier webhooks
type WebhookHandler struct {
	payments WebhookProcessor
	shipping WebhookProcessor
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(payments, shipping WebhookProcessor, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{payments: payments, shipping: shipping, logger: logger}
}

// PaymentWebhook handles Razorpay deliveries
// POST /webhooks/razorpay
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	result, err := h.payments.Handle(c.Request.Context(), services.WebhookDelivery{
		Body:      body,
		Signature: c.GetHeader("X-Razorpay-Signature"),
		Timestamp: c.GetHeader("X-Webhook-Timestamp"),
		EventID:   c.GetHeader("X-Razorpay-Event-Id"),
	})
	h.respond(c, result, err)
}

// ShippingWebhook handles Shiprocket tracking pushes
// POST /webhooks/shiprocket
func (h *WebhookHandler) ShippingWebhook(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	signature := c.GetHeader("X-Shiprocket-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Signature")
	}
	result, err := h.shipping.Handle(c.Request.Context(), services.WebhookDelivery{
		Body:      body,
		Signature: signature,
		EventID:   c.GetHeader("X-Shiprocket-Event-Id"),
	})
	h.respond(c, result, err)
}

func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "PAYLOAD_TOO_LARGE"})
			return nil, false
		}
		badRequest(c, "unreadable body")
		return nil, false
	}
	return body, true
}

// respond writes the provider-facing status: 200 for applied or duplicate
// deliveries, 202 for deliveries accepted without effect.
func (h *WebhookHandler) respond(c *gin.Context, result *services.WebhookResult, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if result.Unknown || result.Status == services.WebhookStatusMismatch {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"status": result.Status})
}
