package clients

import (
	"context"
	"fmt"
	"strings"

	razorpayLib "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"

	"marketplace-finance-service/internal/config"
	"marketplace-finance-service/internal/models"
)

// RazorpayGateway talks to Razorpay for checkout orders and refunds
type RazorpayGateway struct {
	client *razorpayLib.Client
	keyID  string
}

// NewRazorpayGateway creates a new Razorpay gateway instance
func NewRazorpayGateway(cfg config.RazorpayConfig) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("Razorpay key ID and secret are required (set RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET env vars)")
	}
	return &RazorpayGateway{
		client: razorpayLib.NewClient(cfg.KeyID, cfg.KeySecret),
		keyID:  cfg.KeyID,
	}, nil
}

// Name returns the provider name used in webhook dedup keys
func (g *RazorpayGateway) Name() string {
	return "razorpay"
}

// CreateProviderOrder creates a Razorpay order
func (g *RazorpayGateway) CreateProviderOrder(ctx context.Context, req ProviderOrderRequest) (*ProviderOrder, error) {
	amountPaise := models.ToMinorUnits(req.Amount)

	orderData := map[string]interface{}{
		"amount":   amountPaise,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.OrderID,
		"notes": map[string]string{
			"order_id": req.OrderID,
			"user_id":  req.UserID,
		},
	}

	order, err := g.client.Order.Create(orderData, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order create failed: %w", err)
	}

	orderID, _ := order["id"].(string)
	status, _ := order["status"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("razorpay order create returned no id")
	}

	return &ProviderOrder{
		ID:          orderID,
		AmountMinor: amountPaise,
		Status:      status,
	}, nil
}

// RefundPayment refunds a captured payment in full or in part
func (g *RazorpayGateway) RefundPayment(ctx context.Context, providerPaymentID string, amount decimal.Decimal, notes map[string]string) (*ProviderRefund, error) {
	amountPaise := models.ToMinorUnits(amount)
	refundData := map[string]interface{}{
		"amount": amountPaise,
		"speed":  "normal",
	}
	if len(notes) > 0 {
		refundData["notes"] = notes
	}

	refundResp, err := g.client.Payment.Refund(providerPaymentID, int(amountPaise), refundData, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay refund failed: %w", err)
	}

	refundID, _ := refundResp["id"].(string)
	status, _ := refundResp["status"].(string)

	return &ProviderRefund{ID: refundID, Status: status}, nil
}
