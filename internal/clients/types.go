package clients

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderOrderRequest asks the payment provider to open an order for checkout
type ProviderOrderRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	UserID   string
}

// ProviderOrder is the provider's view of a checkout order
type ProviderOrder struct {
	ID          string
	AmountMinor int64
	Status      string
}

// ProviderRefund is the provider's acknowledgement of a refund request
type ProviderRefund struct {
	ID     string
	Status string
}

// ShipmentRequest books a shipment for a paid order
type ShipmentRequest struct {
	OrderID     string
	OrderDate   time.Time
	PickupName  string
	Amount      decimal.Decimal
	Items       []ShipmentItem
	PaymentMode string
}

// ShipmentItem is one line of a shipment
type ShipmentItem struct {
	Name      string
	SKU       string
	Units     int
	UnitPrice decimal.Decimal
}

// ShipmentBooking identifies a shipment at the provider
type ShipmentBooking struct {
	ProviderOrderID    string
	ProviderShipmentID string
}

// CourierAssignment is the AWB and courier allotted to a shipment
type CourierAssignment struct {
	AWB         string
	CourierName string
}

// TrackingStatus is the provider's latest status for an AWB
type TrackingStatus struct {
	AWB           string
	CurrentStatus string
	UpdatedAt     *time.Time
}
