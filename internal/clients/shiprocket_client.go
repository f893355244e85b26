package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"marketplace-finance-service/internal/config"
)

var errUnauthorized = errors.New("shiprocket: unauthorized")

// ShiprocketClient books shipments and fetches tracking from Shiprocket
type ShiprocketClient struct {
	cfg        config.ShiprocketConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	authToken   string
	tokenExpiry time.Time
}

// NewShiprocketClient creates a new Shiprocket client
func NewShiprocketClient(cfg config.ShiprocketConfig) *ShiprocketClient {
	return &ShiprocketClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Shiprocket throttles per account; stay well under it
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// token returns a cached auth token, logging in again once it has expired
func (s *ShiprocketClient) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.authToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"email":    s.cfg.Email,
		"password": s.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/external/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var authResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}

	s.authToken = authResp.Token
	s.tokenExpiry = time.Now().Add(9 * 24 * time.Hour) // tokens are valid for 10 days
	return s.authToken, nil
}

func (s *ShiprocketClient) invalidateToken() {
	s.mu.Lock()
	s.authToken = ""
	s.tokenExpiry = time.Time{}
	s.mu.Unlock()
}

// do sends an authenticated request. A 401 drops the cached token and the request
// is retried once with a fresh one.
func (s *ShiprocketClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	err := s.doOnce(ctx, method, path, payload, out)
	if errors.Is(err, errUnauthorized) {
		s.invalidateToken()
		err = s.doOnce(ctx, method, path, payload, out)
	}
	return err
}

func (s *ShiprocketClient) doOnce(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := s.token(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateShipment creates an adhoc order and returns the provider shipment id
func (s *ShiprocketClient) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentBooking, error) {
	items := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]interface{}{
			"name":          item.Name,
			"sku":           item.SKU,
			"units":         item.Units,
			"selling_price": item.UnitPrice.StringFixed(2),
		})
	}

	pickup := req.PickupName
	if pickup == "" {
		pickup = s.cfg.PickupName
	}

	payload := map[string]interface{}{
		"order_id":        req.OrderID,
		"order_date":      req.OrderDate.Format("2006-01-02 15:04"),
		"pickup_location": pickup,
		"payment_method":  req.PaymentMode,
		"sub_total":       req.Amount.StringFixed(2),
		"order_items":     items,
	}

	var resp struct {
		OrderID    int `json:"order_id"`
		ShipmentID int `json:"shipment_id"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ShipmentID == 0 {
		return nil, fmt.Errorf("shiprocket returned no shipment id for order %s", req.OrderID)
	}

	return &ShipmentBooking{
		ProviderOrderID:    strconv.Itoa(resp.OrderID),
		ProviderShipmentID: strconv.Itoa(resp.ShipmentID),
	}, nil
}

// AssignCourier generates the AWB for a shipment
func (s *ShiprocketClient) AssignCourier(ctx context.Context, providerShipmentID string) (*CourierAssignment, error) {
	shipmentID, err := strconv.Atoi(providerShipmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid shipment id %q: %w", providerShipmentID, err)
	}

	var resp struct {
		Response struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/external/courier/assign/awb", map[string]interface{}{"shipment_id": shipmentID}, &resp); err != nil {
		return nil, err
	}
	if resp.Response.Data.AWBCode == "" {
		return nil, fmt.Errorf("shiprocket assigned no AWB for shipment %s", providerShipmentID)
	}

	return &CourierAssignment{
		AWB:         resp.Response.Data.AWBCode,
		CourierName: resp.Response.Data.CourierName,
	}, nil
}

// SchedulePickup requests carrier pickup for a shipment
func (s *ShiprocketClient) SchedulePickup(ctx context.Context, providerShipmentID string) (*time.Time, error) {
	shipmentID, err := strconv.Atoi(providerShipmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid shipment id %q: %w", providerShipmentID, err)
	}

	var resp struct {
		Response struct {
			PickupScheduledDate string `json:"pickup_scheduled_date"`
		} `json:"response"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/external/courier/generate/pickup", map[string]interface{}{"shipment_id": []int{shipmentID}}, &resp); err != nil {
		return nil, err
	}

	if parsed, err := time.Parse("2006-01-02 15:04:05", resp.Response.PickupScheduledDate); err == nil {
		return &parsed, nil
	}
	now := time.Now().UTC()
	return &now, nil
}

// FetchTracking returns the current carrier status of an AWB
func (s *ShiprocketClient) FetchTracking(ctx context.Context, awb string) (*TrackingStatus, error) {
	var resp struct {
		TrackingData struct {
			ShipmentTrack []struct {
				CurrentStatus string `json:"current_status"`
				UpdatedTime   string `json:"updated_time_stamp"`
			} `json:"shipment_track"`
		} `json:"tracking_data"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/external/courier/track/awb/"+awb, nil, &resp); err != nil {
		return nil, err
	}

	status := &TrackingStatus{AWB: awb}
	if len(resp.TrackingData.ShipmentTrack) > 0 {
		track := resp.TrackingData.ShipmentTrack[0]
		status.CurrentStatus = track.CurrentStatus
		if parsed, err := time.Parse("2006-01-02 15:04:05", track.UpdatedTime); err == nil {
			status.UpdatedAt = &parsed
		}
	}
	return status, nil
}
