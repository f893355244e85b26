package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-finance-service/internal/config"
)

// fakeShiprocket serves the Shiprocket endpoints the client calls
type fakeShiprocket struct {
	logins      int32
	rejectToken string
	lastCreate  map[string]interface{}
}

func (f *fakeShiprocket) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.logins, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + strconv.Itoa(int(n))})
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "Bearer "+f.rejectToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/v1/external/orders/create/adhoc", authed(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastCreate))
		_ = json.NewEncoder(w).Encode(map[string]int{"order_id": 11, "shipment_id": 22})
	}))
	mux.HandleFunc("/v1/external/courier/assign/awb", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"data":{"awb_code":"AWB123","courier_name":"Delhivery"}}}`))
	}))
	mux.HandleFunc("/v1/external/courier/generate/pickup", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"pickup_scheduled_date":"2026-03-01 10:00:00"}}`))
	}))
	mux.HandleFunc("/v1/external/courier/track/awb/AWB123", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{"shipment_track":[{"current_status":"IN TRANSIT","updated_time_stamp":"2026-03-02 08:30:00"}]}}`))
	}))
	mux.HandleFunc("/v1/external/courier/track/awb/EMPTY", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{}}`))
	}))
	return mux
}

func newShiprocket(t *testing.T) (*ShiprocketClient, *fakeShiprocket) {
	t.Helper()
	fake := &fakeShiprocket{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewShiprocketClient(config.ShiprocketConfig{
		BaseURL:    srv.URL,
		Email:      "ops@example.com",
		Password:   "secret",
		PickupName: "Primary",
	}), fake
}

func TestShiprocketClient_BookingFlow(t *testing.T) {
	client, fake := newShiprocket(t)
	ctx := context.Background()

	booking, err := client.CreateShipment(ctx, ShipmentRequest{
		OrderID:     "ord-1",
		OrderDate:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Amount:      decimal.NewFromFloat(499.5),
		PaymentMode: "Prepaid",
		Items:       []ShipmentItem{{Name: "Mug", SKU: "MUG-1", Units: 2, UnitPrice: decimal.NewFromFloat(249.75)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "11", booking.ProviderOrderID)
	assert.Equal(t, "22", booking.ProviderShipmentID)
	assert.Equal(t, "Primary", fake.lastCreate["pickup_location"])
	assert.Equal(t, "499.50", fake.lastCreate["sub_total"])

	courier, err := client.AssignCourier(ctx, booking.ProviderShipmentID)
	require.NoError(t, err)
	assert.Equal(t, "AWB123", courier.AWB)
	assert.Equal(t, "Delhivery", courier.CourierName)

	pickup, err := client.SchedulePickup(ctx, booking.ProviderShipmentID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *pickup)

	// One login serves every call
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.logins))
}

func TestShiprocketClient_Tracking(t *testing.T) {
	client, _ := newShiprocket(t)

	status, err := client.FetchTracking(context.Background(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, "IN TRANSIT", status.CurrentStatus)
	require.NotNil(t, status.UpdatedAt)

	status, err = client.FetchTracking(context.Background(), "EMPTY")
	require.NoError(t, err)
	assert.Empty(t, status.CurrentStatus)
	assert.Nil(t, status.UpdatedAt)
}

func TestShiprocketClient_ReauthenticatesOnUnauthorized(t *testing.T) {
	client, fake := newShiprocket(t)
	ctx := context.Background()

	_, err := client.AssignCourier(ctx, "22")
	require.NoError(t, err)

	fake.rejectToken = "tok-1"
	_, err = client.AssignCourier(ctx, "22")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.logins))
}

func TestShiprocketClient_InvalidShipmentID(t *testing.T) {
	client, _ := newShiprocket(t)
	_, err := client.AssignCourier(context.Background(), "not-a-number")
	assert.Error(t, err)
}

func TestQualityClient(t *testing.T) {
	known := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sellers/" + known.String() + "/quality":
			_, _ = w.Write([]byte(`{"score":42.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewQualityClient(srv.URL)
	score, err := client.QualityScore(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, 42.5, score)

	score, err = client.QualityScore(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, NeutralQualityScore, score)

	score, err = NewQualityClient("").QualityScore(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, NeutralQualityScore, score)
}

func TestNotificationClient_Send(t *testing.T) {
	var got SendNotificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notifications/send" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.TemplateName == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewNotificationClient(srv.URL)
	err := client.Send(context.Background(), &SendNotificationRequest{Channel: "email", RecipientID: "user-1", TemplateName: "order_paid"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.RecipientID)

	err = client.Send(context.Background(), &SendNotificationRequest{TemplateName: "broken"})
	assert.Error(t, err)
}
