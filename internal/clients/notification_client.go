package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NotificationClient sends notifications via notification-service API
type NotificationClient interface {
	// Send delivers one rendered-by-template notification
	Send(ctx context.Context, req *SendNotificationRequest) error
}

// notificationClient implements NotificationClient
type notificationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNotificationClient creates a new notification client
func NewNotificationClient(baseURL string) NotificationClient {
	return &notificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendNotificationRequest represents the API request to notification-service
type SendNotificationRequest struct {
	Channel      string                 `json:"channel"`
	RecipientID  string                 `json:"recipientId"`
	TemplateName string                 `json:"templateName"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
}

func (c *notificationClient) Send(ctx context.Context, req *SendNotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/notifications/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notification-service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
