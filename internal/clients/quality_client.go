package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// NeutralQualityScore is reported when no quality service is configured
const NeutralQualityScore = 100.0

// QualityClient reads seller quality scores from the catalog quality service
type QualityClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewQualityClient creates a new quality client; an empty base URL yields neutral scores
func NewQualityClient(baseURL string) *QualityClient {
	return &QualityClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// QualityScore returns the 0-100 quality score of a seller
func (c *QualityClient) QualityScore(ctx context.Context, sellerID uuid.UUID) (float64, error) {
	if c.baseURL == "" {
		return NeutralQualityScore, nil
	}

	url := fmt.Sprintf("%s/api/v1/sellers/%s/quality", c.baseURL, sellerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quality score: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return NeutralQualityScore, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quality service returned status %d", resp.StatusCode)
	}

	var body struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode quality response: %w", err)
	}
	return body.Score, nil
}
