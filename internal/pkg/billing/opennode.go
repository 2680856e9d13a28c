package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotabod/billing/internal/pkg/env"
)

const defaultOpenNodeAPIBaseURL = "https://api.opennode.com"

// OpenNodeClient talks to the OpenNode cryptocurrency payment API.
type OpenNodeClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// OpenNodeChargeRequest is the payload for creating a hosted-checkout charge.
type OpenNodeChargeRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty"`
	SuccessURL  string  `json:"success_url,omitempty"`
}

// OpenNodeChargeResponse is the subset of the charge resource this service
// consumes.
type OpenNodeChargeResponse struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	OrderID           string  `json:"order_id"`
	HostedCheckoutURL string  `json:"hosted_checkout_url"`
}

func NewOpenNodeClientFromEnv() *OpenNodeClient {
	return &OpenNodeClient{
		APIKey:     strings.TrimSpace(env.GetEnv("OPENNODE_API_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("OPENNODE_API_BASE_URL", defaultOpenNodeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCharge creates a hosted-checkout charge for an invoice.
func (c *OpenNodeClient) CreateCharge(ctx context.Context, in OpenNodeChargeRequest) (*OpenNodeChargeResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("OPENNODE_API_KEY is not configured")
	}
	if in.Amount <= 0 {
		return nil, errors.New("charge amount must be positive")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.APIBaseURL, "/")+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	return c.doCharge(req)
}

// GetCharge fetches a charge by ID.
func (c *OpenNodeClient) GetCharge(ctx context.Context, chargeID string) (*OpenNodeChargeResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("OPENNODE_API_KEY is not configured")
	}
	id := strings.TrimSpace(chargeID)
	if id == "" {
		return nil, errors.New("charge id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.APIBaseURL, "/")+"/v1/charge/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	return c.doCharge(req)
}

func (c *OpenNodeClient) doCharge(req *http.Request) (*OpenNodeChargeResponse, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("opennode request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Data OpenNodeChargeResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Data.ID) == "" {
		return nil, errors.New("opennode response missing charge id")
	}
	return &out.Data, nil
}
