package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OrderPaymentStatus values mirrored onto the business order.
const (
	OrderPaymentPaid   = "PAID"
	OrderPaymentFailed = "FAILED"
)

// MirrorResult is the outcome of a business-order mirror update. The mirror
// is deliberately best-effort: a failure here never rolls back the payment
// side, so the error travels in this result instead of aborting the caller.
type MirrorResult struct {
	Attempted bool
	Err       error
}

// Failed reports whether the mirror was attempted and did not stick.
func (r MirrorResult) Failed() bool {
	return r.Attempted && r.Err != nil
}

// OrderServiceClient is the interface to the business-order collaborator.
type OrderServiceClient interface {
	// UpdatePaymentStatus mirrors the payment outcome onto the business order.
	UpdatePaymentStatus(ctx context.Context, businessOrderID, paymentStatus, transactionID string) MirrorResult

	// MarkConfirmed moves the business order to its confirmed state after a
	// successful capture.
	MarkConfirmed(ctx context.Context, businessOrderID string) MirrorResult
}

// OrderClient updates business orders via the orders service HTTP API.
type OrderClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ OrderServiceClient = (*OrderClient)(nil)

// NewOrderClient creates a new orders service client
func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// UpdatePaymentStatus mirrors the payment outcome onto the business order.
func (c *OrderClient) UpdatePaymentStatus(ctx context.Context, businessOrderID, paymentStatus, transactionID string) MirrorResult {
	payload := map[string]string{
		"paymentStatus": paymentStatus,
		"transactionId": transactionID,
	}
	url := fmt.Sprintf("%s/api/v1/orders/%s/payment-status", c.baseURL, businessOrderID)
	return MirrorResult{Attempted: true, Err: c.patch(ctx, url, payload)}
}

// MarkConfirmed moves the business order to confirmed.
func (c *OrderClient) MarkConfirmed(ctx context.Context, businessOrderID string) MirrorResult {
	payload := map[string]string{
		"status": "CONFIRMED",
	}
	url := fmt.Sprintf("%s/api/v1/orders/%s/status", c.baseURL, businessOrderID)
	return MirrorResult{Attempted: true, Err: c.patch(ctx, url, payload)}
}

func (c *OrderClient) patch(ctx context.Context, url string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Service", "payment-webhook-service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call orders service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("orders service returned status %d", resp.StatusCode)
	}
	return nil
}
