package gateway

import (
	"fmt"

	razorpayLib "github.com/razorpay/razorpay-go"
)

// Payment is the gateway-side view of a payment attempt. Amounts are in the
// smallest currency unit.
type Payment struct {
	ID               string
	OrderID          string
	Status           string
	Method           string
	Amount           int64
	Currency         string
	Fee              int64
	Tax              int64
	ErrorCode        string
	ErrorDescription string
}

// Client is the subset of gateway operations this service performs: creating
// orders for payment initiation and fetching payment state for the
// reconciliation sweep.
type Client interface {
	CreateOrder(amountSubunits int64, currency, receipt string, notes map[string]interface{}) (string, error)
	FetchPayment(paymentID string) (*Payment, error)
}

// RazorpayClient implements Client against the Razorpay API.
type RazorpayClient struct {
	client *razorpayLib.Client
}

var _ Client = (*RazorpayClient)(nil)

// NewRazorpayClient creates a new Razorpay API client
func NewRazorpayClient(keyID, keySecret string) (*RazorpayClient, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay key ID and secret are required")
	}
	return &RazorpayClient{client: razorpayLib.NewClient(keyID, keySecret)}, nil
}

// CreateOrder creates a gateway order and returns its reference.
func (g *RazorpayClient) CreateOrder(amountSubunits int64, currency, receipt string, notes map[string]interface{}) (string, error) {
	orderData := map[string]interface{}{
		"amount":   amountSubunits,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		orderData["notes"] = notes
	}

	order, err := g.client.Order.Create(orderData, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway order: %w", err)
	}

	orderID, ok := order["id"].(string)
	if !ok || orderID == "" {
		return "", fmt.Errorf("gateway order response missing id")
	}
	return orderID, nil
}

// FetchPayment fetches the current gateway state of a payment.
func (g *RazorpayClient) FetchPayment(paymentID string) (*Payment, error) {
	raw, err := g.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	p := &Payment{ID: paymentID}
	if v, ok := raw["order_id"].(string); ok {
		p.OrderID = v
	}
	if v, ok := raw["status"].(string); ok {
		p.Status = v
	}
	if v, ok := raw["method"].(string); ok {
		p.Method = v
	}
	if v, ok := raw["currency"].(string); ok {
		p.Currency = v
	}
	if v, ok := raw["amount"].(float64); ok {
		p.Amount = int64(v)
	}
	if v, ok := raw["fee"].(float64); ok {
		p.Fee = int64(v)
	}
	if v, ok := raw["tax"].(float64); ok {
		p.Tax = int64(v)
	}
	if v, ok := raw["error_code"].(string); ok {
		p.ErrorCode = v
	}
	if v, ok := raw["error_description"].(string); ok {
		p.ErrorDescription = v
	}
	return p, nil
}
