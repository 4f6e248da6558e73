package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"payment-webhook-service/internal/models"
)

func TestInitiatePayment_CreatesGatewayAndLocalOrder(t *testing.T) {
	repo := new(MockPaymentRepository)
	gw := new(MockGatewayClient)
	svc := NewPaymentService(repo, gw, testLogger())

	gw.On("CreateOrder", int64(49999), "INR", "user-1", mock.MatchedBy(func(notes map[string]interface{}) bool {
		return notes["business_order_id"] == "biz-42"
	})).Return("order_new", nil)
	repo.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o *models.PaymentOrder) bool {
		return o.GatewayOrderID == "order_new" &&
			o.Status == models.OrderCreated &&
			o.Amount == 499.99 &&
			o.BusinessOrderID != nil && *o.BusinessOrderID == "biz-42"
	})).Return(nil)

	resp, err := svc.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		Amount:          499.99,
		UserID:          "user-1",
		BusinessOrderID: "biz-42",
	})

	assert.NoError(t, err)
	assert.Equal(t, "order_new", resp.GatewayOrderID)
	assert.Equal(t, string(models.OrderCreated), resp.Status)
	assert.Equal(t, "INR", resp.Currency)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestInitiatePayment_GatewayFailure(t *testing.T) {
	repo := new(MockPaymentRepository)
	gw := new(MockGatewayClient)
	svc := NewPaymentService(repo, gw, testLogger())

	gw.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("gateway down"))

	_, err := svc.InitiatePayment(context.Background(), &models.InitiatePaymentRequest{
		Amount: 100,
		UserID: "user-1",
	})

	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}
