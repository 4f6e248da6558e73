package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/repository"
	"payment-webhook-service/internal/services"
	"payment-webhook-service/internal/webhook"
)

const (
	testSecret          = "0123456789abcdef0123456789abcdef"
	testSignatureHeader = "X-Razorpay-Signature"
)

// recordingRepo counts repository calls so tests can assert that rejected
// deliveries never touch storage. Lookups report not-found, which the
// pipeline treats as a deferrable no-op.
type recordingRepo struct {
	reads  int
	writes int
}

var _ repository.PaymentRepositoryInterface = (*recordingRepo)(nil)

func (r *recordingRepo) WithTransaction(ctx context.Context, fn func(repository.PaymentRepositoryInterface) error) error {
	return fn(r)
}

func (r *recordingRepo) CreateOrder(ctx context.Context, order *models.PaymentOrder) error {
	r.writes++
	return nil
}

func (r *recordingRepo) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) UpdateOrder(ctx context.Context, order *models.PaymentOrder) error {
	r.writes++
	return nil
}

func (r *recordingRepo) CreateTransactionIfAbsent(ctx context.Context, tx *models.PaymentTransaction) (bool, error) {
	r.writes++
	return true, nil
}

func (r *recordingRepo) GetTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) GetTransactionForUpdate(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) UpdateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	r.writes++
	return nil
}

func (r *recordingRepo) ListStaleAuthorizedTransactions(ctx context.Context, olderThan time.Time) ([]models.PaymentTransaction, error) {
	r.reads++
	return nil, nil
}

func (r *recordingRepo) CreateRefundIfAbsent(ctx context.Context, refund *models.PaymentRefund) (bool, error) {
	r.writes++
	return true, nil
}

func (r *recordingRepo) GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) GetRefundForUpdate(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error) {
	r.reads++
	return nil, gorm.ErrRecordNotFound
}

func (r *recordingRepo) UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	r.writes++
	return nil
}

func (r *recordingRepo) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	r.writes++
	return nil
}

func newTestHandler(t *testing.T, repo repository.PaymentRepositoryInterface, timeout time.Duration) *WebhookHandler {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	verifier, err := webhook.NewVerifier(testSecret)
	assert.NoError(t, err)

	svc := services.NewWebhookService(repo, nil, nil, logger, nil)
	return NewWebhookHandler(svc, verifier, webhook.NewValidator(nil), logger, testSignatureHeader, timeout, nil)
}

func newTestRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoMethod(MethodNotAllowed)
	router.POST("/webhooks/payment", h.HandleWebhook)
	return router
}

func capturedBody(createdAt int64) []byte {
	return []byte(fmt.Sprintf(`{
		"entity": "event",
		"account_id": "acc_test",
		"event": "payment.captured",
		"contains": ["payment"],
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_123",
					"order_id": "order_abc",
					"amount": 49999,
					"currency": "INR",
					"status": "captured"
				}
			}
		},
		"created_at": %d
	}`, createdAt))
}

func signedRequest(body []byte) *http.Request {
	verifier, _ := webhook.NewVerifier(testSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testSignatureHeader, verifier.Sign(body))
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleWebhook_ValidDeliveryAcknowledged(t *testing.T) {
	repo := &recordingRepo{}
	router := newTestRouter(newTestHandler(t, repo, 25*time.Second))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(capturedBody(time.Now().Unix())))

	assert.Equal(t, http.StatusOK, w.Code)
	var ack models.WebhookAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.True(t, ack.Success)
	assert.Equal(t, "payment.captured", ack.EventType)
}

func TestHandleWebhook_MissingBody(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &recordingRepo{}, 25*time.Second))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	req.Header.Set(testSignatureHeader, "sha256="+strings.Repeat("a", 64))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeMissingBody, decodeError(t, w).Code)
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	repo := &recordingRepo{}
	router := newTestRouter(newTestHandler(t, repo, 25*time.Second))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(capturedBody(time.Now().Unix())))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.CodeMissingSignature, decodeError(t, w).Code)
	assert.Zero(t, repo.reads+repo.writes)
}

func TestHandleWebhook_TamperedSignatureRejectedWithoutWrites(t *testing.T) {
	repo := &recordingRepo{}
	router := newTestRouter(newTestHandler(t, repo, 25*time.Second))

	body := capturedBody(time.Now().Unix())
	req := signedRequest(body)
	// Re-sign over a different body so the digest no longer matches.
	verifier, _ := webhook.NewVerifier(testSecret)
	req.Header.Set(testSignatureHeader, verifier.Sign([]byte(`{"tampered":true}`)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.CodeInvalidSignature, decodeError(t, w).Code)
	assert.Zero(t, repo.reads+repo.writes)
}

func TestHandleWebhook_MalformedJSON(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &recordingRepo{}, 25*time.Second))

	body := []byte(`{"event": "payment.captured",`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeInvalidJSON, decodeError(t, w).Code)
}

func TestHandleWebhook_ValidationErrorsListed(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &recordingRepo{}, 25*time.Second))

	body := []byte(`{"event": "payment.captured"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, models.CodeInvalidPayload, resp.Code)
	assert.NotEmpty(t, resp.Details)
}

func TestHandleWebhook_StaleTimestampRejected(t *testing.T) {
	repo := &recordingRepo{}
	router := newTestRouter(newTestHandler(t, repo, 25*time.Second))

	body := capturedBody(time.Now().Add(-10 * time.Minute).Unix())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeInvalidPayload, decodeError(t, w).Code)
	assert.Zero(t, repo.reads+repo.writes)
}

func TestHandleWebhook_UnknownEventAcknowledged(t *testing.T) {
	repo := &recordingRepo{}
	router := newTestRouter(newTestHandler(t, repo, 25*time.Second))

	body := []byte(fmt.Sprintf(`{
		"entity": "event",
		"account_id": "acc_test",
		"event": "subscription.activated",
		"contains": ["subscription"],
		"payload": {},
		"created_at": %d
	}`, time.Now().Unix()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(body))

	assert.Equal(t, http.StatusOK, w.Code)
	var ack models.WebhookAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.True(t, ack.Success)
	assert.Equal(t, "subscription.activated", ack.EventType)
	assert.Zero(t, repo.reads+repo.writes)
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &recordingRepo{}, 25*time.Second))

	body := bytes.Repeat([]byte("a"), MaxBodyBytes+1)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(testSignatureHeader, "sha256="+strings.Repeat("a", 64))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, models.CodePayloadTooLarge, decodeError(t, w).Code)
}

// slowRepo stalls the first storage call past any test timeout.
type slowRepo struct {
	recordingRepo
}

func (r *slowRepo) WithTransaction(ctx context.Context, fn func(repository.PaymentRepositoryInterface) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHandleWebhook_ProcessingTimeout(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &slowRepo{}, 50*time.Millisecond))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(capturedBody(time.Now().Unix())))

	assert.Equal(t, http.StatusRequestTimeout, w.Code)
	assert.Equal(t, models.CodeProcessingTimeout, decodeError(t, w).Code)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(newTestHandler(t, &recordingRepo{}, 25*time.Second))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/payment", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, models.CodeMethodNotAllowed, decodeError(t, w).Code)
}
