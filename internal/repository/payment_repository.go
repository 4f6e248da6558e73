package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-webhook-service/internal/models"
)

// PaymentRepositoryInterface defines payment data operations. The webhook
// service depends on this interface so tests can substitute a mock.
type PaymentRepositoryInterface interface {
	// WithTransaction runs fn inside one database transaction. Every write fn
	// performs through the passed repository either commits as a unit or not
	// at all.
	WithTransaction(ctx context.Context, fn func(txRepo PaymentRepositoryInterface) error) error

	CreateOrder(ctx context.Context, order *models.PaymentOrder) error
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error)
	UpdateOrder(ctx context.Context, order *models.PaymentOrder) error

	CreateTransactionIfAbsent(ctx context.Context, tx *models.PaymentTransaction) (bool, error)
	GetTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error)
	GetTransactionForUpdate(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	ListStaleAuthorizedTransactions(ctx context.Context, olderThan time.Time) ([]models.PaymentTransaction, error)

	CreateRefundIfAbsent(ctx context.Context, refund *models.PaymentRefund) (bool, error)
	GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error)
	GetRefundForUpdate(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error)
	UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// PaymentRepository handles payment data operations
type PaymentRepository struct {
	db *gorm.DB
}

var _ PaymentRepositoryInterface = (*PaymentRepository)(nil)

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTransaction runs fn in a single database transaction.
func (r *PaymentRepository) WithTransaction(ctx context.Context, fn func(txRepo PaymentRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PaymentRepository{db: tx})
	})
}

// CreateOrder creates a new payment order
func (r *PaymentRepository) CreateOrder(ctx context.Context, order *models.PaymentOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetOrderByID gets a payment order by ID
func (r *PaymentRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayOrderID gets a payment order by its gateway order reference
func (r *PaymentRepository) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder updates a payment order
func (r *PaymentRepository) UpdateOrder(ctx context.Context, order *models.PaymentOrder) error {
	order.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(order).Error
}

// CreateTransactionIfAbsent inserts a payment transaction unless a row with
// the same gateway payment reference already exists. The unique constraint is
// the arbiter: when a concurrent delivery already inserted, this reports
// created=false and the caller takes the update path instead.
func (r *PaymentRepository) CreateTransactionIfAbsent(ctx context.Context, tx *models.PaymentTransaction) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_payment_id"}},
		DoNothing: true,
	}).Create(tx)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetTransactionByGatewayPaymentID gets a transaction by gateway payment reference
func (r *PaymentRepository) GetTransactionByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionForUpdate gets a transaction by gateway payment reference with
// a row-level lock. Must be called inside WithTransaction; the lock serializes
// concurrent deliveries for the same reference.
func (r *PaymentRepository) GetTransactionForUpdate(ctx context.Context, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_payment_id = ?", gatewayPaymentID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateTransaction updates a payment transaction
func (r *PaymentRepository) UpdateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	tx.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(tx).Error
}

// ListStaleAuthorizedTransactions lists transactions still AUTHORIZED after
// olderThan, candidates for the reconciliation sweep.
func (r *PaymentRepository) ListStaleAuthorizedTransactions(ctx context.Context, olderThan time.Time) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.PaymentAuthorized, olderThan).
		Order("updated_at ASC").Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// CreateRefundIfAbsent inserts a refund unless a row with the same gateway
// refund reference exists. Same constraint-as-arbiter discipline as
// CreateTransactionIfAbsent.
func (r *PaymentRepository) CreateRefundIfAbsent(ctx context.Context, refund *models.PaymentRefund) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_refund_id"}},
		DoNothing: true,
	}).Create(refund)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetRefundByGatewayRefundID gets a refund by gateway refund reference
func (r *PaymentRepository) GetRefundByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	err := r.db.WithContext(ctx).Where("gateway_refund_id = ?", gatewayRefundID).First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetRefundForUpdate gets a refund by gateway refund reference with a
// row-level lock. Must be called inside WithTransaction.
func (r *PaymentRepository) GetRefundForUpdate(ctx context.Context, gatewayRefundID string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_refund_id = ?", gatewayRefundID).First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// UpdateRefund updates a refund transaction
func (r *PaymentRepository) UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	refund.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(refund).Error
}

// CreateAuditLog appends an immutable audit entry
func (r *PaymentRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
